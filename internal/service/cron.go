package service

import (
	"errors"
	"strings"

	"github.com/robfig/cron/v3"
)

var cron5 = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a 5 field cron expression or a descriptor like
// @hourly or @every 5m.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}
	_, err := cron5.Parse(e)
	return err
}
