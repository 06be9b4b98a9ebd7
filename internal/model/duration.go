package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrISOFormat      = errors.New("invalid ISO8601 duration")
	ErrDurationFormat = errors.New("invalid duration format")
)

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>[+-]?\d+)H)?(?:(?P<minute>[+-]?\d+)M)?(?:(?P<second>[+-]?\d+(?:[.,]\d+)?)S)?)?$`)

// ParseISODuration parses the subset of ISO 8601 durations used by timer
// schedules: days, hours, minutes and (fractional) seconds.
func ParseISODuration(dur string) (time.Duration, error) {
	if dur == "" || dur == "P" || dur == "PT" {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)
	if match == nil {
		return 0, ErrISOFormat
	}

	// P2M (months) is not supported, minutes require the T designator
	hasT := strings.Contains(dur, "T")
	hasHMS := false

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}

		num, frac, err := splitNumber(part)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			unit = time.Hour
			hasHMS = true
		case "minute":
			if !hasT {
				return 0, ErrISOFormat
			}
			unit = time.Minute
			hasHMS = true
		case "second":
			unit = time.Second
			hasHMS = true
		}
		ret += time.Duration(num) * unit
		if num >= 0 {
			ret += time.Duration(frac * float64(unit))
		} else {
			ret -= time.Duration(frac * float64(unit))
		}
	}

	if hasT && !hasHMS {
		return 0, ErrISOFormat
	}
	return ret, nil
}

func splitNumber(s string) (num int, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	a, b, ok := strings.Cut(s, ".")
	if ok {
		if len(b) > 9 {
			return 0, 0, ErrISOFormat
		}
		f, err := strconv.Atoi(b)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		frac = float64(f) / math.Pow10(len(b))
	}
	num, err = strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, nil
}

var cueDurationRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseCueDuration parses the ordered day/hour/minute/second form accepted by
// the configuration schema, e.g. "1h30m" or "10s".
func ParseCueDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, ErrDurationFormat
	}
	m := cueDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrDurationFormat
	}
	var total time.Duration
	for _, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg[:len(seg)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrDurationFormat, seg)
		}
		var unit time.Duration
		switch seg[len(seg)-1] {
		case 'd':
			unit = 24 * time.Hour
		case 'h':
			unit = time.Hour
		case 'm':
			unit = time.Minute
		case 's':
			unit = time.Second
		}
		if val > int64(math.MaxInt64/unit) {
			return 0, errors.New("duration overflow")
		}
		add := time.Duration(val) * unit
		if total > math.MaxInt64-add {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}
