package model_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mush-sh/mush/internal/model"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
service:
  mode: timer
  log: stderr
  dir: /var/lib/mush
  upload:
    url: http://localhost:8080
  schedule:
    duration: PT10M
jobs:
  drain_timeout: 2s
pipelines:
  - name: upper
    stages:
      - echo 'hello world'
      - tr a-z A-Z
    capture: true
  - name: copy
    stages: [cat]
    input: in.txt
    output: out.txt
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, model.ServiceModeTimer, cfg.Service.Mode)
	require.NotNil(t, cfg.Service.Log)
	require.Equal(t, model.LogStderr, *cfg.Service.Log)
	require.NotNil(t, cfg.Service.Schedule)
	require.Equal(t, "PT10M", cfg.Service.Schedule.Duration)
	require.NotNil(t, cfg.Service.Upload)
	require.False(t, cfg.Service.Upload.Enabled)
	require.Equal(t, "http://localhost:8080", cfg.Service.Upload.URL)
	require.Len(t, cfg.Pipelines, 2)

	drain, shutdown, err := cfg.Jobs.Timeouts()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, drain)
	require.Equal(t, model.DefaultShutdownTimeout, shutdown)

	upper, err := cfg.Pipelines[0].Pipeline()
	require.NoError(t, err)
	require.True(t, upper.CaptureOutput)
	argv, err := upper.Commands[0].Argv()
	require.NoError(t, err)
	require.Equal(t, []string{"echo", "hello world"}, argv)
	require.Equal(t, "`echo 'hello world' | tr a-z A-Z`", upper.String())

	cp, err := cfg.Pipelines[1].Pipeline()
	require.NoError(t, err)
	require.Equal(t, "cat < in.txt > out.txt", cp.String())
}

func TestLoadConfig_DefaultMode(t *testing.T) {
	cfg, err := model.LoadConfig(strings.NewReader("version: 0\nservice: {}\n"))
	require.NoError(t, err)
	require.Equal(t, model.ServiceModeManual, cfg.Service.Mode)
	require.Nil(t, cfg.Jobs)
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{
			"unknown field",
			"version: 0\nservice:\n  mode: manual\n  colour: red\n",
			"unknown_field",
		},
		{
			"empty stages",
			"version: 0\nservice:\n  mode: manual\npipelines:\n  - name: x\n    stages: []\n",
			"",
		},
		{
			"bad mode",
			"version: 0\nservice:\n  mode: cron\n",
			"",
		},
		{
			"bad timeout",
			"version: 0\nservice: {}\njobs:\n  drain_timeout: soon\n",
			"",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tt.given))
			require.Error(t, err)
			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
			if tt.then == "" {
				return
			}
			codes := make([]string, len(details))
			for i, d := range details {
				codes[i] = d.Code
			}
			require.Contains(t, codes, tt.then)
		})
	}
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	cfg := model.DefaultConfig(context.Background())
	b, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	loaded, err := model.LoadConfig(strings.NewReader(string(b)))
	require.NoError(t, err)
	require.Equal(t, cfg.Service.Mode, loaded.Service.Mode)
	require.Equal(t, cfg.Pipelines, loaded.Pipelines)
}

func TestPipelineConfigErrors(t *testing.T) {
	t.Parallel()
	_, err := model.PipelineConfig{Name: "quote", Stages: []string{"echo 'unterminated"}}.Pipeline()
	require.Error(t, err)

	_, err = model.PipelineConfig{Name: "blank", Stages: []string{"   "}}.Pipeline()
	require.Error(t, err)
}

func TestParseDurations(t *testing.T) {
	t.Parallel()
	type then struct {
		d   time.Duration
		err bool
	}
	var testCases = []struct {
		scenario string
		given    string
		parse    func(string) (time.Duration, error)
		then     then
	}{
		{"iso minutes", "PT10M", model.ParseISODuration, then{10 * time.Minute, false}},
		{"iso day and hour", "P1DT2H", model.ParseISODuration, then{26 * time.Hour, false}},
		{"iso fraction", "PT1.5S", model.ParseISODuration, then{1500 * time.Millisecond, false}},
		{"iso months", "P2M", model.ParseISODuration, then{0, true}},
		{"iso empty T", "PT", model.ParseISODuration, then{0, true}},
		{"cue seconds", "10s", model.ParseCueDuration, then{10 * time.Second, false}},
		{"cue mixed", "1d2h3m4s", model.ParseCueDuration, then{26*time.Hour + 3*time.Minute + 4*time.Second, false}},
		{"cue empty", "", model.ParseCueDuration, then{0, true}},
		{"cue unordered", "3s2m", model.ParseCueDuration, then{0, true}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			d, err := tt.parse(tt.given)
			if tt.then.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.then.d, d)
		})
	}
}
