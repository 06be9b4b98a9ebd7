package model

import (
	"context"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	shlex "github.com/anmitsu/go-shlex"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultDrainTimeout    = time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version   int              `json:"version" yaml:"version"` // fixed 0 for now
	Service   Service          `json:"service" yaml:"service"`
	Jobs      *Jobs            `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Pipelines []PipelineConfig `json:"pipelines,omitempty" yaml:"pipelines,omitempty"`
}

// Service controls how the configured pipelines are run and where the
// captured output goes.
type Service struct {
	Mode     string         `json:"mode" yaml:"mode"` // "manual" | "timer"
	Verbose  *bool          `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log      *string        `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
	Dir      *string        `json:"dir,omitempty" yaml:"dir,omitempty"` // captured output directory
	Upload   *Upload        `json:"upload,omitempty" yaml:"upload,omitempty"`
	Schedule *TimerSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Upload posts captured output to an HTTP endpoint.
type Upload struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
}

// TimerSchedule is a tagged union, exactly one field is set.
type TimerSchedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"` // ISO 8601, e.g. PT10M
}

// Jobs tunes the job control engine.
type Jobs struct {
	DrainTimeout    *string `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
	ShutdownTimeout *string `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// PipelineConfig describes one named pipeline. Each stage is a command line
// split into words with shell quoting rules.
type PipelineConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Stages  []string `json:"stages" yaml:"stages"`
	Input   string   `json:"input,omitempty" yaml:"input,omitempty"`
	Output  string   `json:"output,omitempty" yaml:"output,omitempty"`
	Capture bool     `json:"capture,omitempty" yaml:"capture,omitempty"`
}

// Pipeline converts the configuration into a Pipeline of literal arguments.
func (p PipelineConfig) Pipeline() (Pipeline, error) {
	ret := Pipeline{
		Commands:      make([]Command, 0, len(p.Stages)),
		InputFile:     p.Input,
		OutputFile:    p.Output,
		CaptureOutput: p.Capture,
	}
	for i, stage := range p.Stages {
		words, err := shlex.Split(stage, true)
		if err != nil {
			return Pipeline{}, fmt.Errorf("pipeline %s: splitting stage %d: %w", p.Name, i, err)
		}
		if len(words) == 0 {
			return Pipeline{}, fmt.Errorf("pipeline %s: stage %d is empty", p.Name, i)
		}
		ret.Commands = append(ret.Commands, Cmd(words...))
	}
	return ret, ret.Validate()
}

// Timeouts returns drain and shutdown timeouts, falling back to defaults.
func (j *Jobs) Timeouts() (drain, shutdown time.Duration, err error) {
	drain, shutdown = DefaultDrainTimeout, DefaultShutdownTimeout
	if j == nil {
		return drain, shutdown, nil
	}
	if j.DrainTimeout != nil {
		drain, err = ParseCueDuration(*j.DrainTimeout)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing jobs.drain_timeout: %w", err)
		}
	}
	if j.ShutdownTimeout != nil {
		shutdown, err = ParseCueDuration(*j.ShutdownTimeout)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing jobs.shutdown_timeout: %w", err)
		}
	}
	return drain, shutdown, nil
}

// DefaultConfig is stored when no configuration file exists yet.
func DefaultConfig(_ context.Context) Config {
	log := LogStderr
	return Config{
		Version: 0,
		Service: Service{
			Mode: ServiceModeManual,
			Log:  &log,
		},
		Pipelines: []PipelineConfig{
			{
				Name:    "hello",
				Stages:  []string{"echo hello", "tr a-z A-Z"},
				Capture: true,
			},
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}
