package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/mush-sh/mush/internal/jobs"
	"github.com/mush-sh/mush/internal/log"
	"github.com/mush-sh/mush/internal/model"
	"github.com/mush-sh/mush/internal/parallel"
)

var (
	ErrRoundInProgress = errors.New("round in progress")
	ErrPipelineFailed  = errors.New("pipeline failed")
)

// Pipeline is a named pipeline the supervisor submits every round.
type Pipeline struct {
	Name     string
	Pipeline model.Pipeline
}

// Outcome is what happened to one pipeline of a round.
type Outcome struct {
	Name     string
	ID       int
	State    jobs.State
	ExitCode int
	Output   []byte
	Err      error
}

func (o Outcome) failed() error {
	switch {
	case o.Err != nil:
		return fmt.Errorf("%s: %w", o.Name, o.Err)
	case o.State != jobs.Completed:
		return fmt.Errorf("%w: %s was %s", ErrPipelineFailed, o.Name, o.State)
	case o.ExitCode != 0:
		return fmt.Errorf("%w: %s exited with %d", ErrPipelineFailed, o.Name, o.ExitCode)
	}
	return nil
}

type Supervisor struct {
	jobs      *jobs.Manager
	pipelines []Pipeline
	sinks     []model.Sink
	oneshot   bool
	scheduler gocron.Scheduler
	start     chan struct{}
	rounds    chan error
}

// NewSupervisor opens the job control and prepares the configured pipelines.
// jcfg may leave the timeouts unset, they are taken from cfg.
func NewSupervisor(ctx context.Context, cfg model.Config, jcfg jobs.Config) (*Supervisor, error) {
	svcCfg := cfg.Service

	pipelines := make([]Pipeline, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p, err := pc.Pipeline()
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(pipelines, func(x Pipeline) bool { return x.Name == pc.Name }) {
			return nil, fmt.Errorf("pipeline %s defined twice", pc.Name)
		}
		pipelines = append(pipelines, Pipeline{Name: pc.Name, Pipeline: p})
	}

	drain, shutdown, err := cfg.Jobs.Timeouts()
	if err != nil {
		return nil, err
	}
	if jcfg.DrainTimeout == 0 {
		jcfg.DrainTimeout = drain
	}
	if jcfg.ShutdownTimeout == 0 {
		jcfg.ShutdownTimeout = shutdown
	}

	supervisor := &Supervisor{
		pipelines: pipelines,
		oneshot:   svcCfg.Mode != model.ServiceModeTimer,
		start:     make(chan struct{}, 1),
		rounds:    make(chan error, 1),
	}
	if !supervisor.oneshot {
		supervisor.scheduler, err = newScheduler(ctx, svcCfg.Schedule, supervisor.Start)
		if err != nil {
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}

	supervisor.sinks, err = sinks(ctx, svcCfg)
	if err != nil {
		supervisor.shutdownScheduler(ctx)
		return nil, fmt.Errorf("initializing sinks: %w", err)
	}

	supervisor.jobs, err = jobs.Open(ctx, jcfg)
	if err != nil {
		supervisor.shutdownScheduler(ctx)
		closeSinks(ctx, supervisor.sinks)
		return nil, err
	}
	return supervisor, nil
}

// WithSinks replaces the configured sinks. It exists for tests.
func (s *Supervisor) WithSinks(ctx context.Context, sinks ...model.Sink) *Supervisor {
	closeSinks(ctx, s.sinks)
	s.sinks = sinks
	return s
}

// Start asks for a new round. It never blocks, a request made while another
// one is pending is dropped.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// Do runs the supervisor event loop until ctx ends. In manual mode it runs
// a single round and returns its error. In timer mode failures are logged
// and rounds overlapping a running one are skipped.
//
// Shutdown order: the running round -> job control -> sinks -> scheduler.
func (s *Supervisor) Do(ctx context.Context) (err error) {
	slog.DebugContext(ctx, "starting a supervisor", "pipelines", len(s.pipelines), "oneshot", s.oneshot)

	if s.scheduler != nil {
		s.scheduler.Start()
	}
	defer s.shutdownScheduler(ctx)
	defer closeSinks(ctx, s.sinks)
	defer func() {
		if cerr := s.jobs.Close(context.WithoutCancel(ctx)); cerr != nil {
			slog.ErrorContext(ctx, "closing job control have failed", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	if s.oneshot {
		s.Start()
	}

	running := false
	defer func() {
		if running {
			<-s.rounds
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
			if running {
				slog.WarnContext(ctx, "cannot start a round: skipping", "error", ErrRoundInProgress)
				continue
			}
			running = true
			go func() {
				s.rounds <- s.round(ctx)
			}()
		case rerr := <-s.rounds:
			running = false
			if s.oneshot {
				return rerr
			}
			if rerr != nil {
				slog.ErrorContext(ctx, "round failed", "error", rerr)
			}
		}
	}
}

// round submits all pipelines, waits for them, stores the captured output
// of the completed ones and expunges them.
func (s *Supervisor) round(ctx context.Context) error {
	started := time.Now()
	ctx = log.ContextAttrs(ctx, slog.String("round", started.UTC().Format(time.RFC3339Nano)))

	var errs []error
	submitted := make([]Outcome, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		id, err := s.jobs.Submit(ctx, p.Pipeline)
		if err != nil {
			errs = append(errs, fmt.Errorf("submitting %s: %w", p.Name, err))
			continue
		}
		submitted = append(submitted, Outcome{Name: p.Name, ID: id})
	}

	for o := range parallel.Map(ctx, 0, slices.Values(submitted), s.collect) {
		attrs := []any{"pipeline", o.Name, "job_id", o.ID, "state", o.State.String(), "exit_code", o.ExitCode}
		if err := o.failed(); err != nil {
			slog.ErrorContext(ctx, "pipeline failed", append(attrs, "error", err)...)
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "pipeline completed", attrs...)
		if len(o.Output) == 0 {
			continue
		}
		if err := s.store(ctx, o.Name, o.Output); err != nil {
			errs = append(errs, err)
		}
	}

	slog.DebugContext(ctx, "round finished", "took", time.Since(started).String())
	return errors.Join(errs...)
}

// collect waits for the job of o and releases it.
func (s *Supervisor) collect(ctx context.Context, o Outcome) (Outcome, error) {
	ws, err := s.jobs.Wait(ctx, o.ID)
	if err != nil {
		o.Err = err
		return o, nil
	}
	info, err := s.jobs.Info(o.ID)
	if err != nil {
		o.Err = err
		return o, nil
	}
	o.State = info.State
	switch {
	case ws.Exited():
		o.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		o.ExitCode = 128 + int(ws.Signal())
	}
	o.Output, _ = s.jobs.Output(o.ID)
	if err := s.jobs.Expunge(o.ID); err != nil {
		slog.WarnContext(ctx, "expunging job", "job_id", o.ID, "error", err)
	}
	return o, nil
}

func (s *Supervisor) store(ctx context.Context, name string, output []byte) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Store(ctx, name, output); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) shutdownScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
	}
	s.scheduler = nil
}

func newScheduler(ctx context.Context, cfgp *model.TimerSchedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, errors.New("service.schedule is missing")
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		if err := ParseCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing service.schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("service.schedule.duration must be positive: %s", cfg.Duration)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(job, gocron.NewTask(startFunc))
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
