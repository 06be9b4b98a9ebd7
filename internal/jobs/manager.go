package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/mush-sh/mush/internal/log"
	"github.com/mush-sh/mush/internal/model"
)

// Config of a Manager. Zero values are replaced by defaults in Open.
type Config struct {
	// LeaderPath is the executable started as pipeline leader, it must call
	// leader.Main when leader.Invoked reports true. Defaults to os.Executable.
	LeaderPath string
	LeaderArgs []string

	// Streams inherited by the pipelines, default to the ones of this process.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// DrainTimeout bounds how long captured output is read after the leader exits.
	DrainTimeout time.Duration
	// ShutdownTimeout bounds how long Close waits for canceled jobs.
	ShutdownTimeout time.Duration

	// Verbose turns on debug logging of the leader processes.
	Verbose bool
}

// Manager owns the job table of the controlling process.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	table  *Table
	notify chan struct{}
	closed bool

	events   chan event
	quit     chan struct{}
	quitOnce sync.Once
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// Info is a snapshot of a job record.
type Info struct {
	ID              int
	PGID            int
	State           State
	Status          unix.WaitStatus
	Pipeline        model.Pipeline
	Stdin           Endpoint
	Stdout          Endpoint
	Run             uuid.UUID
	CancelRequested bool
}

// Open initializes the job control and starts the notification loop. The
// returned Manager must be closed.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.LeaderPath == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating leader executable: %w", err)
		}
		cfg.LeaderPath = path
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = model.DefaultDrainTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = model.DefaultShutdownTimeout
	}

	m := &Manager{
		cfg:      cfg,
		table:    NewTable(),
		notify:   make(chan struct{}),
		events:   make(chan event),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go m.loop()
	slog.DebugContext(ctx, "job control opened", "leader", cfg.LeaderPath)
	return m, nil
}

// Submit compiles the pipeline and starts it. The manager keeps its own deep
// copy of p. The returned id is the pid of the pipeline leader.
func (m *Manager) Submit(ctx context.Context, p model.Pipeline) (int, error) {
	j := NewJob(p)
	plan, err := compile(j, m.cfg.Verbose)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	if err := m.start(j, plan); err != nil {
		return 0, err
	}
	if err := j.Advance(Running); err != nil {
		m.discard(j)
		return 0, err
	}
	if err := m.table.Insert(j); err != nil {
		// a recycled pid still held by a job nobody expunged
		m.discard(j)
		return 0, err
	}

	j.logCtx = log.ContextAttrs(context.WithoutCancel(ctx),
		slog.Int("job_id", j.ID),
		slog.String("run", j.Run.String()),
	)
	m.watch(j)
	slog.InfoContext(j.logCtx, "job submitted", "pgid", j.PGID, "pipeline", j.Pipeline.String())
	return j.ID, nil
}

// discard kills a leader which never made it to the table.
func (m *Manager) discard(j *Job) {
	_ = unix.Kill(-j.PGID, unix.SIGKILL)
	_ = j.cmd.Wait()
	if j.capture != nil {
		_ = j.capture.r.Close()
	}
}

// Wait blocks until the job terminates and returns the raw wait status of
// its leader.
func (m *Manager) Wait(ctx context.Context, id int) (unix.WaitStatus, error) {
	m.mu.Lock()
	j := m.table.Find(id)
	if j == nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	done := j.Done()
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return j.Status, nil
}

// Poll is Wait without blocking: done is false while the job still runs.
func (m *Manager) Poll(id int) (status unix.WaitStatus, done bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.table.Find(id)
	if j == nil {
		return 0, false, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	if !j.State.Terminal() {
		return 0, false, nil
	}
	return j.Status, true, nil
}

// Cancel sends SIGKILL to the process group of the job. It is a request,
// the job becomes Canceled only if its leader is then observed dying from it.
// A running job whose group is already gone accepts the request too and ends
// the way its leader exited.
func (m *Manager) Cancel(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.table.Find(id)
	switch {
	case j == nil:
		return fmt.Errorf("%w: %d", ErrUnknownJob, id)
	case j.State.Terminal():
		return fmt.Errorf("%w: %d", ErrTerminated, id)
	case j.canceled:
		return fmt.Errorf("%w: %d", ErrAlreadyCanceled, id)
	}

	if err := unix.Kill(-j.PGID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", j.PGID, err)
	}
	j.canceled = true
	slog.InfoContext(j.logCtx, "job cancellation requested")
	return nil
}

// Expunge removes a terminated job and releases its resources.
func (m *Manager) Expunge(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expunge(id)
}

func (m *Manager) expunge(id int) error {
	j := m.table.Find(id)
	if j == nil {
		return fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	if !j.State.Terminal() {
		return fmt.Errorf("%w: %d is %s", ErrNotTerminated, id, j.State)
	}
	m.table.Remove(id)
	j.capture = nil
	j.Pipeline = model.Pipeline{}
	slog.DebugContext(j.logCtx, "job expunged")
	return nil
}

// Output returns a copy of the captured output of a completed job. It
// reports false if the job is unknown, did not complete, did not request
// capture or produced nothing.
func (m *Manager) Output(id int) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.table.Find(id)
	if j == nil || j.State != Completed || j.capture == nil || j.capture.buf.Len() == 0 {
		return nil, false
	}
	return bytes.Clone(j.capture.buf.Bytes()), true
}

// Pause blocks until the next notification of any job is processed.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	ch := m.notify
	m.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Show writes the job table, one line per job.
func (m *Manager) Show(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Show(w)
}

func (m *Manager) Info(id int) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.table.Find(id)
	if j == nil {
		return Info{}, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}
	return Info{
		ID:              j.ID,
		PGID:            j.PGID,
		State:           j.State,
		Status:          j.Status,
		Pipeline:        j.Pipeline.Clone(),
		Stdin:           j.Stdin,
		Stdout:          j.Stdout,
		Run:             j.Run,
		CancelRequested: j.canceled,
	}, nil
}

// Close cancels every job which has not terminated yet, waits for the
// cancellations to land, expunges all jobs and stops the notification loop.
// Submit fails with ErrClosed once Close was called. Close may be called
// again when it failed to wait for the jobs.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var pending []int
	for j := range m.table.All() {
		if !j.State.Terminal() {
			pending = append(pending, j.ID)
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range pending {
		g.Go(func() error {
			err := m.Cancel(id)
			if err != nil && !errors.Is(err, ErrTerminated) && !errors.Is(err, ErrAlreadyCanceled) {
				return err
			}
			_, err = m.Wait(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("canceling jobs: %w", err)
	}

	var errs []error
	m.mu.Lock()
	var ids []int
	for j := range m.table.All() {
		ids = append(ids, j.ID)
	}
	for _, id := range ids {
		if err := m.expunge(id); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.quitOnce.Do(func() {
		close(m.quit)
	})
	<-m.loopDone
	slog.DebugContext(ctx, "job control closed")
	return errors.Join(errs...)
}
