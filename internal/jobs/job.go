package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/mush-sh/mush/internal/model"
)

type EndpointKind int

const (
	Inherit EndpointKind = iota
	File
	Pipe
	Capture
)

// Endpoint describes where a standard stream of a job is connected.
type Endpoint struct {
	Kind EndpointKind
	Path string // File only
}

func (e Endpoint) String() string {
	switch e.Kind {
	case Inherit:
		return "inherit"
	case File:
		return "file:" + e.Path
	case Pipe:
		return "pipe"
	case Capture:
		return "capture"
	default:
		return fmt.Sprintf("Endpoint(%d)", int(e.Kind))
	}
}

// Job is the supervised state of one process taking part in a pipeline.
// For a pipeline leader ID is also the job handle returned by Manager.Submit.
type Job struct {
	ID       int
	PGID     int
	State    State
	Status   unix.WaitStatus
	Pipeline model.Pipeline
	Stdin    Endpoint
	Stdout   Endpoint
	Run      uuid.UUID

	canceled bool
	done     chan struct{}
	capture  *capture
	cmd      *exec.Cmd
	logCtx   context.Context
}

type capture struct {
	buf bytes.Buffer
	r   *os.File
}

// NewJob creates a record in state New owning a deep copy of p.
func NewJob(p model.Pipeline) *Job {
	return &Job{
		State:    New,
		Pipeline: p.Clone(),
		Run:      uuid.New(),
		done:     make(chan struct{}),
		logCtx:   context.Background(),
	}
}

// NewStage creates a running record of a single pipeline stage.
func NewStage(id, pgid int, argv []string) *Job {
	j := NewJob(model.Pipeline{Commands: []model.Command{model.Cmd(argv...)}})
	j.ID = id
	j.PGID = pgid
	j.State = Running
	return j
}

// Advance moves the job forward in its lifecycle. Terminal states close the
// channel returned by Done.
func (j *Job) Advance(to State) error {
	if !allowedTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, j.State, to)
	}
	j.State = to
	if to.Terminal() && j.done != nil {
		close(j.done)
	}
	return nil
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// CancelRequested reports whether a cancellation was accepted for the job.
func (j *Job) CancelRequested() bool {
	return j.canceled
}

// Disposition maps the raw wait status of a process onto a terminal state.
// A SIGKILL counts as cancellation only when one was requested.
func Disposition(ws unix.WaitStatus, canceled bool) State {
	switch {
	case ws.Exited():
		return Completed
	case ws.Signaled() && ws.Signal() == unix.SIGKILL && canceled:
		return Canceled
	default:
		return Aborted
	}
}
