package jobs

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type eventKind int

const (
	evOutput eventKind = iota
	evExit
)

// event is what the watch and drain goroutines report to the event loop.
type event struct {
	kind   eventKind
	id     int
	chunk  []byte
	status unix.WaitStatus
	reaped bool
	err    error
}

const drainChunk = 4096

// watch arms the notifier for a freshly inserted leader record. It must be
// called with m.mu held.
func (m *Manager) watch(j *Job) {
	id, cmd, capt, ctx := j.ID, j.cmd, j.capture, j.logCtx

	var drained chan struct{}
	if capt != nil {
		drained = make(chan struct{})
		r := capt.r
		m.wg.Go(func() {
			defer close(drained)
			m.drain(id, r)
		})
	}

	m.wg.Go(func() {
		err := cmd.Wait()
		if drained != nil {
			select {
			case <-drained:
			case <-time.After(m.cfg.DrainTimeout):
				slog.WarnContext(ctx, "capture pipe still open after leader exit: closing", "timeout", m.cfg.DrainTimeout)
				_ = capt.r.Close()
				<-drained
			}
		}
		ev := event{kind: evExit, id: id, err: err}
		if cmd.ProcessState != nil {
			if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
				ev.status = unix.WaitStatus(ws)
				ev.reaped = true
			}
		}
		m.events <- ev
	})
}

// drain copies the capture pipe into events until every writer is gone.
func (m *Manager) drain(id int, r *os.File) {
	defer func() {
		_ = r.Close()
	}()
	buf := make([]byte, drainChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.events <- event{kind: evOutput, id: id, chunk: bytes.Clone(buf[:n])}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("reading captured output", "job_id", id, "error", err)
			}
			return
		}
	}
}

// loop is the only place where asynchronous notifications reach the table.
func (m *Manager) loop() {
	defer close(m.loopDone)
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.broadcast()

	j := m.table.Find(ev.id)
	if j == nil {
		slog.Warn("notification for unknown job: ignoring", "job_id", ev.id)
		return
	}

	switch ev.kind {
	case evOutput:
		if j.capture == nil || j.State.Terminal() {
			return
		}
		j.capture.buf.Write(ev.chunk)
	case evExit:
		m.terminate(j, ev)
	}
}

func (m *Manager) terminate(j *Job, ev event) {
	ctx := j.logCtx
	to := Aborted
	if ev.reaped {
		j.Status = ev.status
		to = Disposition(ev.status, j.canceled)
	} else {
		slog.ErrorContext(ctx, "waiting for leader failed", "error", ev.err)
	}
	var exitErr *exec.ExitError
	if ev.err != nil && !errors.As(ev.err, &exitErr) {
		slog.WarnContext(ctx, "leader wait returned", "error", ev.err)
	}

	if err := j.Advance(to); err != nil {
		slog.ErrorContext(ctx, "job state not updated", "error", err)
		return
	}
	// captured output is only ever observable for completed jobs
	if to != Completed && j.capture != nil {
		j.capture.buf = bytes.Buffer{}
	}
	j.cmd = nil

	attrs := []any{"state", j.State.String()}
	switch {
	case j.Status.Exited():
		attrs = append(attrs, "exit_code", j.Status.ExitStatus())
	case j.Status.Signaled():
		attrs = append(attrs, "signal", j.Status.Signal().String())
	}
	slog.InfoContext(ctx, "job terminated", attrs...)
}

// broadcast wakes up everybody blocked in Pause. It must be called with m.mu held.
func (m *Manager) broadcast() {
	close(m.notify)
	m.notify = make(chan struct{})
}
