package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mush-sh/mush/internal/model"
)

func exited(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func signaled(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "new", New.String())
	require.Equal(t, "running", Running.String())
	require.Equal(t, "completed", Completed.String())
	require.Equal(t, "aborted", Aborted.String())
	require.Equal(t, "canceled", Canceled.String())
	require.Equal(t, "State(42)", State(42).String())
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	j := NewJob(model.Pipeline{Commands: []model.Command{model.Cmd("true")}})
	require.Equal(t, New, j.State)

	require.ErrorIs(t, j.Advance(Completed), ErrTransition)
	require.NoError(t, j.Advance(Running))
	select {
	case <-j.Done():
		t.Fatal("running job is done")
	default:
	}

	require.NoError(t, j.Advance(Canceled))
	<-j.Done()
	require.ErrorIs(t, j.Advance(Running), ErrTransition)
	require.ErrorIs(t, j.Advance(Completed), ErrTransition)
	require.Equal(t, Canceled, j.State)
}

func TestDisposition(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		status   unix.WaitStatus
		canceled bool
		then     State
	}{
		{"exit zero", exited(0), false, Completed},
		{"exit non zero", exited(3), false, Completed},
		{"exit after cancel", exited(0), true, Completed},
		{"killed by cancel", signaled(unix.SIGKILL), true, Canceled},
		{"killed by somebody else", signaled(unix.SIGKILL), false, Aborted},
		{"aborted", signaled(unix.SIGABRT), false, Aborted},
		{"terminated after cancel", signaled(unix.SIGTERM), true, Aborted},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			require.Equal(t, tc.then, Disposition(tc.status, tc.canceled))
		})
	}
}

func TestNewJobOwnsPipeline(t *testing.T) {
	t.Parallel()
	p := model.Pipeline{Commands: []model.Command{model.Cmd("echo", "a")}}
	j := NewJob(p)
	p.Commands[0].Args[1] = model.Literal("b")
	require.Equal(t, "echo a", j.Pipeline.String())
	require.NotEqual(t, NewJob(p).Run, j.Run)
}
