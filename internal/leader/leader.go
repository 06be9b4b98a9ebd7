// Package leader is the process heading the group of one pipeline.
package leader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/mush-sh/mush/internal/jobs"
	"github.com/mush-sh/mush/internal/log"
)

// Stdio are the streams a pipeline reads from and writes to. Nil streams
// are connected to the null device.
type Stdio struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Result is the outcome of the pipeline as reported by its last stage.
type Result struct {
	ExitCode int
	Signaled bool
	Signal   unix.Signal
}

// Invoked reports whether the process was started as a pipeline leader.
func Invoked() bool {
	_, ok := os.LookupEnv(jobs.LeaderEnv)
	return ok
}

// Main runs the leader and returns the exit code of the process. If the last
// stage died from a signal Main aborts the process instead of returning.
func Main() int {
	fd, err := strconv.Atoi(os.Getenv(jobs.LeaderEnv))
	// stages must not mistake themselves for leaders
	_ = os.Unsetenv(jobs.LeaderEnv)
	if err != nil || fd < 0 {
		fmt.Fprintf(os.Stderr, "mush: invalid %s\n", jobs.LeaderEnv)
		return jobs.ExitSetupFailed
	}

	f := os.NewFile(uintptr(fd), "plan")
	plan, err := jobs.DecodePlan(f)
	_ = f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mush: %s\n", err)
		return jobs.ExitSetupFailed
	}

	slog.SetDefault(log.New(plan.Verbose, os.Stderr))
	ctx := log.ContextAttrs(context.Background(),
		slog.String("run", plan.Run.String()),
		slog.Int("leader", os.Getpid()),
	)

	if err := ensureGroup(); err != nil {
		slog.ErrorContext(ctx, "leader needs its own process group", "error", err)
		return jobs.ExitSetupFailed
	}

	res := Run(ctx, plan, Stdio{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr})
	if res.Signaled {
		slog.DebugContext(ctx, "last stage was killed: aborting", "signal", res.Signal.String())
		abort()
	}
	return res.ExitCode
}

// ensureGroup makes the process the leader of a group unless it already is one.
func ensureGroup() error {
	pid := os.Getpid()
	if unix.Getpgrp() == pid {
		return nil
	}
	return unix.Setpgid(0, 0)
}

type stage struct {
	argv []string
	cmd  *exec.Cmd // nil if the stage never started
}

// Run starts every stage of plan and waits for all of them. Stages end up in
// the process group of the caller. Run closes its copies of all descriptors
// it opened, so a stage sees end of file once its writer is gone.
func Run(ctx context.Context, plan jobs.Plan, stdio Stdio) Result {
	if err := plan.Validate(); err != nil {
		slog.ErrorContext(ctx, "invalid pipeline", "error", err)
		return Result{ExitCode: jobs.ExitSetupFailed}
	}

	in, out := stdio.Stdin, stdio.Stdout
	var owned []*os.File
	defer func() {
		for _, f := range owned {
			_ = f.Close()
		}
	}()

	if plan.Input != "" {
		f, err := os.Open(plan.Input)
		if err != nil {
			slog.ErrorContext(ctx, "opening input", "path", plan.Input, "error", err)
			return Result{ExitCode: jobs.ExitRedirectFailed}
		}
		owned = append(owned, f)
		in = f
	}
	if plan.Output != "" {
		f, err := os.OpenFile(plan.Output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			slog.ErrorContext(ctx, "opening output", "path", plan.Output, "error", err)
			return Result{ExitCode: jobs.ExitRedirectFailed}
		}
		owned = append(owned, f)
		out = f
	}

	pgid := unix.Getpgrp()
	table := jobs.NewTable()
	cmds := make(map[int]*exec.Cmd, len(plan.Stages))
	stages := make([]stage, 0, len(plan.Stages))
	pipeFailed := false

	for i, argv := range plan.Stages {
		last := i == len(plan.Stages)-1
		stdout := out
		var next *os.File
		if !last {
			r, w, err := os.Pipe()
			if err != nil {
				slog.ErrorContext(ctx, "creating pipe", "stage", i, "error", err)
				pipeFailed = true
				break
			}
			next, stdout = r, w
		}

		st := stage{argv: argv}
		cmd := command(argv, in, stdout, stdio.Stderr)
		if err := cmd.Start(); err != nil {
			slog.ErrorContext(ctx, "starting stage", "stage", i, "command", argv[0], "error", err)
		} else {
			st.cmd = cmd
			pid := cmd.Process.Pid
			cmds[pid] = cmd
			if err := table.Insert(jobs.NewStage(pid, pgid, argv)); err != nil {
				slog.WarnContext(ctx, "stage not recorded", "stage", i, "error", err)
			}
			slog.DebugContext(ctx, "stage started", "stage", i, "pid", pid, "argv", argv)
		}
		stages = append(stages, st)

		// the stages own their ends now
		if i > 0 || plan.Input != "" {
			closeFile(in)
		}
		if !last {
			closeFile(stdout)
		}
		in = next
	}
	if pipeFailed && in != nil && in != stdio.Stdin {
		closeFile(in)
	}

	for j := range table.ChildrenOf(pgid) {
		err := cmds[j.ID].Wait()
		ws, ok := waitStatus(cmds[j.ID])
		if !ok {
			slog.ErrorContext(ctx, "waiting for stage", "pid", j.ID, "error", err)
			continue
		}
		j.Status = ws
		if err := j.Advance(jobs.Disposition(ws, false)); err != nil {
			slog.WarnContext(ctx, "stage state not updated", "pid", j.ID, "error", err)
		}
	}
	// stages which are not in the table were never started or collided in it
	for _, st := range stages {
		if st.cmd != nil && st.cmd.ProcessState == nil {
			_ = st.cmd.Wait()
		}
	}

	switch {
	case pipeFailed:
		return Result{ExitCode: jobs.ExitPipeFailed}
	case len(stages) == 0 || stages[len(stages)-1].cmd == nil:
		return Result{ExitCode: jobs.ExitExecFailed}
	}
	ws, ok := waitStatus(stages[len(stages)-1].cmd)
	switch {
	case !ok:
		return Result{ExitCode: jobs.ExitSetupFailed}
	case ws.Signaled():
		return Result{ExitCode: 128 + int(ws.Signal()), Signaled: true, Signal: ws.Signal()}
	default:
		return Result{ExitCode: ws.ExitStatus()}
	}
}

func command(argv []string, stdin, stdout, stderr *os.File) *exec.Cmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	// a nil *os.File must not end up in an io.Reader
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	return cmd
}

func waitStatus(cmd *exec.Cmd) (unix.WaitStatus, bool) {
	if cmd == nil || cmd.ProcessState == nil {
		return 0, false
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	return unix.WaitStatus(ws), ok
}

func closeFile(f *os.File) {
	if f == nil {
		return
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Debug("closing descriptor", "name", f.Name(), "error", err)
	}
}
