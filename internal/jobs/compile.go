package jobs

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// compile evaluates the arguments of the job's pipeline and resolves the
// endpoints of the leader record.
func compile(j *Job, verbose bool) (Plan, error) {
	p := j.Pipeline
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	plan := Plan{
		Run:     j.Run,
		Verbose: verbose,
		Stages:  make([][]string, 0, len(p.Commands)),
		Input:   p.InputFile,
		Output:  p.OutputFile,
		// an output file wins over capture
		Capture: p.CaptureOutput && p.OutputFile == "",
	}
	for i, c := range p.Commands {
		argv, err := c.Argv()
		if err != nil {
			return Plan{}, fmt.Errorf("%w: stage %d: %w", ErrCompile, i, err)
		}
		plan.Stages = append(plan.Stages, argv)
	}
	// arguments may evaluate to something the leader refuses
	if err := plan.Validate(); err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	j.Stdin = Endpoint{Kind: Inherit}
	if plan.Input != "" {
		j.Stdin = Endpoint{Kind: File, Path: plan.Input}
	}
	switch {
	case plan.Output != "":
		j.Stdout = Endpoint{Kind: File, Path: plan.Output}
	case plan.Capture:
		j.Stdout = Endpoint{Kind: Capture}
	default:
		j.Stdout = Endpoint{Kind: Inherit}
	}
	return plan, nil
}

// start runs the leader of j in a new process group and hands it the plan.
// The capture pipe exists before the leader does, so no output can be lost.
func (m *Manager) start(j *Job, plan Plan) error {
	var capR, capW *os.File
	if plan.Capture {
		var err error
		capR, capW, err = os.Pipe()
		if err != nil {
			return fmt.Errorf("creating capture pipe: %w", err)
		}
	}

	planR, planW, err := os.Pipe()
	if err != nil {
		closeAll(capR, capW)
		return fmt.Errorf("creating plan pipe: %w", err)
	}

	cmd := exec.Command(m.cfg.LeaderPath, m.cfg.LeaderArgs...)
	cmd.Env = append(os.Environ(), LeaderEnv+"="+strconv.Itoa(leaderFD))
	cmd.Stdin = m.cfg.Stdin
	cmd.Stdout = m.cfg.Stdout
	if capW != nil {
		cmd.Stdout = capW
	}
	cmd.Stderr = m.cfg.Stderr
	cmd.ExtraFiles = []*os.File{planR}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	// the leader owns its copies now
	closeAll(planR, capW)
	if err != nil {
		closeAll(planW, capR)
		return fmt.Errorf("starting leader: %w", err)
	}

	err = plan.Encode(planW)
	if cerr := planW.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		_ = cmd.Wait()
		closeAll(capR)
		return fmt.Errorf("sending pipeline to leader: %w", err)
	}

	j.ID = cmd.Process.Pid
	j.PGID = j.ID
	j.cmd = cmd
	if capR != nil {
		j.capture = &capture{r: capR}
	}
	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
