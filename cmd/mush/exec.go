package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/spf13/cobra"

	"github.com/mush-sh/mush/internal/jobs"
	"github.com/mush-sh/mush/internal/log"
	"github.com/mush-sh/mush/internal/model"
)

var (
	flagIn      string
	flagOut     string
	flagCapture bool
	flagShow    bool
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] STAGE...",
	Short: "exec runs one pipeline, each argument is a stage",
	Example: `  mush exec 'echo hello' 'tr a-z A-Z'
  mush exec --in words.txt --capture sort 'uniq -c'`,
	Args: cobra.MinimumNArgs(1),
	RunE: doExec,
}

// exitCode makes main exit with the status of the pipeline.
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("pipeline exited with %d", int(e))
}

func doExec(cmd *cobra.Command, args []string) (err error) {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("mush",
		slog.String("cmd", "exec"),
		slog.Int("pid", os.Getpid()),
	))

	p := model.Pipeline{
		InputFile:     flagIn,
		OutputFile:    flagOut,
		CaptureOutput: flagCapture,
	}
	for i, stage := range args {
		words, err := shlex.Split(stage, true)
		if err != nil {
			return fmt.Errorf("splitting stage %d: %w", i, err)
		}
		if len(words) == 0 {
			return fmt.Errorf("stage %d is empty", i)
		}
		p.Commands = append(p.Commands, model.Cmd(words...))
	}

	drain, shutdown, err := config.Jobs.Timeouts()
	if err != nil {
		return err
	}
	m, err := jobs.Open(ctx, jobs.Config{
		DrainTimeout:    drain,
		ShutdownTimeout: shutdown,
		Verbose:         verbose(),
	})
	if err != nil {
		return err
	}
	defer func() {
		// an interrupted exec still waits for its job to be killed
		if cerr := m.Close(context.WithoutCancel(ctx)); cerr != nil {
			slog.ErrorContext(ctx, "closing job control have failed", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	id, err := m.Submit(ctx, p)
	if err != nil {
		return err
	}
	if flagShow {
		if err := m.Show(cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	ws, err := m.Wait(ctx, id)
	if err != nil {
		return err
	}
	if out, ok := m.Output(id); ok {
		if _, err := cmd.OutOrStdout().Write(out); err != nil {
			return err
		}
	}

	code := 0
	switch {
	case ws.Exited():
		code = ws.ExitStatus()
	case ws.Signaled():
		code = 128 + int(ws.Signal())
	}
	if code != 0 {
		return exitCode(code)
	}
	return nil
}
