package leader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mush-sh/mush/internal/jobs"
	"github.com/mush-sh/mush/internal/leader"
)

func plan(stages ...[]string) jobs.Plan {
	return jobs.Plan{Run: uuid.New(), Stages: stages}
}

// run executes s with stdout going to a file and returns what was written.
func run(t *testing.T, s jobs.Plan) (leader.Result, string) {
	t.Helper()
	out, err := os.CreateTemp(t.TempDir(), "stdout")
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })

	res := leader.Run(t.Context(), s, leader.Stdio{Stdout: out})
	b, err := os.ReadFile(out.Name())
	require.NoError(t, err)
	return res, string(b)
}

func TestRun(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    jobs.Plan
		then     leader.Result
		output   string
	}{
		{
			scenario: "single stage",
			given:    plan([]string{"echo", "hello"}),
			then:     leader.Result{ExitCode: 0},
			output:   "hello\n",
		},
		{
			scenario: "two stages",
			given:    plan([]string{"echo", "hello"}, []string{"tr", "a-z", "A-Z"}),
			then:     leader.Result{ExitCode: 0},
			output:   "HELLO\n",
		},
		{
			scenario: "last stage decides",
			given:    plan([]string{"false"}, []string{"sh", "-c", "cat; exit 3"}),
			then:     leader.Result{ExitCode: 3},
		},
		{
			scenario: "failing first stage",
			given:    plan([]string{"false"}, []string{"true"}),
			then:     leader.Result{ExitCode: 0},
		},
		{
			scenario: "last stage not found",
			given:    plan([]string{"echo", "x"}, []string{"/nonexistent/mush-test"}),
			then:     leader.Result{ExitCode: jobs.ExitExecFailed},
		},
		{
			scenario: "invalid",
			given:    plan([]string{}),
			then:     leader.Result{ExitCode: jobs.ExitSetupFailed},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			res, out := run(t, tc.given)
			require.Equal(t, tc.then, res)
			if tc.output != "" {
				require.Equal(t, tc.output, out)
			}
		})
	}
}

func TestRunMiddleStageNotFound(t *testing.T) {
	t.Parallel()
	res, out := run(t, plan(
		[]string{"echo", "x"},
		[]string{"/nonexistent/mush-test"},
		[]string{"wc", "-c"},
	))
	require.Zero(t, res.ExitCode)
	// wc sees end of file right away
	require.Contains(t, out, "0")
}

func TestRunSignaled(t *testing.T) {
	t.Parallel()
	res, _ := run(t, plan([]string{"sh", "-c", "kill -TERM $$"}))
	require.True(t, res.Signaled)
	require.Equal(t, unix.SIGTERM, res.Signal)
	require.Equal(t, 128+int(unix.SIGTERM), res.ExitCode)
}

func TestRunRedirects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("hello world\n"), 0o644))
	require.NoError(t, os.WriteFile(out, []byte("previous content which is longer\n"), 0o644))

	s := plan([]string{"cat"}, []string{"tr", "a-z", "A-Z"})
	s.Input = in
	s.Output = out
	res := leader.Run(context.Background(), s, leader.Stdio{})
	require.Equal(t, leader.Result{}, res)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "HELLO WORLD\n", string(b))
}

func TestRunRedirectFailed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := plan([]string{"cat"})
	s.Input = filepath.Join(dir, "missing")
	res := leader.Run(t.Context(), s, leader.Stdio{})
	require.Equal(t, jobs.ExitRedirectFailed, res.ExitCode)

	s = plan([]string{"echo"})
	s.Output = filepath.Join(dir, "missing", "out.txt")
	res = leader.Run(t.Context(), s, leader.Stdio{})
	require.Equal(t, jobs.ExitRedirectFailed, res.ExitCode)
}
