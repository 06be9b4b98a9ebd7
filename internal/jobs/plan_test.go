package jobs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mush-sh/mush/internal/model"
)

func TestPlanEncodeDecode(t *testing.T) {
	t.Parallel()
	s := Plan{
		Run:     uuid.New(),
		Verbose: true,
		Stages:  [][]string{{"echo", "hello world"}, {"tr", "a-z", "A-Z"}},
		Output:  "/tmp/out",
	}
	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))
	got, err := DecodePlan(&buf)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestDecodePlanFail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
	}{
		{"garbage", "not json"},
		{"no stages", `{"stages": []}`},
		{"empty stage", `{"stages": [[]]}`},
		{"empty command", `{"stages": [["", "x"]]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := DecodePlan(strings.NewReader(tc.given))
			require.Error(t, err)
		})
	}
}

type failing struct{}

func (failing) Eval() (string, error) { return "", model.ErrEmptyPipeline }
func (failing) String() string        { return "$(failing)" }

func TestCompile(t *testing.T) {
	t.Parallel()

	j := NewJob(model.Pipeline{
		Commands:  []model.Command{model.Cmd("cat"), model.Cmd("wc", "-l")},
		InputFile: "in.txt",
	})
	plan, err := compile(j, false)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"cat"}, {"wc", "-l"}}, plan.Stages)
	require.Equal(t, j.Run, plan.Run)
	require.Equal(t, Endpoint{Kind: File, Path: "in.txt"}, j.Stdin)
	require.Equal(t, Endpoint{Kind: Inherit}, j.Stdout)

	// output file wins over capture
	j = NewJob(model.Pipeline{
		Commands:      []model.Command{model.Cmd("date")},
		OutputFile:    "out.txt",
		CaptureOutput: true,
	})
	plan, err = compile(j, false)
	require.NoError(t, err)
	require.False(t, plan.Capture)
	require.Equal(t, "file:out.txt", j.Stdout.String())

	j = NewJob(model.Pipeline{Commands: []model.Command{model.Cmd("date")}, CaptureOutput: true})
	_, err = compile(j, false)
	require.NoError(t, err)
	require.Equal(t, Endpoint{Kind: Capture}, j.Stdout)
	require.Equal(t, "inherit", j.Stdin.String())

	_, err = compile(NewJob(model.Pipeline{}), false)
	require.ErrorIs(t, err, ErrCompile)
	require.ErrorIs(t, err, model.ErrEmptyPipeline)

	_, err = compile(NewJob(model.Pipeline{
		Commands: []model.Command{{Args: []model.Expr{model.Literal("echo"), failing{}}}},
	}), false)
	require.ErrorIs(t, err, ErrCompile)
	require.ErrorContains(t, err, "$(failing)")

	_, err = compile(NewJob(model.Pipeline{
		Commands: []model.Command{model.Cmd("echo"), {Args: []model.Expr{model.Literal(""), model.Literal("x")}}},
	}), false)
	require.ErrorIs(t, err, ErrCompile)
	require.ErrorContains(t, err, "stage 1 has no command")
}
