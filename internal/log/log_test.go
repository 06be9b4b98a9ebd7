package log_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mush-sh/mush/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(false, &buf)

	ctx := log.ContextAttrs(t.Context(), slog.Int("job_id", 42))
	sibling := log.ContextAttrs(ctx, slog.String("run", "a"))
	_ = log.ContextAttrs(ctx, slog.String("run", "b"))

	logger.DebugContext(sibling, "dropped")
	logger.With("pid", 7).InfoContext(sibling, "started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "started", rec["msg"])
	require.EqualValues(t, 42, rec["job_id"])
	require.EqualValues(t, 7, rec["pid"])
	require.Equal(t, "a", rec["run"])
}

func TestOutput(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     io.Writer
	}{
		{"default", "", os.Stderr},
		{"stderr", "stderr", os.Stderr},
		{"stdout", "stdout", os.Stdout},
		{"discard", "discard", io.Discard},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			w, closeFn, err := log.Output(tt.given)
			require.NoError(t, err)
			require.Equal(t, tt.then, w)
			require.NoError(t, closeFn())
		})
	}

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mush.log")
		w, closeFn, err := log.Output(path)
		require.NoError(t, err)
		log.New(true, w).Debug("hello")
		require.NoError(t, closeFn())
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(b), `"msg":"hello"`)
	})
}
