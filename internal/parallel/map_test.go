package parallel_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mush-sh/mush/internal/parallel"
)

func sleep(ctx context.Context, d time.Duration) (time.Duration, error) {
	select {
	case <-time.After(d):
		return d, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestMap(t *testing.T) {
	t.Parallel()
	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

	var testCases = []struct {
		scenario string
		given    int
		then     time.Duration
	}{
		{"limit 1", 1, 18 * time.Second},
		{"limit 2", 2, 12 * time.Second},
		{"limit 10", 10, 10 * time.Second},
		{"no limit", 0, 10 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				var got []time.Duration
				for d, err := range parallel.Map(t.Context(), tc.given, slices.Values(input), sleep) {
					require.NoError(t, err)
					got = append(got, d)
				}
				require.ElementsMatch(t, input, got)
				require.Equal(t, tc.then, time.Since(start))
			})
		})
	}
}

func TestMapOrder(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		input := []time.Duration{3 * time.Second, 1 * time.Second, 2 * time.Second}
		var got []time.Duration
		for d, err := range parallel.Map(t.Context(), 0, slices.Values(input), sleep) {
			require.NoError(t, err)
			got = append(got, d)
		}
		require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}, got)
	})
}

func TestMapBreak(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		input := []time.Duration{1 * time.Second, 1 * time.Hour, 2 * time.Hour}
		start := time.Now()
		for d, err := range parallel.Map(t.Context(), 0, slices.Values(input), sleep) {
			require.NoError(t, err)
			require.Equal(t, time.Second, d)
			break
		}
		// the calls still running were canceled, not waited for
		require.Equal(t, time.Second, time.Since(start))
	})
}

func TestMapErrors(t *testing.T) {
	t.Parallel()
	errOdd := errors.New("odd")
	f := func(_ context.Context, i int) (int, error) {
		if i%2 == 1 {
			return 0, errOdd
		}
		return i * 10, nil
	}

	var got []int
	var failed int
	for d, err := range parallel.Map(t.Context(), 2, slices.Values([]int{1, 2, 3, 4}), f) {
		if err != nil {
			require.ErrorIs(t, err, errOdd)
			failed++
			continue
		}
		got = append(got, d)
	}
	require.Equal(t, 2, failed)
	require.ElementsMatch(t, []int{20, 40}, got)
}
