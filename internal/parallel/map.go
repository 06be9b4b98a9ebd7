// Package parallel runs a function over a sequence with bounded concurrency.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map calls f for every element of seq, at most limit calls at once, and
// yields the results in the order they finish. A limit below one means no
// limit. Leaving the loop early cancels the context passed to the calls still
// running and waits for them.
//
//	for out, err := range parallel.Map(ctx, 4, ids, wait) {}
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq[E], f func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		mapped := make(chan result[D])
		defer func() {
			cancel()
			for range mapped {
			}
		}()

		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}
		go func() {
			defer close(mapped)
			for e := range seq {
				if ctx.Err() != nil {
					break
				}
				g.Go(func() error {
					d, err := f(ctx, e)
					select {
					case mapped <- result[D]{d: d, e: err}:
					case <-ctx.Done():
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		for r := range mapped {
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
