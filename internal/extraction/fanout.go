package extraction

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// mapOrdered runs fn over items with at most limit calls in flight and returns
// the results in input order, however they complete.
func mapOrdered[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) R) []R {
	out := make([]R, len(items))
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
