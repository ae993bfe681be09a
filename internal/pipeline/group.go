package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunGroup runs fn for indexes 0..n-1 with at most limit running at once
// and returns results in index order regardless of completion order. The
// first error cancels the context handed to the remaining calls and is
// returned once every started call has finished.
func RunGroup[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// the parent may have been cancelled before any call started
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
