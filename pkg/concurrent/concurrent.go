package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every item, at most limit at a time (no limit when limit < 1).
// The context passed to action is cancelled on the first error, which is returned.
func ForEach[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		g.Go(func() error {
			return action(gctx, item)
		})
	}
	return g.Wait()
}

// ForEachMute runs action for every item and waits for all of them. A failing item does
// not stop the others; failures are handed to onError, which may run concurrently.
func ForEachMute[T any](ctx context.Context, items []T, action func(context.Context, T) error, onError func(T, error)) {
	var g errgroup.Group
	for _, item := range items {
		g.Go(func() error {
			if err := action(ctx, item); err != nil && onError != nil {
				onError(item, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
