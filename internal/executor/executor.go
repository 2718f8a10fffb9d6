// Package executor runs batches of async work items with a hard cap on
// simultaneous in-flight operations while preserving input order.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Run dispatches worker over items with at most maxConcurrency calls in
// flight. Each result is written to a slot addressed by the item's original
// index, so output order matches input order regardless of completion order.
//
// On the first worker error no new work is dispatched and Run returns that
// error, but items already started run to completion rather than being
// force-cancelled: the underlying LLM calls are not safely cancellable
// mid-flight and their cost has already been incurred. maxConcurrency of 1
// degenerates to strict sequential processing; empty input returns an empty
// result immediately.
func Run[T, R any](ctx context.Context, items []T, maxConcurrency int, worker func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	results := make([]R, len(items))
	var failed atomic.Bool

	var g errgroup.Group
	g.SetLimit(maxConcurrency)

	for i, item := range items {
		// Stop dispatching once any worker has failed. Group.Go blocks
		// while the limit is reached, so this check runs at most
		// maxConcurrency dispatches after the first failure.
		if failed.Load() {
			break
		}
		g.Go(func() error {
			res, err := worker(ctx, item)
			if err != nil {
				failed.Store(true)
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
