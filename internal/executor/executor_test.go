package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// TestRun_OrderPreservation
// ---------------------------------------------------------------------------

func TestRun_OrderPreservation(t *testing.T) {
	t.Parallel()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	// Randomized latency makes completion order differ from input order.
	results, err := Run(context.Background(), items, 8, func(ctx context.Context, n int) (string, error) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		return fmt.Sprintf("item-%d", n), nil
	})
	require.NoError(t, err)
	require.Len(t, results, 50)
	for i, got := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), got)
	}
}

// ---------------------------------------------------------------------------
// TestRun_ConcurrencyCap
// ---------------------------------------------------------------------------

func TestRun_ConcurrencyCap(t *testing.T) {
	t.Parallel()

	const limit = 4
	var inFlight, peak int64
	var mu sync.Mutex

	items := make([]int, 40)
	_, err := Run(context.Background(), items, limit, func(ctx context.Context, _ int) (struct{}, error) {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(limit))
	assert.Greater(t, peak, int64(1), "work should actually overlap")
}

// ---------------------------------------------------------------------------
// TestRun_FailFast
// ---------------------------------------------------------------------------

func TestRun_FailFast(t *testing.T) {
	t.Parallel()

	t.Run("first error is returned with its item index", func(t *testing.T) {
		t.Parallel()
		items := []int{0, 1, 2, 3}
		boom := errors.New("boom")

		_, err := Run(context.Background(), items, 1, func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, boom
			}
			return n, nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "item 2")
	})

	t.Run("no new work is dispatched after a failure", func(t *testing.T) {
		t.Parallel()
		var started int64
		items := make([]int, 100)
		for i := range items {
			items[i] = i
		}

		_, err := Run(context.Background(), items, 2, func(ctx context.Context, n int) (int, error) {
			atomic.AddInt64(&started, 1)
			if n == 0 {
				return 0, errors.New("boom")
			}
			time.Sleep(time.Millisecond)
			return n, nil
		})
		require.Error(t, err)
		// With a cap of 2, dispatch stops at most a couple of items past the
		// failure rather than draining all 100.
		assert.Less(t, atomic.LoadInt64(&started), int64(100))
	})

	t.Run("started items run to completion", func(t *testing.T) {
		t.Parallel()
		var completed int64
		items := []int{0, 1}

		_, err := Run(context.Background(), items, 2, func(ctx context.Context, n int) (int, error) {
			if n == 0 {
				return 0, errors.New("boom")
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return n, nil
		})
		require.Error(t, err)
		// Run returned only after the slow sibling finished.
		assert.Equal(t, int64(1), atomic.LoadInt64(&completed))
	})
}

// ---------------------------------------------------------------------------
// TestRun_EdgeCases
// ---------------------------------------------------------------------------

func TestRun_EdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("empty input returns empty results", func(t *testing.T) {
		t.Parallel()
		results, err := Run(context.Background(), []int{}, 8, func(ctx context.Context, n int) (int, error) {
			t.Error("worker should not be called")
			return 0, nil
		})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("zero concurrency degrades to sequential", func(t *testing.T) {
		t.Parallel()
		var inFlight int64
		items := []int{1, 2, 3}

		results, err := Run(context.Background(), items, 0, func(ctx context.Context, n int) (int, error) {
			require.Equal(t, int64(1), atomic.AddInt64(&inFlight, 1))
			defer atomic.AddInt64(&inFlight, -1)
			return n * 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 6}, results)
	})
}
