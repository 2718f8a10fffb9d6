package lock

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/report-pipeline-service/internal/cache"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	store, err := cache.New(context.Background(), cache.Config{
		Host: mr.Host(),
		Port: port,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewManager(store, zerolog.Nop()), mr
}

// ---------------------------------------------------------------------------
// TestManager_Acquire
// ---------------------------------------------------------------------------

func TestManager_Acquire(t *testing.T) {
	t.Parallel()

	t.Run("first acquire succeeds", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)

		ok, err := m.Acquire(context.Background(), "jobs:1:lock", NewToken(), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("second owner is refused while lock is held", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)
		ctx := context.Background()

		ok, err := m.Acquire(ctx, "jobs:1:lock", "owner-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = m.Acquire(ctx, "jobs:1:lock", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired lock becomes acquirable", func(t *testing.T) {
		t.Parallel()
		m, mr := newTestManager(t)
		ctx := context.Background()

		ok, err := m.Acquire(ctx, "jobs:1:lock", "owner-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Minute)

		ok, err = m.Acquire(ctx, "jobs:1:lock", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("connectivity failure reports state unknown", func(t *testing.T) {
		t.Parallel()
		m, mr := newTestManager(t)
		mr.Close()

		_, err := m.Acquire(context.Background(), "jobs:1:lock", NewToken(), time.Minute)
		require.Error(t, err)
		var unknown *StateUnknownError
		assert.ErrorAs(t, err, &unknown)
	})
}

// ---------------------------------------------------------------------------
// TestManager_Release
// ---------------------------------------------------------------------------

func TestManager_Release(t *testing.T) {
	t.Parallel()

	t.Run("owner releases its own lock", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)
		ctx := context.Background()

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))
		released, err := m.Release(ctx, "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.True(t, released)

		// Lock is gone; a new owner can take it.
		ok, err := m.Acquire(ctx, "jobs:1:lock", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("non-owner cannot release", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)
		ctx := context.Background()

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))
		released, err := m.Release(ctx, "jobs:1:lock", "owner-b")
		require.NoError(t, err)
		assert.False(t, released)

		// The original owner still holds the lock.
		held, err := m.Verify(ctx, "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("releasing an expired lock returns false", func(t *testing.T) {
		t.Parallel()
		m, mr := newTestManager(t)

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))
		mr.FastForward(2 * time.Minute)

		released, err := m.Release(context.Background(), "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.False(t, released)
	})
}

// ---------------------------------------------------------------------------
// TestManager_Extend
// ---------------------------------------------------------------------------

func TestManager_Extend(t *testing.T) {
	t.Parallel()

	t.Run("owner extends its lock TTL", func(t *testing.T) {
		t.Parallel()
		m, mr := newTestManager(t)
		ctx := context.Background()

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))

		// Heartbeat just before expiry keeps the lock alive past its
		// original TTL.
		mr.FastForward(50 * time.Second)
		ok, err := m.Extend(ctx, "jobs:1:lock", "owner-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(50 * time.Second)
		held, err := m.Verify(ctx, "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("non-owner cannot extend", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))
		ok, err := m.Extend(context.Background(), "jobs:1:lock", "owner-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("extending an expired lock returns false", func(t *testing.T) {
		t.Parallel()
		m, mr := newTestManager(t)

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))
		mr.FastForward(2 * time.Minute)

		ok, err := m.Extend(context.Background(), "jobs:1:lock", "owner-a", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// ---------------------------------------------------------------------------
// TestManager_Verify
// ---------------------------------------------------------------------------

func TestManager_Verify(t *testing.T) {
	t.Parallel()

	t.Run("reports ownership without touching TTL", func(t *testing.T) {
		t.Parallel()
		m, mr := newTestManager(t)
		ctx := context.Background()

		require.NoError(t, acquire(t, m, "jobs:1:lock", "owner-a"))

		held, err := m.Verify(ctx, "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.True(t, held)

		held, err = m.Verify(ctx, "jobs:1:lock", "owner-b")
		require.NoError(t, err)
		assert.False(t, held)

		// Verify did not refresh the TTL.
		mr.FastForward(2 * time.Minute)
		held, err = m.Verify(ctx, "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("absent lock is simply not held", func(t *testing.T) {
		t.Parallel()
		m, _ := newTestManager(t)

		held, err := m.Verify(context.Background(), "jobs:1:lock", "owner-a")
		require.NoError(t, err)
		assert.False(t, held)
	})
}

func acquire(t *testing.T, m *Manager, key, token string) error {
	t.Helper()
	ok, err := m.Acquire(context.Background(), key, token, time.Minute)
	if err != nil {
		return err
	}
	require.True(t, ok)
	return nil
}
