// Package lock provides ownership-scoped, TTL-bounded mutual exclusion over
// the shared Redis store. A lock is held by a worker iff the stored value at
// the lock key equals that worker's owner token; expiry is enforced
// server-side, so a crashed worker's lock frees itself.
//
// Every operation is a single atomic server-side command or script, never a
// client-side read followed by a separate write, which eliminates
// check-then-act races between workers.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/report-pipeline-service/internal/cache"
)

// releaseScript deletes the lock only when held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript resets the lock TTL only when held by the caller.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Manager implements distributed locks. It is safe for concurrent use.
type Manager struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewManager creates a lock manager over the shared store.
func NewManager(store *cache.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		client: store.Client(),
		logger: logger.With().Str("component", "lock").Logger(),
	}
}

// NewToken returns a fresh opaque owner token.
func NewToken() string {
	return uuid.NewString()
}

// Acquire attempts to take the lock. It returns true only when no other valid
// lock exists. Connectivity failures are returned as *StateUnknownError and
// never coerced to false: "cannot determine lock state" and "lock not held"
// are different conditions, and conflating them can let two workers both
// believe they hold exclusivity.
func (m *Manager) Acquire(ctx context.Context, key, ownerToken string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, key, ownerToken, ttl).Result()
	if err != nil {
		return false, &StateUnknownError{Op: "acquire", Key: key, Cause: err}
	}
	if ok {
		m.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("lock acquired")
	}
	return ok, nil
}

// Release deletes the lock iff the caller still holds it. It returns false
// when the lock expired or is held by another owner; the key is left intact
// in the latter case.
func (m *Manager) Release(ctx context.Context, key, ownerToken string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{key}, ownerToken).Int64()
	if err != nil {
		return false, &StateUnknownError{Op: "release", Key: key, Cause: err}
	}
	if n == 0 {
		m.logger.Warn().Str("key", key).Msg("release skipped: lock expired or stolen")
		return false, nil
	}
	m.logger.Debug().Str("key", key).Msg("lock released")
	return true, nil
}

// Extend resets the lock TTL iff the caller still holds it (heartbeat). It
// returns false when the lock expired or was stolen.
func (m *Manager) Extend(ctx context.Context, key, ownerToken string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.client, []string{key}, ownerToken, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, &StateUnknownError{Op: "extend", Key: key, Cause: err}
	}
	return n == 1, nil
}

// Verify reports whether the caller currently holds the lock, with no side
// effect on the lock's TTL.
func (m *Manager) Verify(ctx context.Context, key, ownerToken string) (bool, error) {
	val, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, &StateUnknownError{Op: "verify", Key: key, Cause: err}
	}
	return val == ownerToken, nil
}
