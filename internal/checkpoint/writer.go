// Package checkpoint provides atomic multi-key mutation over the shared
// store. Its lock-gated variant runs ownership verification and the whole
// batch inside one server-side script, closing the TOCTOU window between "I
// checked I still hold the lock" and "I wrote the checkpoint": without that
// atomicity a lock can expire and be stolen in the gap and the stale writer
// would still corrupt shared state.
package checkpoint

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/report-pipeline-service/internal/cache"
)

// FailureReason classifies why a lock-gated write was refused.
type FailureReason string

const (
	// ReasonLockExpired means the lock key no longer exists.
	ReasonLockExpired FailureReason = "lock_expired"
	// ReasonLockStolen means the lock exists but is held by another owner.
	ReasonLockStolen FailureReason = "lock_stolen"
)

// SetOp is a single key write within a batch. A zero TTL means no expiry.
type SetOp struct {
	Key   string
	Value string
	TTL   time.Duration
}

// WriteResult reports the outcome of a lock-gated batch write.
type WriteResult struct {
	Success bool
	Reason  FailureReason
}

// guardedBatchScript verifies lock ownership and applies every set and delete
// as one atomic unit. ARGV layout: owner token, set-op count, optional lock
// TTL extension in milliseconds, then (value, ttlMillis) pairs. KEYS layout:
// lock key, set-op keys, delete keys.
var guardedBatchScript = redis.NewScript(`
local owner = redis.call("get", KEYS[1])
if owner == false then
	return "lock_expired"
end
if owner ~= ARGV[1] then
	return "lock_stolen"
end
local nset = tonumber(ARGV[2])
for i = 1, nset do
	local ttl = tonumber(ARGV[2*i + 3])
	if ttl > 0 then
		redis.call("set", KEYS[i + 1], ARGV[2*i + 2], "px", ttl)
	else
		redis.call("set", KEYS[i + 1], ARGV[2*i + 2])
	end
end
for i = nset + 2, #KEYS do
	redis.call("del", KEYS[i])
end
local extend = tonumber(ARGV[3])
if extend > 0 then
	redis.call("pexpire", KEYS[1], extend)
end
return "ok"
`)

// incrScript increments a counter and refreshes its TTL in the same step.
var incrScript = redis.NewScript(`
local v = redis.call("incr", KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 then
	redis.call("pexpire", KEYS[1], ttl)
end
return v
`)

// Config holds checkpoint writer policy.
type Config struct {
	// LockExtension, when positive, refreshes the lock TTL inside every
	// successful lock-gated write ("heartbeat-on-write"). Zero leaves
	// heartbeating entirely to the caller's explicit Extend calls.
	LockExtension time.Duration
}

// Writer applies atomic checkpoint batches. It is safe for concurrent use.
type Writer struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// NewWriter creates a checkpoint writer over the shared store.
func NewWriter(store *cache.Store, cfg Config, logger zerolog.Logger) *Writer {
	return &Writer{
		client: store.Client(),
		cfg:    cfg,
		logger: logger.With().Str("component", "checkpoint").Logger(),
	}
}

// SetMultipleWithLockVerification applies every set and delete as one atomic
// unit, but only after verifying inside the same script that lockKey is still
// held by ownerToken. A refused write reports whether the lock expired or was
// stolen; connectivity failures are returned as errors and never reported as
// a refusal.
func (w *Writer) SetMultipleWithLockVerification(ctx context.Context, lockKey, ownerToken string, sets []SetOp, deleteKeys []string) (WriteResult, error) {
	keys := make([]string, 0, 1+len(sets)+len(deleteKeys))
	keys = append(keys, lockKey)
	args := make([]interface{}, 0, 3+2*len(sets))
	args = append(args, ownerToken, len(sets), w.cfg.LockExtension.Milliseconds())
	for _, op := range sets {
		keys = append(keys, op.Key)
		args = append(args, op.Value, op.TTL.Milliseconds())
	}
	keys = append(keys, deleteKeys...)

	res, err := guardedBatchScript.Run(ctx, w.client, keys, args...).Text()
	if err != nil {
		return WriteResult{}, &cache.SetError{Key: lockKey, Cause: err}
	}

	switch res {
	case "ok":
		return WriteResult{Success: true}, nil
	case string(ReasonLockExpired):
		w.logger.Warn().Str("lock_key", lockKey).Msg("checkpoint refused: lock expired")
		return WriteResult{Reason: ReasonLockExpired}, nil
	default:
		w.logger.Warn().Str("lock_key", lockKey).Msg("checkpoint refused: lock stolen")
		return WriteResult{Reason: ReasonLockStolen}, nil
	}
}

// SetMultiple applies every set and delete as one atomic batch without lock
// gating, for callers that hold exclusivity by other means.
func (w *Writer) SetMultiple(ctx context.Context, sets []SetOp, deleteKeys []string) error {
	pipe := w.client.TxPipeline()
	for _, op := range sets {
		pipe.Set(ctx, op.Key, op.Value, op.TTL)
	}
	for _, key := range deleteKeys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &cache.SetError{Key: batchKeyLabel(sets, deleteKeys), Cause: err}
	}
	return nil
}

// Increment atomically increments the counter at key and, when ttl is
// positive, refreshes its expiry in the same step. It returns the new value.
func (w *Writer) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := incrScript.Run(ctx, w.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, &cache.SetError{Key: key, Cause: err}
	}
	return v, nil
}

// batchKeyLabel picks a representative key for error reporting.
func batchKeyLabel(sets []SetOp, deleteKeys []string) string {
	if len(sets) > 0 {
		return sets[0].Key
	}
	if len(deleteKeys) > 0 {
		return deleteKeys[0]
	}
	return ""
}
