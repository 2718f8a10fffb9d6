// Package cache provides the Redis-backed key/value store shared by all
// worker processes. Higher-level coordination primitives (locks, atomic
// checkpoints) are built on top of the client it owns.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string
	// Port is the Redis server port.
	Port int
	// Password is the optional Redis credential.
	Password string
	// DB is the logical database index.
	DB int
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// ReadTimeout and WriteTimeout bound individual commands.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxRetries bounds per-command retries so calls fail within a few
	// seconds instead of hanging through a long outage.
	MaxRetries int
	// MinRetryBackoff and MaxRetryBackoff cap the exponential backoff
	// between retries.
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// Addr returns the host:port address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Store is the shared key/value store. It is safe for concurrent use.
type Store struct {
	client *redis.Client
	addr   string
	logger zerolog.Logger
}

// New creates a Store and eagerly verifies connectivity, failing fast on bad
// configuration rather than on first use. Transient connectivity loss after
// construction is handled by the client's capped exponential reconnect
// backoff; each command retries at most cfg.MaxRetries times.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	s := &Store{
		client: client,
		addr:   cfg.Addr(),
		logger: logger.With().Str("component", "cache").Logger(),
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &ConnectionError{Addr: s.addr, Cause: err}
	}

	s.logger.Info().Str("addr", s.addr).Int("db", cfg.DB).Msg("connected to redis")
	return s, nil
}

// Get returns the value at key. The second return value is false when the key
// is absent; absence is not an error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &GetError{Key: key, Cause: err}
	}
	return val, true, nil
}

// Set stores value at key. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &SetError{Key: key, Cause: err}
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &DeleteError{Key: key, Cause: err}
	}
	return nil
}

// HealthCheck verifies store connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &ConnectionError{Addr: s.addr, Cause: err}
	}
	return nil
}

// Client exposes the underlying Redis client to the coordination packages
// that need scripting and pipelining.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
