package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sightline/forensic/job"
)

// Compile-time interface check.
var _ job.Store = (*Store)(nil)

// DefaultResultHistory is the per-job retained result cap.
const DefaultResultHistory = 1000

// DefaultFrameTTL is the expiry applied to stored frame blobs.
const DefaultFrameTTL = 15 * time.Minute

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithResultHistory sets the per-job retained result cap.
func WithResultHistory(n int) Option {
	return func(s *Store) { s.historyCap = n }
}

// WithFrameTTL sets the expiry for stored frame blobs.
func WithFrameTTL(ttl time.Duration) Option {
	return func(s *Store) { s.frameTTL = ttl }
}

// Store implements job.Store backed by Redis.
type Store struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	historyCap int
	frameTTL   time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		logger:     slog.Default(),
		historyCap: DefaultResultHistory,
		frameTTL:   DefaultFrameTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }

// isNil reports whether err is the Redis missing-key sentinel.
func isNil(err error) bool { return errors.Is(err, redis.Nil) }
