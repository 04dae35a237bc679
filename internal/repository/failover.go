package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"studioflow/internal/domain"
)

// Store is the contract shared by the Redis and in-memory implementations.
type Store interface {
	domain.IdempotencyStore
	domain.RateLimiter
}

const recoveryInterval = time.Minute

// FailoverStore uses primary until it errors, then serves from fallback and
// probes primary again once per recoveryInterval.
type FailoverStore struct {
	primary   Store
	fallback  Store
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary store failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary store recovered")
	}
}

func (r *FailoverStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		first, err := r.primary.MarkProcessed(ctx, key, ttl)
		if err == nil {
			r.markUp()
			return first, nil
		}
		r.markDown(err)
	}
	return r.fallback.MarkProcessed(ctx, key, ttl)
}

func (r *FailoverStore) Forget(ctx context.Context, key string) error {
	// the key may live in either store
	_ = r.fallback.Forget(ctx, key)
	if r.usePrimary() {
		if err := r.primary.Forget(ctx, key); err != nil {
			r.markDown(err)
			return nil
		}
		r.markUp()
	}
	return nil
}

func (r *FailoverStore) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
