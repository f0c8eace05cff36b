package cache

import (
	"context"
	"log/slog"
	"time"
)

// Resilient wraps a Cache implementation and suppresses errors, logging
// them instead of returning them. Cache failures (e.g. Redis down) must
// never reach the lock engine: a failed read is a miss, a failed write is
// a skipped write, and the durable store stays authoritative either way.
type Resilient[T any] struct {
	inner Cache[T]
}

// NewResilient creates a new Resilient wrapper.
func NewResilient[T any](inner Cache[T]) *Resilient[T] {
	return &Resilient[T]{inner: inner}
}

// Get implements Cache.Get, treating backend errors as misses.
func (r *Resilient[T]) Get(ctx context.Context, key string) (T, bool, error) {
	val, ok, err := r.inner.Get(ctx, key)
	if err != nil {
		slog.Warn("collab: cache get failed", "key", key, "error", err)
		var zero T
		return zero, false, nil
	}
	return val, ok, nil
}

// Set implements Cache.Set, treating backend errors as skipped writes.
func (r *Resilient[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	if err := r.inner.Set(ctx, key, value, ttl, tags...); err != nil {
		slog.Warn("collab: cache set failed", "key", key, "error", err)
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (r *Resilient[T]) Invalidate(ctx context.Context, key string) error {
	if err := r.inner.Invalidate(ctx, key); err != nil {
		slog.Warn("collab: cache invalidate failed", "key", key, "error", err)
	}
	return nil
}

// InvalidateTag implements Cache.InvalidateTag.
func (r *Resilient[T]) InvalidateTag(ctx context.Context, tag string) error {
	if err := r.inner.InvalidateTag(ctx, tag); err != nil {
		slog.Warn("collab: cache invalidate tag failed", "tag", tag, "error", err)
	}
	return nil
}
