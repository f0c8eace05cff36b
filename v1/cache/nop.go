package cache

import (
	"context"
	"time"
)

// Nop is a cache that stores nothing. Installing it degrades every status
// poll to a store read, which the engine must tolerate.
type Nop[T any] struct{}

// NewNop returns a new Nop cache.
func NewNop[T any]() Nop[T] { return Nop[T]{} }

// Get implements Cache.Get and always misses.
func (Nop[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	return zero, false, nil
}

// Set implements Cache.Set and discards the value.
func (Nop[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	return nil
}

// Invalidate implements Cache.Invalidate.
func (Nop[T]) Invalidate(ctx context.Context, key string) error { return nil }

// InvalidateTag implements Cache.InvalidateTag.
func (Nop[T]) InvalidateTag(ctx context.Context, tag string) error { return nil }
