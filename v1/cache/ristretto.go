package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Ristretto implements Cache using dgraph-io/ristretto, for deployments
// that want an admission-controlled local cache instead of plain LRU.
// Tag membership is tracked in a side index; ristretto may evict entries
// on its own, which only leaves harmless stale members in the index.
type Ristretto[T any] struct {
	c *ristretto.Cache

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithRistrettoConfig applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistrettoConfig(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// NewRistretto returns a Cache backed by ristretto.
func NewRistretto[T any](opts ...RistrettoOption) *Ristretto[T] {
	cfg := &ristretto.Config{
		NumCounters: 1e4,     // keys tracked for admission frequency
		MaxCost:     1 << 16, // lock/status records are tiny
		BufferItems: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		panic(err)
	}
	return &Ristretto[T]{c: rc, tags: make(map[string]map[string]struct{})}
}

// Get implements Cache.Get.
func (r *Ristretto[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	default:
	}
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, _ := v.(T)
	return val, true, nil
}

// Set implements Cache.Set.
func (r *Ristretto[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.c.SetWithTTL(key, value, 1, ttl)
	r.c.Wait()
	if len(tags) > 0 {
		r.mu.Lock()
		for _, tag := range tags {
			members, ok := r.tags[tag]
			if !ok {
				members = make(map[string]struct{})
				r.tags[tag] = members
			}
			members[key] = struct{}{}
		}
		r.mu.Unlock()
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (r *Ristretto[T]) Invalidate(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.c.Del(key)
	r.c.Wait()
	return nil
}

// InvalidateTag implements Cache.InvalidateTag.
func (r *Ristretto[T]) InvalidateTag(ctx context.Context, tag string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.mu.Lock()
	members := r.tags[tag]
	delete(r.tags, tag)
	r.mu.Unlock()
	for key := range members {
		r.c.Del(key)
	}
	r.c.Wait()
	return nil
}

// Close releases resources held by the cache.
func (r *Ristretto[T]) Close() {
	r.c.Close()
}
