package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/pulseboard/collab/v1/cache")

// Cache defines the operations of a tag-aware TTL cache layer.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves a value for the given key. The boolean return
	// indicates whether the key was found. An error is returned if
	// retrieving the value fails.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for the given key for the specified TTL.
	// Optional tags associate the entry with invalidation groups.
	Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error
	// Invalidate removes the key from the cache.
	Invalidate(ctx context.Context, key string) error
	// InvalidateTag removes every entry associated with the tag.
	InvalidateTag(ctx context.Context, tag string) error
}

// InMemory is an in-process cache with TTL, LRU eviction and tag groups.
type InMemory[T any] struct {
	mu            sync.Mutex
	items         map[string]item[T]
	order         *list.List
	tags          map[string]map[string]struct{}
	hits          atomic.Uint64
	misses        atomic.Uint64
	sweepInterval time.Duration
	maxEntries    int
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	hitCounter   prometheus.Counter
	missCounter  prometheus.Counter
	traceEnabled bool
}

type item[T any] struct {
	value     T
	expiresAt time.Time
	tags      []string
	element   *list.Element
}

// InMemoryOption configures an InMemory cache.
type InMemoryOption[T any] func(*InMemory[T])

// WithSweepInterval sets the interval at which expired items are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval[T any](d time.Duration) InMemoryOption[T] {
	return func(c *InMemory[T]) {
		c.sweepInterval = d
	}
}

// WithMaxEntries sets the maximum number of entries the cache can hold.
// A non-positive value means the cache size is unbounded.
func WithMaxEntries[T any](n int) InMemoryOption[T] {
	return func(c *InMemory[T]) {
		c.maxEntries = n
	}
}

// WithMetrics enables Prometheus hit/miss counters using the provided registerer.
func WithMetrics[T any](reg prometheus.Registerer) InMemoryOption[T] {
	return func(c *InMemory[T]) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_cache_hits_total",
			Help: "Total number of cache hits",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_cache_misses_total",
			Help: "Total number of cache misses",
		})
		reg.MustRegister(c.hitCounter, c.missCounter)
	}
}

// WithTracing enables OpenTelemetry spans on cache operations.
func WithTracing[T any]() InMemoryOption[T] {
	return func(c *InMemory[T]) {
		c.traceEnabled = true
	}
}

// defaultSweepInterval is short because lock and status entries live for
// seconds, not minutes.
const defaultSweepInterval = 10 * time.Second

// NewInMemory returns a new InMemory cache.
func NewInMemory[T any](opts ...InMemoryOption[T]) *InMemory[T] {
	ctx, cancel := context.WithCancel(context.Background())
	c := &InMemory[T]{
		items:         make(map[string]item[T]),
		order:         list.New(),
		tags:          make(map[string]map[string]struct{}),
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}
	return c
}

// Get implements Cache.Get.
func (c *InMemory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	if c.traceEnabled {
		var sp trace.Span
		ctx, sp = tracer.Start(ctx, "Cache.Get")
		defer sp.End()
		v, ok, err := c.get(ctx, key)
		sp.SetAttributes(attribute.Bool("collab.cache.hit", ok))
		return v, ok, err
	}
	return c.get(ctx, key)
}

func (c *InMemory[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	default:
	}
	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.miss()
		return zero, false, nil
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		c.removeLocked(key, it)
		c.mu.Unlock()
		c.miss()
		return zero, false, nil
	}
	c.order.MoveToFront(it.element)
	c.mu.Unlock()
	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	return it.value, true, nil
}

func (c *InMemory[T]) miss() {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
}

// Set implements Cache.Set.
func (c *InMemory[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.dropTagsLocked(key, it.tags)
		it.value = value
		it.expiresAt = exp
		it.tags = tags
		c.items[key] = it
		c.order.MoveToFront(it.element)
	} else {
		elem := c.order.PushFront(key)
		c.items[key] = item[T]{value: value, expiresAt: exp, tags: tags, element: elem}
		if c.maxEntries > 0 && len(c.items) > c.maxEntries {
			tail := c.order.Back()
			if tail != nil {
				k := tail.Value.(string)
				c.removeLocked(k, c.items[k])
			}
		}
	}
	for _, tag := range tags {
		members, ok := c.tags[tag]
		if !ok {
			members = make(map[string]struct{})
			c.tags[tag] = members
		}
		members[key] = struct{}{}
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (c *InMemory[T]) Invalidate(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.mu.Lock()
	if it, ok := c.items[key]; ok {
		c.removeLocked(key, it)
	}
	c.mu.Unlock()
	return nil
}

// InvalidateTag implements Cache.InvalidateTag.
func (c *InMemory[T]) InvalidateTag(ctx context.Context, tag string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.mu.Lock()
	for key := range c.tags[tag] {
		if it, ok := c.items[key]; ok {
			c.removeLocked(key, it)
		}
	}
	delete(c.tags, tag)
	c.mu.Unlock()
	return nil
}

// removeLocked drops the entry and its tag memberships. Caller holds c.mu.
func (c *InMemory[T]) removeLocked(key string, it item[T]) {
	c.order.Remove(it.element)
	delete(c.items, key)
	c.dropTagsLocked(key, it.tags)
}

func (c *InMemory[T]) dropTagsLocked(key string, tags []string) {
	for _, tag := range tags {
		if members, ok := c.tags[tag]; ok {
			delete(members, key)
			if len(members) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

// sweeper periodically removes expired items. It samples a bounded number
// of entries per pass and repeats only while the expired ratio stays high,
// so the map is never locked for long.
func (c *InMemory[T]) sweeper() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)

	for {
		select {
		case <-ticker.C:
			for {
				expired := 0
				checked := 0
				now := time.Now()

				c.mu.Lock()
				if len(c.items) == 0 {
					c.mu.Unlock()
					break
				}
				for k, it := range c.items {
					checked++
					if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
						c.removeLocked(k, it)
						expired++
					}
					if checked >= sampleSize {
						break
					}
				}
				c.mu.Unlock()

				if float64(expired) < float64(sampleSize)*evictionRatio {
					break
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close terminates the background sweeper and drops all entries.
func (c *InMemory[T]) Close() {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.items = make(map[string]item[T])
	c.tags = make(map[string]map[string]struct{})
	c.order.Init()
	c.mu.Unlock()
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Metrics returns current metrics for the cache.
func (c *InMemory[T]) Metrics() Stats {
	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}
