// Package syncbus fans invalidation tags out to every server instance.
//
// Each instance keeps local caches of lock and presence records; after a
// mutation commits, the mutating instance publishes the affected tags so
// the others drop their stale copies. Delivery is best-effort: a missed
// message only means an entry lives until its short TTL runs out.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a pub/sub channel carrying cache invalidation tags.
type Bus interface {
	// Publish broadcasts the tag to all subscribers.
	Publish(ctx context.Context, tag string) error
	// Subscribe returns a channel receiving published tags until the
	// context is canceled or the bus is closed.
	Subscribe(ctx context.Context) (<-chan string, error)
	// Close releases the bus's resources.
	Close() error
}

// InMemoryBus is a local implementation of Bus for tests and
// single-process deployments.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      []chan string
	closed    bool
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, tag string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	b.mu.Lock()
	chans := append([]chan string(nil), b.subs...)
	b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	for _, ch := range chans {
		select {
		case ch <- tag:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()
	return ch, nil
}

func (b *InMemoryBus) unsubscribe(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.subs {
		if c == ch {
			b.subs[i] = b.subs[len(b.subs)-1]
			b.subs = b.subs[:len(b.subs)-1]
			close(c)
			return
		}
	}
}

// Close implements Bus.Close.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	return nil
}

// Metrics reports publish/delivery counts.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// Metrics returns current counters for the bus.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
