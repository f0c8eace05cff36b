package syncbus

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// defaultChannel is the pub/sub channel shared by all instances.
const defaultChannel = "collab:invalidations"

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	cancel []context.CancelFunc
}

// NewRedisBus returns a new RedisBus using the provided client. An empty
// channel selects the default.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, tag string) error {
	return b.client.Publish(ctx, b.channel, tag).Err()
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()

	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- msg.Payload:
				default:
				}
			case <-sctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close implements Bus.Close.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	cancels := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}
