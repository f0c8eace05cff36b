package syncbus

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

// defaultSubject is the NATS subject shared by all instances.
const defaultSubject = "collab.invalidations"

// NATSBus implements Bus using a NATS connection.
type NATSBus struct {
	conn    *nats.Conn
	subject string

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection. An
// empty subject selects the default.
func NewNATSBus(conn *nats.Conn, subject string) *NATSBus {
	if subject == "" {
		subject = defaultSubject
	}
	return &NATSBus{conn: conn, subject: subject}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, tag string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return b.conn.Publish(b.subject, []byte(tag))
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		select {
		case ch <- string(msg.Data):
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(ch)
	}()
	return ch, nil
}

// Close implements Bus.Close.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return nil
}
