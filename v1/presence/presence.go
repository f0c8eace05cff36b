// Package presence streams collaboration changes to connected clients.
//
// Polling GetLockStatus/ActiveSessions stays the source of truth; the
// watch bus only tells clients *that* something changed on a dashboard so
// they can poll immediately instead of waiting for the next interval.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification describes a change on a dashboard.
type Notification struct {
	DashboardID uuid.UUID  `json:"dashboard_id"`
	WidgetID    *uuid.UUID `json:"widget_id,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
	UserName    string     `json:"user_name,omitempty"`
	Kind        string     `json:"kind"`
	At          time.Time  `json:"at"`
}

// Encode marshals the notification for the wire.
func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// WatchBus delivers notifications to watchers of a dashboard.
type WatchBus interface {
	// Publish sends data to all watchers of the dashboard.
	Publish(ctx context.Context, dashboardID uuid.UUID, data []byte) error
	// Watch subscribes to a dashboard's notifications. The returned
	// channel receives payloads until the context is canceled or Unwatch
	// is called.
	Watch(ctx context.Context, dashboardID uuid.UUID) (chan []byte, error)
	// Unwatch stops delivering to ch.
	Unwatch(ctx context.Context, dashboardID uuid.UUID, ch chan []byte) error
}

// InMemory is an in-process WatchBus.
type InMemory struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]chan []byte
}

// NewInMemory creates a new in-process WatchBus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[uuid.UUID][]chan []byte)}
}

// Publish implements WatchBus.Publish.
func (b *InMemory) Publish(ctx context.Context, dashboardID uuid.UUID, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	b.mu.Lock()
	chans := append([]chan []byte(nil), b.subs[dashboardID]...)
	b.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch implements WatchBus.Watch.
func (b *InMemory) Watch(ctx context.Context, dashboardID uuid.UUID) (chan []byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	ch := make(chan []byte, 8)
	b.mu.Lock()
	b.subs[dashboardID] = append(b.subs[dashboardID], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), dashboardID, ch)
	}()
	return ch, nil
}

// Unwatch implements WatchBus.Unwatch.
func (b *InMemory) Unwatch(ctx context.Context, dashboardID uuid.UUID, ch chan []byte) error {
	b.mu.Lock()
	subs := b.subs[dashboardID]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[dashboardID] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, dashboardID)
	}
	b.mu.Unlock()
	return nil
}
