// Package audit records the collaboration event trail: lock lifecycle and
// session transitions, appended for diagnostics. Every sink is
// best-effort; a failed append is logged by the caller and never rolls
// back the lock operation it describes.
package audit

import (
	"context"
	"encoding/json"
	"time"

	guuid "github.com/google/uuid"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/pulseboard/collab/v1/store"
	"gorm.io/gorm"
)

// Event types written by the lock engine.
const (
	TypeLockAcquired         = "lock_acquired"
	TypeLockReleased         = "lock_released"
	TypeLockReaped           = "lock_reaped"
	TypeDashboardEditStarted = "dashboard_edit_started"
	TypeDashboardEditStopped = "dashboard_edit_stopped"
)

// Event is one collaboration event before persistence.
type Event struct {
	DashboardID guuid.UUID     `json:"dashboard_id"`
	WidgetID    *guuid.UUID    `json:"widget_id,omitempty"`
	UserID      guuid.UUID     `json:"user_id"`
	UserName    string         `json:"user_name"`
	Type        string         `json:"event_type"`
	Data        map[string]any `json:"event_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink accepts collaboration events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// StoreSink persists events as CollaborationEvent rows. Each append runs
// in its own transaction, separate from the lock mutation it describes.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink returns a Sink writing to the given store.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// Record implements Sink.Record.
func (s *StoreSink) Record(ctx context.Context, event Event) error {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return err
	}
	var data string
	if event.Data != nil {
		b, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}
		data = string(b)
	}
	row := &store.CollaborationEvent{
		EventID:     id,
		DashboardID: event.DashboardID,
		WidgetID:    event.WidgetID,
		UserID:      event.UserID,
		UserName:    event.UserName,
		EventType:   event.Type,
		EventData:   data,
		CreatedAt:   event.CreatedAt,
	}
	return s.store.Transaction(ctx, func(tx *gorm.DB) error {
		return store.InsertEvent(tx, row)
	})
}

// Fanout records each event on every sink, returning the first error
// after trying all of them.
type Fanout []Sink

// Record implements Sink.Record.
func (f Fanout) Record(ctx context.Context, event Event) error {
	var first error
	for _, sink := range f {
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards every event.
type Nop struct{}

// Record implements Sink.Record.
func (Nop) Record(ctx context.Context, event Event) error { return nil }
