package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WidgetLock is the durable lease record for a widget. There is at most one
// row per widget: acquisitions overwrite the row in place instead of
// inserting a new one, so repeated lock/unlock cycles never race on the
// primary key.
type WidgetLock struct {
	WidgetID      uuid.UUID `gorm:"primaryKey;type:uuid;column:widget_id" json:"widget_id"`
	DashboardID   uuid.UUID `gorm:"index;type:uuid;column:dashboard_id" json:"dashboard_id"`
	SessionID     uuid.UUID `gorm:"index;type:uuid;column:session_id" json:"session_id"`
	UserID        uuid.UUID `gorm:"type:uuid;column:user_id" json:"user_id"`
	UserName      string    `gorm:"column:user_name" json:"user_name"`
	LockedAt      time.Time `gorm:"column:locked_at" json:"locked_at"`
	ExpiresAt     time.Time `gorm:"index;column:expires_at" json:"expires_at"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat" json:"last_heartbeat"`
	IsActive      bool      `gorm:"column:is_active" json:"is_active"`
}

// TableName implements gorm's Tabler.
func (WidgetLock) TableName() string { return "widget_locks" }

// Expired reports whether the lease has passed its expiry. Readers must
// use this rather than IsActive alone: a row can stay marked active until
// the reaper sweeps it.
func (l *WidgetLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining returns the time left on the lease, floored at zero.
func (l *WidgetLock) Remaining(now time.Time) time.Duration {
	d := l.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// HeldBy reports whether the lock is currently held (active, unexpired)
// by the given user.
func (l *WidgetLock) HeldBy(userID uuid.UUID, now time.Time) bool {
	return l.IsActive && !l.Expired(now) && l.UserID == userID
}

// WidgetIDs is a set of widget IDs stored as a JSON array column.
type WidgetIDs []uuid.UUID

// Value implements driver.Valuer.
func (w WidgetIDs) Value() (driver.Value, error) {
	if w == nil {
		w = WidgetIDs{}
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *WidgetIDs) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*w = WidgetIDs{}
		return nil
	case []byte:
		return json.Unmarshal(v, w)
	case string:
		return json.Unmarshal([]byte(v), w)
	default:
		return fmt.Errorf("store: cannot scan %T into WidgetIDs", src)
	}
}

// Has reports whether the set contains id.
func (w WidgetIDs) Has(id uuid.UUID) bool {
	for _, v := range w {
		if v == id {
			return true
		}
	}
	return false
}

// Add returns the set with id included, without duplicates.
func (w WidgetIDs) Add(id uuid.UUID) WidgetIDs {
	if w.Has(id) {
		return w
	}
	return append(append(WidgetIDs{}, w...), id)
}

// Remove returns the set with id excluded.
func (w WidgetIDs) Remove(id uuid.UUID) WidgetIDs {
	out := make(WidgetIDs, 0, len(w))
	for _, v := range w {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// UserSession is one user's editing session on a dashboard. The unique
// index on (dashboard_id, user_id) keeps get-or-create race-safe across
// server instances: concurrent creators converge on the same row.
//
// LockedWidgets is a denormalized view of the WidgetLock rows owned by
// this session, kept for the presence UI. It is only ever mutated in the
// same transaction as the lock row it mirrors.
type UserSession struct {
	SessionID     uuid.UUID `gorm:"primaryKey;type:uuid;column:session_id" json:"session_id"`
	DashboardID   uuid.UUID `gorm:"uniqueIndex:idx_sessions_dashboard_user;type:uuid;column:dashboard_id" json:"dashboard_id"`
	UserID        uuid.UUID `gorm:"uniqueIndex:idx_sessions_dashboard_user;type:uuid;column:user_id" json:"user_id"`
	UserName      string    `gorm:"column:user_name" json:"user_name"`
	UserEmail     string    `gorm:"column:user_email" json:"user_email"`
	ClientInfo    string    `gorm:"column:client_info" json:"client_info"`
	ConnectedAt   time.Time `gorm:"column:connected_at" json:"connected_at"`
	LastActivity  time.Time `gorm:"index;column:last_activity" json:"last_activity"`
	IsActive      bool      `gorm:"column:is_active" json:"is_active"`
	LockedWidgets WidgetIDs `gorm:"type:text;column:locked_widgets" json:"locked_widgets"`
}

// TableName implements gorm's Tabler.
func (UserSession) TableName() string { return "user_sessions" }

// CollaborationEvent is an append-only audit record of lock lifecycle
// events. Never updated, never read on the hot path.
type CollaborationEvent struct {
	EventID     string     `gorm:"primaryKey;column:event_id" json:"event_id"`
	DashboardID uuid.UUID  `gorm:"index;type:uuid;column:dashboard_id" json:"dashboard_id"`
	WidgetID    *uuid.UUID `gorm:"type:uuid;column:widget_id" json:"widget_id,omitempty"`
	UserID      uuid.UUID  `gorm:"type:uuid;column:user_id" json:"user_id"`
	UserName    string     `gorm:"column:user_name" json:"user_name"`
	EventType   string     `gorm:"index;column:event_type" json:"event_type"`
	EventData   string     `gorm:"column:event_data" json:"event_data,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
}

// TableName implements gorm's Tabler.
func (CollaborationEvent) TableName() string { return "collaboration_events" }
