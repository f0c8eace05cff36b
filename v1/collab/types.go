package collab

import (
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/collab/v1/store"
)

// Requester identifies the user behind a lock or session operation.
type Requester struct {
	UserID     uuid.UUID
	UserName   string
	UserEmail  string
	ClientInfo string
}

// AcquireResult reports the outcome of an acquisition attempt. A denial
// because someone else holds the lock is a Success=false result, not an
// error; errors are reserved for store failures.
type AcquireResult struct {
	Success   bool      `json:"success"`
	WidgetID  uuid.UUID `json:"widget_id"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// HeartbeatResult reports the outcome of a lease renewal.
type HeartbeatResult struct {
	Success   bool      `json:"success"`
	WidgetID  uuid.UUID `json:"widget_id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// LockStatus is the poll view of one widget's lock. CanAcquire is
// computed for the caller passed to GetLockStatus: true when the widget
// is free or the caller already holds it.
type LockStatus struct {
	WidgetID       uuid.UUID  `json:"widget_id"`
	IsLocked       bool       `json:"is_locked"`
	LockedBy       string     `json:"locked_by,omitempty"`
	LockedByUserID *uuid.UUID `json:"locked_by_user_id,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	TimeRemaining  int64      `json:"time_remaining_seconds"`
	CanAcquire     bool       `json:"can_acquire"`
}

// Presence is the combined who-is-here view of a dashboard.
type Presence struct {
	Sessions []store.UserSession `json:"sessions"`
	Locks    []store.WidgetLock  `json:"locks"`
}

// CleanupStats reports what one cleanup pass removed.
type CleanupStats struct {
	ExpiredLocks  int64 `json:"expired_locks"`
	StaleSessions int64 `json:"stale_sessions"`
}
