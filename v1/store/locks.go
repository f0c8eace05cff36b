package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockColumns are the fields overwritten when an acquisition reuses the
// widget's existing row.
var lockColumns = []string{
	"dashboard_id", "session_id", "user_id", "user_name",
	"locked_at", "expires_at", "last_heartbeat", "is_active",
}

// GetLock returns the widget's row regardless of state, or nil if the
// widget has never been locked.
func GetLock(tx *gorm.DB, widgetID uuid.UUID) (*WidgetLock, error) {
	var lock WidgetLock
	err := tx.First(&lock, "widget_id = ?", widgetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// GetActiveLock returns the widget's row only if it is marked active.
// Callers must still check expiry themselves.
func GetActiveLock(tx *gorm.DB, widgetID uuid.UUID) (*WidgetLock, error) {
	var lock WidgetLock
	err := tx.First(&lock, "widget_id = ? AND is_active = ?", widgetID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// GetActiveDashboardLock returns the active row for the widget scoped to a
// dashboard, rejecting cross-dashboard lookups.
func GetActiveDashboardLock(tx *gorm.DB, dashboardID, widgetID uuid.UUID) (*WidgetLock, error) {
	var lock WidgetLock
	err := tx.First(&lock, "widget_id = ? AND dashboard_id = ? AND is_active = ?",
		widgetID, dashboardID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// UpsertLock writes the lock row with insert-or-update semantics keyed on
// widget_id. The conflict update carries a guard so the write only wins if
// the existing row is inactive, expired, or already owned by the same
// user. This single statement is the serialization point for concurrent
// acquisitions: of two racing writers, exactly one sees RowsAffected > 0.
func UpsertLock(tx *gorm.DB, lock *WidgetLock, now time.Time) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "widget_id"}},
		DoUpdates: clause.AssignmentColumns(lockColumns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Or(
				clause.Eq{Column: clause.Column{Table: "widget_locks", Name: "is_active"}, Value: false},
				clause.Lte{Column: clause.Column{Table: "widget_locks", Name: "expires_at"}, Value: now},
				clause.Eq{Column: clause.Column{Table: "widget_locks", Name: "user_id"}, Value: lock.UserID},
			),
		}},
	}).Create(lock)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RefreshLock extends the lease and records the heartbeat.
func RefreshLock(tx *gorm.DB, widgetID uuid.UUID, expiresAt, now time.Time) error {
	return tx.Model(&WidgetLock{}).
		Where("widget_id = ?", widgetID).
		Updates(map[string]any{
			"expires_at":     expiresAt,
			"last_heartbeat": now,
		}).Error
}

// DeactivateLock marks the widget's row inactive without deleting it; the
// row is reused by the next acquisition.
func DeactivateLock(tx *gorm.DB, widgetID uuid.UUID) error {
	return tx.Model(&WidgetLock{}).
		Where("widget_id = ?", widgetID).
		Update("is_active", false).Error
}

// DeleteExpiredLocks removes every lock whose lease has passed, active or
// not, and reports how many were removed.
func DeleteExpiredLocks(tx *gorm.DB, now time.Time) (int64, error) {
	res := tx.Where("expires_at <= ?", now).Delete(&WidgetLock{})
	return res.RowsAffected, res.Error
}

// DeleteSessionLocks removes every lock owned by the session and reports
// how many were removed.
func DeleteSessionLocks(tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	res := tx.Where("session_id = ?", sessionID).Delete(&WidgetLock{})
	return res.RowsAffected, res.Error
}

// ActiveLocksByDashboard lists the active lock rows on a dashboard for the
// presence view.
func ActiveLocksByDashboard(tx *gorm.DB, dashboardID uuid.UUID) ([]WidgetLock, error) {
	var locks []WidgetLock
	err := tx.Where("dashboard_id = ? AND is_active = ?", dashboardID, true).Find(&locks).Error
	return locks, err
}

// ActiveLocksByUser lists the user's active locks on a dashboard. Used to
// clean up orphans when a session disappeared under an in-flight client.
func ActiveLocksByUser(tx *gorm.DB, dashboardID, userID uuid.UUID) ([]WidgetLock, error) {
	var locks []WidgetLock
	err := tx.Where("dashboard_id = ? AND user_id = ? AND is_active = ?",
		dashboardID, userID, true).Find(&locks).Error
	return locks, err
}
