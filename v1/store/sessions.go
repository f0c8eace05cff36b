package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var sessionColumns = []string{
	"session_id", "user_name", "user_email", "client_info",
	"connected_at", "last_activity", "is_active", "locked_widgets",
}

// GetSession returns the session with the given ID, or nil if absent.
func GetSession(tx *gorm.DB, sessionID uuid.UUID) (*UserSession, error) {
	var sess UserSession
	err := tx.First(&sess, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetActiveSession returns the user's active session on the dashboard, or
// nil if none exists.
func GetActiveSession(tx *gorm.DB, dashboardID, userID uuid.UUID) (*UserSession, error) {
	var sess UserSession
	err := tx.First(&sess, "dashboard_id = ? AND user_id = ? AND is_active = ?",
		dashboardID, userID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetAnySession returns the user's session row on the dashboard whether
// active or not.
func GetAnySession(tx *gorm.DB, dashboardID, userID uuid.UUID) (*UserSession, error) {
	var sess UserSession
	err := tx.First(&sess, "dashboard_id = ? AND user_id = ?", dashboardID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpsertSession inserts the session or revives the (dashboard, user) row
// if it is inactive. The conflict guard means an existing *active* row is
// left untouched (RowsAffected == 0); concurrent get-or-create callers
// therefore converge on one active row per pair.
func UpsertSession(tx *gorm.DB, sess *UserSession) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dashboard_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(sessionColumns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "user_sessions", Name: "is_active"}, Value: false},
		}},
	}).Create(sess)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TouchSession bumps the session's activity timestamp.
func TouchSession(tx *gorm.DB, sessionID uuid.UUID, now time.Time) error {
	return tx.Model(&UserSession{}).
		Where("session_id = ?", sessionID).
		Update("last_activity", now).Error
}

// ReviveSession reactivates an inactive session and bumps its activity.
func ReviveSession(tx *gorm.DB, sessionID uuid.UUID, now time.Time) error {
	return tx.Model(&UserSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"is_active":     true,
			"last_activity": now,
		}).Error
}

// SetSessionWidgets replaces the session's denormalized lock set and bumps
// its activity. Must run in the same transaction as the lock mutation it
// mirrors.
func SetSessionWidgets(tx *gorm.DB, sessionID uuid.UUID, widgets WidgetIDs, now time.Time) error {
	return tx.Model(&UserSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"locked_widgets": widgets,
			"last_activity":  now,
		}).Error
}

// DeactivateSession marks the session inactive.
func DeactivateSession(tx *gorm.DB, sessionID uuid.UUID) error {
	return tx.Model(&UserSession{}).
		Where("session_id = ?", sessionID).
		Update("is_active", false).Error
}

// RetireSession marks the session inactive and clears its denormalized
// lock set, without bumping last_activity. Used by cleanup so a retired
// session stays stale.
func RetireSession(tx *gorm.DB, sessionID uuid.UUID) error {
	return tx.Model(&UserSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"is_active":      false,
			"locked_widgets": WidgetIDs{},
		}).Error
}

// ActiveSessionsByDashboard lists all active sessions on a dashboard.
func ActiveSessionsByDashboard(tx *gorm.DB, dashboardID uuid.UUID) ([]UserSession, error) {
	var sessions []UserSession
	err := tx.Where("dashboard_id = ? AND is_active = ?", dashboardID, true).Find(&sessions).Error
	return sessions, err
}

// StaleSessions lists active sessions whose last activity is at or before
// the cutoff.
func StaleSessions(tx *gorm.DB, cutoff time.Time) ([]UserSession, error) {
	var sessions []UserSession
	err := tx.Where("is_active = ? AND last_activity <= ?", true, cutoff).Find(&sessions).Error
	return sessions, err
}
