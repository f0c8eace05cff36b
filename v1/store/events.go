package store

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InsertEvent appends one collaboration event. Events are write-once.
func InsertEvent(tx *gorm.DB, event *CollaborationEvent) error {
	return tx.Create(event).Error
}

// RecentEvents returns the newest events for a dashboard, newest first.
// Diagnostics only; never called on the hot path.
func RecentEvents(tx *gorm.DB, dashboardID uuid.UUID, limit int) ([]CollaborationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []CollaborationEvent
	err := tx.Where("dashboard_id = ?", dashboardID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
