package collab

import "github.com/google/uuid"

// Cache keys are deterministic per record so any instance computes the
// same key, and every entry carries a resource tag plus a dashboard tag
// for bulk invalidation.
const (
	tagLocks    = "resource:widget_lock"
	tagStatus   = "resource:widget_status"
	tagPresence = "resource:dashboard_sessions"
)

func lockKey(widgetID uuid.UUID) string {
	return "widget_lock:" + widgetID.String()
}

func statusKey(widgetID uuid.UUID) string {
	return "widget_status:" + widgetID.String()
}

func presenceKey(dashboardID uuid.UUID) string {
	return "dashboard_sessions:" + dashboardID.String()
}

func dashboardTag(dashboardID uuid.UUID) string {
	return "entity:dashboard:" + dashboardID.String()
}

func widgetTag(widgetID uuid.UUID) string {
	return "entity:widget:" + widgetID.String()
}
