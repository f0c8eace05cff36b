package collab

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/collab/v1/audit"
	collaberrors "github.com/pulseboard/collab/v1/errors"
	"github.com/pulseboard/collab/v1/metrics"
	"github.com/pulseboard/collab/v1/store"
	"gorm.io/gorm"
)

// getOrCreateSession returns the user's active session on the dashboard,
// creating or reviving the (dashboard, user) row as needed. Runs inside
// the caller's transaction. Concurrent callers converge on one row via
// the conditional upsert; the loser of a race re-reads the winner's row.
func (s *Service) getOrCreateSession(tx *gorm.DB, dashboardID uuid.UUID, req Requester, now time.Time) (*store.UserSession, error) {
	existing, err := store.GetActiveSession(tx, dashboardID, req.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := store.TouchSession(tx, existing.SessionID, now); err != nil {
			return nil, err
		}
		existing.LastActivity = now
		return existing, nil
	}
	sess := &store.UserSession{
		SessionID:     uuid.New(),
		DashboardID:   dashboardID,
		UserID:        req.UserID,
		UserName:      req.UserName,
		UserEmail:     req.UserEmail,
		ClientInfo:    req.ClientInfo,
		ConnectedAt:   now,
		LastActivity:  now,
		IsActive:      true,
		LockedWidgets: store.WidgetIDs{},
	}
	applied, err := store.UpsertSession(tx, sess)
	if err != nil {
		return nil, err
	}
	if applied {
		return sess, nil
	}
	// A concurrent caller activated the row between our read and the
	// upsert. Use theirs.
	winner, err := store.GetActiveSession(tx, dashboardID, req.UserID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, collaberrors.ErrNotFound
	}
	if err := store.TouchSession(tx, winner.SessionID, now); err != nil {
		return nil, err
	}
	winner.LastActivity = now
	return winner, nil
}

// StartEditing opens (or revives) the user's editing session on the
// dashboard and returns its ID.
func (s *Service) StartEditing(ctx context.Context, dashboardID uuid.UUID, req Requester) (uuid.UUID, error) {
	if s.closed.Load() {
		return uuid.Nil, collaberrors.ErrClosed
	}
	now := s.now()
	var sessionID uuid.UUID
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		sess, err := s.getOrCreateSession(tx, dashboardID, req, now)
		if err != nil {
			return err
		}
		sessionID = sess.SessionID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	_ = s.views.InvalidateTag(ctx, dashboardTag(dashboardID))
	s.publishTags(ctx, tagPresence, dashboardTag(dashboardID))
	s.record(ctx, audit.Event{
		DashboardID: dashboardID,
		UserID:      req.UserID,
		UserName:    req.UserName,
		Type:        audit.TypeDashboardEditStarted,
	})
	s.notify(ctx, "edit_started", dashboardID, nil, req)
	return sessionID, nil
}

// StopEditing closes the user's session on the dashboard and releases
// every lock it held. Tolerant of missing sessions: stopping twice, or
// stopping after the reaper already swept the session, still returns
// true, and any lock rows orphaned by that sweep are deactivated.
func (s *Service) StopEditing(ctx context.Context, dashboardID uuid.UUID, req Requester) (bool, error) {
	if s.closed.Load() {
		return false, collaberrors.ErrClosed
	}
	var stopped bool
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		sess, err := store.GetActiveSession(tx, dashboardID, req.UserID)
		if err != nil {
			return err
		}
		if sess != nil {
			if _, err := store.DeleteSessionLocks(tx, sess.SessionID); err != nil {
				return err
			}
			if err := store.RetireSession(tx, sess.SessionID); err != nil {
				return err
			}
			stopped = true
			return nil
		}
		// No active session. The reaper may have retired it while locks
		// acquired just before still linger; deactivate those too.
		orphans, err := store.ActiveLocksByUser(tx, dashboardID, req.UserID)
		if err != nil {
			return err
		}
		for i := range orphans {
			if err := store.DeactivateLock(tx, orphans[i].WidgetID); err != nil {
				return err
			}
		}
		if len(orphans) > 0 {
			slog.Warn("collab: deactivated orphaned locks on stop",
				"dashboard_id", dashboardID, "user_id", req.UserID, "count", len(orphans))
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	_ = s.locks.InvalidateTag(ctx, dashboardTag(dashboardID))
	_ = s.statuses.InvalidateTag(ctx, tagStatus)
	_ = s.views.InvalidateTag(ctx, dashboardTag(dashboardID))
	s.publishTags(ctx, tagPresence, dashboardTag(dashboardID))

	if stopped {
		s.record(ctx, audit.Event{
			DashboardID: dashboardID,
			UserID:      req.UserID,
			UserName:    req.UserName,
			Type:        audit.TypeDashboardEditStopped,
		})
	}
	s.notify(ctx, "edit_stopped", dashboardID, nil, req)
	return true, nil
}

// RefreshEditing bumps the session's activity, the session-level
// heartbeat. An inactive session is revived rather than recreated so the
// client keeps its session ID across a brief disconnect. Returns false
// when no session row exists at all.
func (s *Service) RefreshEditing(ctx context.Context, dashboardID, userID uuid.UUID) (bool, error) {
	if s.closed.Load() {
		return false, collaberrors.ErrClosed
	}
	now := s.now()
	var refreshed bool
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		sess, err := store.GetAnySession(tx, dashboardID, userID)
		if err != nil {
			return err
		}
		if sess == nil {
			return nil
		}
		if sess.IsActive {
			if err := store.TouchSession(tx, sess.SessionID, now); err != nil {
				return err
			}
		} else if err := store.ReviveSession(tx, sess.SessionID, now); err != nil {
			return err
		}
		refreshed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if refreshed {
		_ = s.views.InvalidateTag(ctx, dashboardTag(dashboardID))
	}
	return refreshed, nil
}

// ActiveSessions returns the presence view of a dashboard: active
// sessions and active lock rows. Served from cache within PresenceTTL.
func (s *Service) ActiveSessions(ctx context.Context, dashboardID uuid.UUID) (Presence, error) {
	if s.closed.Load() {
		return Presence{}, collaberrors.ErrClosed
	}
	key := presenceKey(dashboardID)
	if view, ok, _ := s.views.Get(ctx, key); ok {
		return view, nil
	}
	var view Presence
	err := s.store.View(ctx, func(db *gorm.DB) error {
		sessions, err := store.ActiveSessionsByDashboard(db, dashboardID)
		if err != nil {
			return err
		}
		locks, err := store.ActiveLocksByDashboard(db, dashboardID)
		if err != nil {
			return err
		}
		view = Presence{Sessions: sessions, Locks: locks}
		return nil
	})
	if err != nil {
		return Presence{}, err
	}
	metrics.ActiveSessionsGauge.Set(float64(len(view.Sessions)))
	_ = s.views.Set(ctx, key, view, s.cfg.PresenceTTL, tagPresence, dashboardTag(dashboardID))
	return view, nil
}

// Events returns the newest collaboration events for a dashboard, for
// diagnostics.
func (s *Service) Events(ctx context.Context, dashboardID uuid.UUID, limit int) ([]store.CollaborationEvent, error) {
	if s.closed.Load() {
		return nil, collaberrors.ErrClosed
	}
	var events []store.CollaborationEvent
	err := s.store.View(ctx, func(db *gorm.DB) error {
		var err error
		events, err = store.RecentEvents(db, dashboardID, limit)
		return err
	})
	return events, err
}
