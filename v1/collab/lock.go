package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/collab/v1/audit"
	collaberrors "github.com/pulseboard/collab/v1/errors"
	"github.com/pulseboard/collab/v1/metrics"
	"github.com/pulseboard/collab/v1/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// AcquireLock takes or renews the lease on a widget for the requesting
// user. The store decides every grant; a cache hit can only short-circuit
// a denial, never a grant. Held-by-someone-else comes back as a
// Success=false result, store failures as errors.
func (s *Service) AcquireLock(ctx context.Context, dashboardID, widgetID uuid.UUID, req Requester, lease time.Duration) (AcquireResult, error) {
	if s.closed.Load() {
		return AcquireResult{WidgetID: widgetID}, collaberrors.ErrClosed
	}
	var sp trace.Span
	if s.traceEnabled {
		ctx, sp = tracer.Start(ctx, "collab.AcquireLock")
		defer sp.End()
		sp.SetAttributes(
			attribute.String("collab.widget_id", widgetID.String()),
			attribute.String("collab.user_id", req.UserID.String()),
		)
	}
	lease = s.clampLease(lease)
	now := s.now()

	// Soft fast path: a fresh cached lock held by someone else is a
	// denial without touching the store. Misses and stale entries fall
	// through to the authoritative check.
	if cached, ok, _ := s.locks.Get(ctx, lockKey(widgetID)); ok {
		if cached.IsActive && !cached.Expired(now) && cached.UserID != req.UserID {
			metrics.LocksDenied.Inc()
			return AcquireResult{
				WidgetID: widgetID,
				Message:  fmt.Sprintf("widget is locked by %s", cached.UserName),
			}, nil
		}
	}

	var (
		lock      store.WidgetLock
		sessionID uuid.UUID
		holder    string
	)
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		existing, err := store.GetLock(tx, widgetID)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsActive && !existing.Expired(now) && existing.UserID != req.UserID {
			holder = existing.UserName
			return collaberrors.ErrLockHeld
		}
		sess, err := s.getOrCreateSession(tx, dashboardID, req, now)
		if err != nil {
			return err
		}
		lock = store.WidgetLock{
			WidgetID:      widgetID,
			DashboardID:   dashboardID,
			SessionID:     sess.SessionID,
			UserID:        req.UserID,
			UserName:      req.UserName,
			LockedAt:      now,
			ExpiresAt:     now.Add(lease),
			LastHeartbeat: now,
			IsActive:      true,
		}
		applied, err := store.UpsertLock(tx, &lock, now)
		if err != nil {
			return err
		}
		if !applied {
			// Lost a concurrent race after the pre-check passed. Re-read
			// for the winner's name; the row may be gone again by now.
			holder = "another user"
			if cur, err := store.GetLock(tx, widgetID); err == nil && cur != nil {
				holder = cur.UserName
			}
			return collaberrors.ErrLockHeld
		}
		if sess.LockedWidgets.Has(widgetID) {
			if err := store.TouchSession(tx, sess.SessionID, now); err != nil {
				return err
			}
		} else if err := store.SetSessionWidgets(tx, sess.SessionID, sess.LockedWidgets.Add(widgetID), now); err != nil {
			return err
		}
		sessionID = sess.SessionID
		return nil
	})
	if errors.Is(err, collaberrors.ErrLockHeld) {
		metrics.LocksDenied.Inc()
		return AcquireResult{
			WidgetID: widgetID,
			Message:  fmt.Sprintf("widget is locked by %s", holder),
		}, nil
	}
	if err != nil {
		return AcquireResult{WidgetID: widgetID}, err
	}

	_ = s.locks.Set(ctx, lockKey(widgetID), lock, s.lockTTL(lease), tagLocks, widgetTag(widgetID), dashboardTag(dashboardID))
	_ = s.statuses.Invalidate(ctx, statusKey(widgetID))
	_ = s.views.InvalidateTag(ctx, dashboardTag(dashboardID))
	s.publishTags(ctx, widgetTag(widgetID), dashboardTag(dashboardID))

	metrics.LocksAcquired.Inc()
	s.record(ctx, audit.Event{
		DashboardID: dashboardID,
		WidgetID:    &widgetID,
		UserID:      req.UserID,
		UserName:    req.UserName,
		Type:        audit.TypeLockAcquired,
		Data:        map[string]any{"expires_at": lock.ExpiresAt},
	})
	s.notify(ctx, "widget_locked", dashboardID, &widgetID, req)

	return AcquireResult{
		Success:   true,
		WidgetID:  widgetID,
		SessionID: sessionID,
		ExpiresAt: lock.ExpiresAt,
	}, nil
}

// RefreshLock extends the caller's lease by another period, the
// heartbeat path. Renewal is store-authoritative: the cached copy is
// never trusted to prove ownership. The owning session's activity is
// bumped in the same transaction so an actively editing user is never
// reaped as idle.
func (s *Service) RefreshLock(ctx context.Context, widgetID, userID uuid.UUID, lease time.Duration) (HeartbeatResult, error) {
	if s.closed.Load() {
		return HeartbeatResult{WidgetID: widgetID}, collaberrors.ErrClosed
	}
	var sp trace.Span
	if s.traceEnabled {
		ctx, sp = tracer.Start(ctx, "collab.RefreshLock")
		defer sp.End()
		sp.SetAttributes(attribute.String("collab.widget_id", widgetID.String()))
	}
	lease = s.clampLease(lease)
	now := s.now()

	var (
		lock        store.WidgetLock
		dashboardID uuid.UUID
		message     string
	)
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		existing, err := store.GetActiveLock(tx, widgetID)
		if err != nil {
			return err
		}
		if existing == nil {
			message = "no lock found for widget"
			return collaberrors.ErrNotFound
		}
		if existing.UserID != userID {
			message = "lock is held by another user"
			return collaberrors.ErrNotOwner
		}
		if existing.Expired(now) {
			message = "lock has expired"
			return collaberrors.ErrExpired
		}
		if err := store.RefreshLock(tx, widgetID, now.Add(lease), now); err != nil {
			return err
		}
		if err := store.TouchSession(tx, existing.SessionID, now); err != nil {
			return err
		}
		lock = *existing
		lock.ExpiresAt = now.Add(lease)
		lock.LastHeartbeat = now
		dashboardID = existing.DashboardID
		return nil
	})
	switch {
	case errors.Is(err, collaberrors.ErrNotFound),
		errors.Is(err, collaberrors.ErrNotOwner),
		errors.Is(err, collaberrors.ErrExpired):
		return HeartbeatResult{WidgetID: widgetID, Message: message}, nil
	case err != nil:
		return HeartbeatResult{WidgetID: widgetID}, err
	}

	_ = s.locks.Set(ctx, lockKey(widgetID), lock, s.lockTTL(lease), tagLocks, widgetTag(widgetID), dashboardTag(dashboardID))
	_ = s.statuses.Invalidate(ctx, statusKey(widgetID))
	s.publishTags(ctx, widgetTag(widgetID))

	return HeartbeatResult{
		Success:   true,
		WidgetID:  widgetID,
		ExpiresAt: lock.ExpiresAt,
	}, nil
}

// ReleaseLock drops the caller's lock on a widget. Releasing a widget
// that has no active lock on the dashboard succeeds (the client may have
// raced the reaper); releasing someone else's lock is refused.
func (s *Service) ReleaseLock(ctx context.Context, dashboardID, widgetID uuid.UUID, req Requester) (bool, error) {
	if s.closed.Load() {
		return false, collaberrors.ErrClosed
	}
	var sp trace.Span
	if s.traceEnabled {
		ctx, sp = tracer.Start(ctx, "collab.ReleaseLock")
		defer sp.End()
		sp.SetAttributes(attribute.String("collab.widget_id", widgetID.String()))
	}
	now := s.now()

	var released bool
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		existing, err := store.GetActiveDashboardLock(tx, dashboardID, widgetID)
		if err != nil {
			return err
		}
		if existing == nil {
			// Already gone. Idempotent success.
			return nil
		}
		if existing.UserID != req.UserID {
			return collaberrors.ErrNotOwner
		}
		if err := store.DeactivateLock(tx, widgetID); err != nil {
			return err
		}
		sess, err := store.GetSession(tx, existing.SessionID)
		if err != nil {
			return err
		}
		if sess != nil && sess.LockedWidgets.Has(widgetID) {
			if err := store.SetSessionWidgets(tx, sess.SessionID, sess.LockedWidgets.Remove(widgetID), now); err != nil {
				return err
			}
		}
		released = true
		return nil
	})
	if errors.Is(err, collaberrors.ErrNotOwner) {
		slog.Warn("collab: release refused, caller does not own the lock",
			"dashboard_id", dashboardID, "widget_id", widgetID, "user_id", req.UserID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_ = s.locks.Invalidate(ctx, lockKey(widgetID))
	_ = s.statuses.Invalidate(ctx, statusKey(widgetID))
	_ = s.views.InvalidateTag(ctx, dashboardTag(dashboardID))
	s.publishTags(ctx, widgetTag(widgetID), dashboardTag(dashboardID))

	if released {
		metrics.LocksReleased.Inc()
		s.record(ctx, audit.Event{
			DashboardID: dashboardID,
			WidgetID:    &widgetID,
			UserID:      req.UserID,
			UserName:    req.UserName,
			Type:        audit.TypeLockReleased,
		})
		s.notify(ctx, "widget_unlocked", dashboardID, &widgetID, req)
	}
	return true, nil
}

// GetLockStatus returns the poll view of a widget's lock. Responses are
// cached briefly and concurrent misses collapse into one store read, so
// a dashboard full of polling clients costs one query per TTL window.
func (s *Service) GetLockStatus(ctx context.Context, widgetID, currentUserID uuid.UUID) (LockStatus, error) {
	if s.closed.Load() {
		return LockStatus{}, collaberrors.ErrClosed
	}
	key := statusKey(widgetID)
	if st, ok, _ := s.statuses.Get(ctx, key); ok {
		return s.forUser(st, currentUserID), nil
	}
	v, err, _ := s.sf.Do(key, func() (any, error) {
		now := s.now()
		st := LockStatus{WidgetID: widgetID, CanAcquire: true}
		err := s.store.View(ctx, func(db *gorm.DB) error {
			lock, err := store.GetActiveLock(db, widgetID)
			if err != nil {
				return err
			}
			if lock == nil || lock.Expired(now) {
				return nil
			}
			userID := lock.UserID
			lockedAt := lock.LockedAt
			expiresAt := lock.ExpiresAt
			st = LockStatus{
				WidgetID:       widgetID,
				IsLocked:       true,
				LockedBy:       lock.UserName,
				LockedByUserID: &userID,
				LockedAt:       &lockedAt,
				ExpiresAt:      &expiresAt,
				TimeRemaining:  int64(lock.Remaining(now) / time.Second),
			}
			return nil
		})
		if err != nil {
			return LockStatus{}, err
		}
		_ = s.statuses.Set(ctx, key, st, s.cfg.StatusTTL, tagStatus, widgetTag(widgetID))
		return st, nil
	})
	if err != nil {
		return LockStatus{}, err
	}
	return s.forUser(v.(LockStatus), currentUserID), nil
}

// forUser derives the caller-specific CanAcquire bit. The cached status
// is user-neutral so one entry serves every poller.
func (s *Service) forUser(st LockStatus, userID uuid.UUID) LockStatus {
	st.CanAcquire = !st.IsLocked || (st.LockedByUserID != nil && *st.LockedByUserID == userID)
	return st
}
