package collab

import (
	"context"

	"github.com/pulseboard/collab/v1/audit"
	collaberrors "github.com/pulseboard/collab/v1/errors"
	"github.com/pulseboard/collab/v1/metrics"
	"github.com/pulseboard/collab/v1/store"
	"gorm.io/gorm"
)

// Cleanup deletes expired locks and retires idle sessions in one
// transaction, and reports what it removed. Expired locks go
// unconditionally; a session goes stale when its last activity is older
// than SessionTimeout, and its remaining locks are deleted with it.
// Invoked by the reaper but safe to call directly.
func (s *Service) Cleanup(ctx context.Context) (CleanupStats, error) {
	if s.closed.Load() {
		return CleanupStats{}, collaberrors.ErrClosed
	}
	now := s.now()
	cutoff := now.Add(-s.cfg.SessionTimeout)

	var (
		stats CleanupStats
		stale []store.UserSession
	)
	err := s.store.Transaction(ctx, func(tx *gorm.DB) error {
		expired, err := store.DeleteExpiredLocks(tx, now)
		if err != nil {
			return err
		}
		stats.ExpiredLocks = expired

		stale, err = store.StaleSessions(tx, cutoff)
		if err != nil {
			return err
		}
		for i := range stale {
			if _, err := store.DeleteSessionLocks(tx, stale[i].SessionID); err != nil {
				return err
			}
			if err := store.RetireSession(tx, stale[i].SessionID); err != nil {
				return err
			}
		}
		stats.StaleSessions = int64(len(stale))
		return nil
	})
	if err != nil {
		return CleanupStats{}, err
	}

	if stats.ExpiredLocks > 0 || stats.StaleSessions > 0 {
		_ = s.locks.InvalidateTag(ctx, tagLocks)
		_ = s.statuses.InvalidateTag(ctx, tagStatus)
		_ = s.views.InvalidateTag(ctx, tagPresence)
		s.publishTags(ctx, tagLocks, tagStatus, tagPresence)
	}

	metrics.LocksReaped.Add(float64(stats.ExpiredLocks))
	metrics.SessionsReaped.Add(float64(stats.StaleSessions))
	for i := range stale {
		s.record(ctx, audit.Event{
			DashboardID: stale[i].DashboardID,
			UserID:      stale[i].UserID,
			UserName:    stale[i].UserName,
			Type:        audit.TypeLockReaped,
			Data:        map[string]any{"locked_widgets": len(stale[i].LockedWidgets)},
		})
		s.notify(ctx, "session_reaped", stale[i].DashboardID, nil, Requester{
			UserID:   stale[i].UserID,
			UserName: stale[i].UserName,
		})
	}
	return stats, nil
}
