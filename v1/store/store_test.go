package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func newLock(widgetID, userID uuid.UUID, now time.Time, lease time.Duration) *WidgetLock {
	return &WidgetLock{
		WidgetID:      widgetID,
		DashboardID:   uuid.New(),
		SessionID:     uuid.New(),
		UserID:        userID,
		UserName:      "user",
		LockedAt:      now,
		ExpiresAt:     now.Add(lease),
		LastHeartbeat: now,
		IsActive:      true,
	}
}

func TestUpsertLockGuard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	widget := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	err := st.Transaction(ctx, func(tx *gorm.DB) error {
		applied, err := UpsertLock(tx, newLock(widget, alice, now, time.Minute), now)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected first acquisition to apply")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	// Another user against an active unexpired row loses.
	err = st.Transaction(ctx, func(tx *gorm.DB) error {
		applied, err := UpsertLock(tx, newLock(widget, bob, now, time.Minute), now)
		if err != nil {
			return err
		}
		if applied {
			t.Fatal("expected bob's acquisition to be rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	// The holder re-acquiring wins and extends the lease.
	later := now.Add(10 * time.Second)
	err = st.Transaction(ctx, func(tx *gorm.DB) error {
		applied, err := UpsertLock(tx, newLock(widget, alice, later, time.Minute), later)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected holder's re-acquisition to apply")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	// After expiry anyone wins.
	expired := later.Add(2 * time.Minute)
	err = st.Transaction(ctx, func(tx *gorm.DB) error {
		applied, err := UpsertLock(tx, newLock(widget, bob, expired, time.Minute), expired)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected takeover of expired lock")
		}
		lock, err := GetLock(tx, widget)
		if err != nil {
			return err
		}
		if lock == nil || lock.UserID != bob {
			t.Fatalf("expected bob to own the row, got %+v", lock)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestUpsertLockReusesInactiveRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	widget := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	err := st.Transaction(ctx, func(tx *gorm.DB) error {
		if _, err := UpsertLock(tx, newLock(widget, alice, now, time.Minute), now); err != nil {
			return err
		}
		if err := DeactivateLock(tx, widget); err != nil {
			return err
		}
		applied, err := UpsertLock(tx, newLock(widget, bob, now, time.Minute), now)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected acquisition over inactive row to apply")
		}
		var count int64
		if err := tx.Model(&WidgetLock{}).Count(&count).Error; err != nil {
			return err
		}
		if count != 1 {
			t.Fatalf("expected one row per widget, got %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestUpsertSessionReviveOnlyInactive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	dashboard := uuid.New()
	user := uuid.New()

	first := &UserSession{
		SessionID:    uuid.New(),
		DashboardID:  dashboard,
		UserID:       user,
		UserName:     "alice",
		ConnectedAt:  now,
		LastActivity: now,
		IsActive:     true,
	}
	err := st.Transaction(ctx, func(tx *gorm.DB) error {
		applied, err := UpsertSession(tx, first)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected insert to apply")
		}

		// A concurrent creator must not steal the active row.
		second := &UserSession{
			SessionID:    uuid.New(),
			DashboardID:  dashboard,
			UserID:       user,
			UserName:     "alice",
			ConnectedAt:  now,
			LastActivity: now,
			IsActive:     true,
		}
		applied, err = UpsertSession(tx, second)
		if err != nil {
			return err
		}
		if applied {
			t.Fatal("expected active row to be left untouched")
		}
		sess, err := GetActiveSession(tx, dashboard, user)
		if err != nil {
			return err
		}
		if sess == nil || sess.SessionID != first.SessionID {
			t.Fatalf("expected first session to survive, got %+v", sess)
		}

		// Once inactive, the row is revived with a fresh session ID.
		if err := DeactivateSession(tx, first.SessionID); err != nil {
			return err
		}
		third := &UserSession{
			SessionID:    uuid.New(),
			DashboardID:  dashboard,
			UserID:       user,
			UserName:     "alice",
			ConnectedAt:  now,
			LastActivity: now,
			IsActive:     true,
		}
		applied, err = UpsertSession(tx, third)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected revive to apply")
		}
		sess, err = GetActiveSession(tx, dashboard, user)
		if err != nil {
			return err
		}
		if sess == nil || sess.SessionID != third.SessionID {
			t.Fatalf("expected revived session, got %+v", sess)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestDeleteExpiredLocks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := st.Transaction(ctx, func(tx *gorm.DB) error {
		if _, err := UpsertLock(tx, newLock(uuid.New(), uuid.New(), now.Add(-2*time.Minute), time.Minute), now.Add(-2*time.Minute)); err != nil {
			return err
		}
		if _, err := UpsertLock(tx, newLock(uuid.New(), uuid.New(), now, time.Minute), now); err != nil {
			return err
		}
		deleted, err := DeleteExpiredLocks(tx, now)
		if err != nil {
			return err
		}
		if deleted != 1 {
			t.Fatalf("expected 1 expired lock deleted, got %d", deleted)
		}
		var count int64
		if err := tx.Model(&WidgetLock{}).Count(&count).Error; err != nil {
			return err
		}
		if count != 1 {
			t.Fatalf("expected 1 lock remaining, got %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestStaleSessionsAndRetire(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	widget := uuid.New()

	stale := &UserSession{
		SessionID:     uuid.New(),
		DashboardID:   uuid.New(),
		UserID:        uuid.New(),
		ConnectedAt:   now.Add(-time.Hour),
		LastActivity:  now.Add(-10 * time.Minute),
		IsActive:      true,
		LockedWidgets: WidgetIDs{widget},
	}
	fresh := &UserSession{
		SessionID:    uuid.New(),
		DashboardID:  uuid.New(),
		UserID:       uuid.New(),
		ConnectedAt:  now,
		LastActivity: now,
		IsActive:     true,
	}
	err := st.Transaction(ctx, func(tx *gorm.DB) error {
		for _, s := range []*UserSession{stale, fresh} {
			if _, err := UpsertSession(tx, s); err != nil {
				return err
			}
		}
		got, err := StaleSessions(tx, now.Add(-5*time.Minute))
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].SessionID != stale.SessionID {
			t.Fatalf("expected one stale session, got %+v", got)
		}

		if err := RetireSession(tx, stale.SessionID); err != nil {
			return err
		}
		sess, err := GetSession(tx, stale.SessionID)
		if err != nil {
			return err
		}
		if sess == nil || sess.IsActive || len(sess.LockedWidgets) != 0 {
			t.Fatalf("expected retired session with empty lock set, got %+v", sess)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestWidgetIDsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	a, b := uuid.New(), uuid.New()

	sess := &UserSession{
		SessionID:     uuid.New(),
		DashboardID:   uuid.New(),
		UserID:        uuid.New(),
		ConnectedAt:   now,
		LastActivity:  now,
		IsActive:      true,
		LockedWidgets: WidgetIDs{a, b},
	}
	err := st.Transaction(ctx, func(tx *gorm.DB) error {
		if _, err := UpsertSession(tx, sess); err != nil {
			return err
		}
		got, err := GetSession(tx, sess.SessionID)
		if err != nil {
			return err
		}
		if got == nil || !got.LockedWidgets.Has(a) || !got.LockedWidgets.Has(b) {
			t.Fatalf("expected both widgets, got %+v", got)
		}
		if err := SetSessionWidgets(tx, sess.SessionID, got.LockedWidgets.Remove(a), now); err != nil {
			return err
		}
		got, err = GetSession(tx, sess.SessionID)
		if err != nil {
			return err
		}
		if got.LockedWidgets.Has(a) || !got.LockedWidgets.Has(b) {
			t.Fatalf("expected only b after removal, got %+v", got.LockedWidgets)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestWidgetLockHelpers(t *testing.T) {
	now := time.Now()
	user := uuid.New()
	lock := WidgetLock{UserID: user, ExpiresAt: now.Add(time.Minute), IsActive: true}

	if lock.Expired(now) {
		t.Fatal("lock should not be expired")
	}
	if !lock.Expired(now.Add(time.Minute)) {
		t.Fatal("lock should be expired exactly at expiry")
	}
	if lock.Remaining(now) != time.Minute {
		t.Fatalf("expected full minute remaining, got %v", lock.Remaining(now))
	}
	if lock.Remaining(now.Add(2*time.Minute)) != 0 {
		t.Fatal("remaining must floor at zero")
	}
	if !lock.HeldBy(user, now) {
		t.Fatal("expected lock held by owner")
	}
	if lock.HeldBy(uuid.New(), now) {
		t.Fatal("lock must not be held by another user")
	}
	if lock.HeldBy(user, now.Add(2*time.Minute)) {
		t.Fatal("expired lock is not held")
	}
}
