// Package store is the durable, authoritative side of the collab lock
// engine: gorm-backed records for widget locks, editing sessions and the
// collaboration audit trail. Mutual exclusion is enforced here, through
// conditional upserts, not by in-process locking — multiple server
// instances may share one database.
package store

import (
	"context"
	"errors"
	"time"

	collaberrors "github.com/pulseboard/collab/v1/errors"
	"gorm.io/gorm"
)

const defaultOpTimeout = 5 * time.Second

// Store wraps a gorm DB handle with the collab schema.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout sets the per-operation timeout for store calls.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// Open wraps the provided gorm DB and migrates the collab tables.
func Open(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(&WidgetLock{}, &UserSession{}, &CollaborationEvent{}); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying gorm handle for read-only queries outside a
// transaction.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn inside a single database transaction with the
// store's operation timeout applied. Any error from fn rolls the whole
// transaction back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.db.WithContext(cctx).Transaction(fn)
	if errors.Is(err, context.DeadlineExceeded) {
		return collaberrors.ErrTimeout
	}
	return err
}

// View runs fn with a context-scoped read handle, no transaction.
func (s *Store) View(ctx context.Context, fn func(db *gorm.DB) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := fn(s.db.WithContext(cctx))
	if errors.Is(err, context.DeadlineExceeded) {
		return collaberrors.ErrTimeout
	}
	return err
}
