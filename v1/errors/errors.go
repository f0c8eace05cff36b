package errors

import "errors"

var (
	// ErrNotFound is returned when a lock or session does not exist.
	ErrNotFound = errors.New("collab: not found")
	// ErrNotOwner is returned when a caller operates on a lock held by another user.
	ErrNotOwner = errors.New("collab: lock not owned by requester")
	// ErrLockHeld is returned when a widget is locked by another user.
	ErrLockHeld = errors.New("collab: widget locked by another user")
	// ErrExpired is returned when a heartbeat arrives after the lease expired.
	ErrExpired = errors.New("collab: lock expired")
	// ErrClosed is returned when an operation is attempted on a closed service.
	ErrClosed = errors.New("collab: service closed")
	// ErrTimeout is returned when a store operation exceeds its deadline.
	ErrTimeout = errors.New("collab: timeout")
)
