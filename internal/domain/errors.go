package domain

import "errors"

// All of these are local, recoverable conditions returned to the
// immediate caller; none is fatal to the process.
var (
	// ErrRoomNotFound is returned when the referenced room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrConflict is returned when an optimistic update lost the race.
	// Callers must re-fetch and re-evaluate guards, never blind-retry
	// with the stale view.
	ErrConflict = errors.New("room was modified concurrently")

	// ErrInvalidTransition is returned when a lifecycle guard rejects
	// the requested transition. State is left untouched.
	ErrInvalidTransition = errors.New("invalid room state transition")

	// ErrRoomClosed is returned on a write to a closed (read-only) room.
	// Only a new user message reopens a room.
	ErrRoomClosed = errors.New("room is closed")

	// ErrDuplicateActiveRoom is returned when the user already has a
	// non-closed support room.
	ErrDuplicateActiveRoom = errors.New("user already has an active room")

	// ErrNotAssignedAdmin is returned when a resolve/release comes from
	// an admin other than the assigned one.
	ErrNotAssignedAdmin = errors.New("caller is not the assigned admin")

	// ErrForbidden is returned when the actor may not access the room.
	ErrForbidden = errors.New("actor may not access this room")
)
