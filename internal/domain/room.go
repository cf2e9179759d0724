package domain

import (
	"time"
)

// RoomStatus represents the lifecycle state of a support room.
type RoomStatus string

const (
	// RoomStatusOpen is an unassigned room awaiting admin triage.
	RoomStatusOpen RoomStatus = "open"
	// RoomStatusPending is a room with an assigned admin, conversation
	// in progress.
	RoomStatusPending RoomStatus = "pending"
	// RoomStatusClosed is a resolved room. Read-only until a new user
	// message reopens it.
	RoomStatusClosed RoomStatus = "closed"
)

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusOpen, RoomStatusPending, RoomStatusClosed:
		return true
	}
	return false
}

// TransitionEvent is a lifecycle event applied to a room.
type TransitionEvent string

const (
	EventClaim    TransitionEvent = "claim"
	EventResolve  TransitionEvent = "resolve"
	EventRelease  TransitionEvent = "release"
	EventReassign TransitionEvent = "reassign"
	EventReopen   TransitionEvent = "reopen"
)

// transitions is the lifecycle edge table. An event absent from the
// current state's row is an invalid transition.
var transitions = map[RoomStatus]map[TransitionEvent]RoomStatus{
	RoomStatusOpen: {
		EventClaim:    RoomStatusPending,
		EventReassign: RoomStatusPending,
	},
	RoomStatusPending: {
		EventResolve:  RoomStatusClosed,
		EventRelease:  RoomStatusOpen,
		EventReassign: RoomStatusPending,
	},
	RoomStatusClosed: {
		EventReopen:   RoomStatusOpen,
		EventReassign: RoomStatusPending,
	},
}

// NextStatus resolves the lifecycle edge table for one event.
// Returns ErrInvalidTransition when no edge exists.
func NextStatus(from RoomStatus, event TransitionEvent) (RoomStatus, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return from, ErrInvalidTransition
}

// Room represents a single support conversation thread between one
// user and zero-or-one assigned admin.
type Room struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	AdminID   *string    `json:"admin_id,omitempty"`
	Status    RoomStatus `json:"status"`
	Subject   string     `json:"subject,omitempty"`
	Version   int64      `json:"version"`
	LastSeq   int64      `json:"last_seq"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Apply transitions the room through one lifecycle event, mutating
// status and admin assignment. adminID is the acting/new admin for
// claim and reassign and is ignored for the other events. Invalid
// edges leave the room untouched.
func (r *Room) Apply(event TransitionEvent, adminID string) error {
	next, err := NextStatus(r.Status, event)
	if err != nil {
		return err
	}

	switch event {
	case EventClaim, EventReassign:
		r.AdminID = &adminID
	case EventRelease, EventReopen:
		r.AdminID = nil
	case EventResolve:
		// Assigned admin is kept for history.
	}

	r.Status = next
	return nil
}

// CreateRoomRequest represents a create room request.
type CreateRoomRequest struct {
	Subject string `json:"subject" binding:"max=200"`
}

// ReassignRequest carries the new admin for a reassign call.
type ReassignRequest struct {
	AdminID string `json:"admin_id" binding:"required"`
}
