package service

import (
	"context"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
)

// Actor is the verified identity behind every coordinator call,
// supplied by the auth boundary. Passed explicitly so the coordinator
// is safely callable from any number of concurrent request handlers;
// there is no ambient "current session" state.
type Actor struct {
	ID   string
	Role string // middleware.RoleUser or middleware.RoleAdmin
}

// SessionService coordinates room lifecycle and message flow. It is
// the single arbitration point for state changes: every mutation goes
// through the stores' atomic operations and every commit is fanned out
// to subscribers.
type SessionService interface {
	CreateRoom(ctx context.Context, actor Actor, req *domain.CreateRoomRequest) (*domain.Room, error)
	GetRoom(ctx context.Context, actor Actor, roomID string) (*domain.Room, error)
	ListRoomsByStatus(ctx context.Context, actor Actor, status domain.RoomStatus) ([]domain.Room, error)

	AppendMessage(ctx context.Context, actor Actor, roomID, body string) (*domain.Message, error)
	ListMessages(ctx context.Context, actor Actor, roomID string, afterSeq int64, limit int) ([]domain.Message, error)
	MarkRead(ctx context.Context, actor Actor, roomID string, messageIDs []string) (int64, error)

	Claim(ctx context.Context, actor Actor, roomID string) (*domain.Room, error)
	Resolve(ctx context.Context, actor Actor, roomID string) (*domain.Room, error)
	Release(ctx context.Context, actor Actor, roomID string) (*domain.Room, error)
	Reassign(ctx context.Context, actor Actor, roomID, newAdminID string) (*domain.Room, error)

	// Authorize reports whether the actor may observe the room at all.
	// Used by the stream handler before subscribing.
	Authorize(ctx context.Context, actor Actor, roomID string) error
}
