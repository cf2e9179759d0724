package repository

import (
	"context"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
)

// RoomRepository is the durable room store. Mutations go through
// UpdateCAS so concurrent writers are detected, never overwritten.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	ListByStatus(ctx context.Context, status domain.RoomStatus) ([]domain.Room, error)
	// UpdateCAS persists the room's mutable fields if and only if the
	// stored version still equals expectedVersion. On success the
	// room's Version is bumped in place. Returns domain.ErrConflict
	// when the caller's view is stale.
	UpdateCAS(ctx context.Context, room *domain.Room, expectedVersion int64) error
}

// MessageRepository is the append-only, per-room ordered message log.
type MessageRepository interface {
	// Append commits a message with the next sequence position for the
	// room. Sequence assignment and the insert happen in one
	// transaction, so observers never see gaps. Returns
	// domain.ErrRoomClosed for closed rooms and domain.ErrRoomNotFound
	// for absent ones.
	Append(ctx context.Context, roomID, senderID string, senderType domain.SenderType, body string) (*domain.Message, error)
	// List returns messages with seq > afterSeq in ascending order,
	// capped at limit (0 means the repository default). The primary
	// resynchronization primitive for reconnecting clients.
	List(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.Message, error)
	// MarkRead flips unread → read on messages sent by the opposite
	// side of readerType. Idempotent: already-read ids are no-ops.
	// Returns the number of rows flipped.
	MarkRead(ctx context.Context, roomID string, messageIDs []string, readerType domain.SenderType) (int64, error)
}
