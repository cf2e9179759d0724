package domain

import "time"

// SenderType identifies which side of the conversation sent a message.
type SenderType string

const (
	SenderTypeUser  SenderType = "user"
	SenderTypeAdmin SenderType = "admin"
)

// Valid reports whether t is a known sender type.
func (t SenderType) Valid() bool {
	return t == SenderTypeUser || t == SenderTypeAdmin
}

// Opposite returns the other side of the conversation.
func (t SenderType) Opposite() SenderType {
	if t == SenderTypeUser {
		return SenderTypeAdmin
	}
	return SenderTypeUser
}

// Message is one entry in a room's append-only log. Seq is the per-room
// sequence position assigned at commit time; it, not CreatedAt, defines
// canonical order. Body is immutable once committed and the read flag
// only ever moves unread → read.
type Message struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	Seq        int64      `json:"seq"`
	SenderID   string     `json:"sender_id"`
	SenderType SenderType `json:"sender_type"`
	Body       string     `json:"body"`
	Read       bool       `json:"read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AppendMessageRequest represents an append message request.
type AppendMessageRequest struct {
	Body string `json:"body" binding:"required,max=4000"`
}

// MarkReadRequest carries the ids a reader marks as read.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1"`
}
