package domain

import (
	"time"
)

// RoomModel is the GORM model for the chat_rooms table. LastSeq is the
// per-room sequence high-water mark; bumping it inside the append
// transaction is the single ordering authority for that room's log.
type RoomModel struct {
	ID        string  `gorm:"type:varchar(36);primaryKey"`
	UserID    string  `gorm:"type:varchar(36);index;not null"`
	AdminID   *string `gorm:"type:varchar(36);index"`
	Status    string  `gorm:"type:varchar(20);index;not null;default:'open'"`
	Subject   string  `gorm:"type:varchar(200)"`
	Version   int64   `gorm:"not null;default:1"`
	LastSeq   int64   `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string {
	return "chat_rooms"
}

// ToDomain converts RoomModel to domain Room.
func (m *RoomModel) ToDomain() *Room {
	return &Room{
		ID:        m.ID,
		UserID:    m.UserID,
		AdminID:   m.AdminID,
		Status:    RoomStatus(m.Status),
		Subject:   m.Subject,
		Version:   m.Version,
		LastSeq:   m.LastSeq,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// RoomToModel converts domain Room to RoomModel.
func RoomToModel(r *Room) *RoomModel {
	return &RoomModel{
		ID:        r.ID,
		UserID:    r.UserID,
		AdminID:   r.AdminID,
		Status:    string(r.Status),
		Subject:   r.Subject,
		Version:   r.Version,
		LastSeq:   r.LastSeq,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// MessageModel is the GORM model for the chat_messages table.
type MessageModel struct {
	ID         string `gorm:"type:varchar(36);primaryKey"`
	RoomID     string `gorm:"type:varchar(36);not null;uniqueIndex:idx_room_seq,priority:1"`
	Seq        int64  `gorm:"not null;uniqueIndex:idx_room_seq,priority:2"`
	SenderID   string `gorm:"type:varchar(36);not null"`
	SenderType string `gorm:"type:varchar(10);not null"`
	Body       string `gorm:"type:text;not null"`
	Read       bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAt  time.Time
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "chat_messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		SenderType: SenderType(m.SenderType),
		Body:       m.Body,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		Seq:        msg.Seq,
		SenderID:   msg.SenderID,
		SenderType: string(msg.SenderType),
		Body:       msg.Body,
		Read:       msg.Read,
		CreatedAt:  msg.CreatedAt,
	}
}
