package repository

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
)

const defaultListLimit = 200

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Append assigns the next sequence position and inserts the message in
// one transaction. The conditional counter bump takes the room's row
// lock, so concurrent appends to one room serialize there while other
// rooms proceed independently; a rollback rolls the counter back with
// the insert, which is what keeps reader-visible sequences gap-free.
func (r *GormMessageRepository) Append(ctx context.Context, roomID, senderID string, senderType domain.SenderType, body string) (*domain.Message, error) {
	l := log.Ctx(ctx)

	msg := &domain.Message{
		ID:         ksuid.New().String(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderType: senderType,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.RoomModel{}).
			Where("id = ? AND status <> ?", roomID, string(domain.RoomStatusClosed)).
			Updates(map[string]interface{}{
				"last_seq":   gorm.Expr("last_seq + 1"),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&domain.RoomModel{}).
				Where("id = ?", roomID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return domain.ErrRoomNotFound
			}
			return domain.ErrRoomClosed
		}

		// Read the counter back inside the transaction; the row lock
		// held since the bump makes this our own value.
		var seq int64
		if err := tx.Raw("SELECT last_seq FROM chat_rooms WHERE id = ?", roomID).
			Scan(&seq).Error; err != nil {
			return err
		}

		msg.Seq = seq
		msg.CreatedAt = time.Now()
		return tx.Create(domain.MessageToModel(msg)).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrRoomClosed) {
			return nil, err
		}
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to append message in db")
		return nil, err
	}

	l.Debug().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldMessageID, msg.ID).
		Int64(log.FieldSeq, msg.Seq).
		Msg("message appended in db")
	return msg, nil
}

// List returns messages with seq > afterSeq, seq ascending. A pure,
// bounded read; callers retry it freely after transport failures.
func (r *GormMessageRepository) List(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	var models []domain.MessageModel
	result := r.db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to list messages from db")
		return nil, result.Error
	}

	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[i] = *model.ToDomain()
	}
	return messages, nil
}

// MarkRead flips unread → read on the given ids. Readers only mark the
// opposite side's messages: an admin reads user messages and vice
// versa. Already-read or own-side ids simply do not match the WHERE
// clause, which is what makes the call idempotent.
func (r *GormMessageRepository) MarkRead(ctx context.Context, roomID string, messageIDs []string, readerType domain.SenderType) (int64, error) {
	l := log.Ctx(ctx)

	if len(messageIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("room_id = ? AND id IN ? AND sender_type = ? AND is_read = ?",
			roomID, messageIDs, string(readerType.Opposite()), false).
		Update("is_read", true)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to mark messages read in db")
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		l.Debug().
			Str(log.FieldRoomID, roomID).
			Int64("flipped", result.RowsAffected).
			Msg("messages marked read in db")
	}
	return result.RowsAffected, nil
}
