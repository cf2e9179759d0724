package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
)

// GormRoomRepository implements RoomRepository using GORM.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new GORM-based room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// Create creates a new open room. One active support thread per user:
// creation fails with ErrDuplicateActiveRoom when the owner already has
// a non-closed room.
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	l := log.Ctx(ctx)

	room.ID = uuid.New().String()
	room.Status = domain.RoomStatusOpen
	room.AdminID = nil
	room.Version = 1
	room.LastSeq = 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.RoomModel{}).
			Where("user_id = ? AND status <> ?", room.UserID, string(domain.RoomStatusClosed)).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrDuplicateActiveRoom
		}

		model := domain.RoomToModel(room)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		room.CreatedAt = model.CreatedAt
		room.UpdatedAt = model.UpdatedAt
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveRoom) {
			return err
		}
		l.Error().Err(err).Str(log.FieldUserID, room.UserID).Msg("failed to create room in db")
		return err
	}

	l.Debug().Str(log.FieldRoomID, room.ID).Msg("room created in db")
	return nil
}

// GetByID retrieves a room by ID.
func (r *GormRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	var model domain.RoomModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldRoomID, id).Msg("failed to get room by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// ListByStatus retrieves rooms in a lifecycle state, oldest first, for
// admin triage queues.
func (r *GormRoomRepository) ListByStatus(ctx context.Context, status domain.RoomStatus) ([]domain.Room, error) {
	l := log.Ctx(ctx)

	var models []domain.RoomModel
	result := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str("status", string(status)).Msg("failed to list rooms from db")
		return nil, result.Error
	}

	rooms := make([]domain.Room, len(models))
	for i, model := range models {
		rooms[i] = *model.ToDomain()
	}
	return rooms, nil
}

// UpdateCAS persists status, admin assignment, and subject behind a
// version compare-and-swap. Exactly one of two racing writers sees its
// conditional UPDATE hit a row; the other gets ErrConflict and must
// re-fetch before deciding anything further.
func (r *GormRoomRepository) UpdateCAS(ctx context.Context, room *domain.Room, expectedVersion int64) error {
	l := log.Ctx(ctx)

	now := time.Now()
	result := r.db.WithContext(ctx).Model(&domain.RoomModel{}).
		Where("id = ? AND version = ?", room.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":     string(room.Status),
			"admin_id":   room.AdminID,
			"subject":    room.Subject,
			"version":    expectedVersion + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldRoomID, room.ID).Msg("failed to update room in db")
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Stale version or missing row; look once more to tell them apart.
		var exists int64
		if err := r.db.WithContext(ctx).Model(&domain.RoomModel{}).
			Where("id = ?", room.ID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrRoomNotFound
		}
		return domain.ErrConflict
	}

	room.Version = expectedVersion + 1
	room.UpdatedAt = now
	l.Debug().Str(log.FieldRoomID, room.ID).Int64("version", room.Version).Msg("room updated in db")
	return nil
}
