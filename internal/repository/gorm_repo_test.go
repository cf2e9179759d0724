package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "support.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.RoomModel{}, &domain.MessageModel{}))
	return db
}

func createRoom(t *testing.T, repo *GormRoomRepository, userID string) *domain.Room {
	t.Helper()
	room := &domain.Room{UserID: userID, Subject: "billing question"}
	require.NoError(t, repo.Create(context.Background(), room))
	return room
}

func TestRoomCreateAssignsDefaults(t *testing.T) {
	repo := NewGormRoomRepository(newTestDB(t))

	room := createRoom(t, repo, "user-1")
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, domain.RoomStatusOpen, room.Status)
	assert.Nil(t, room.AdminID)
	assert.Equal(t, int64(1), room.Version)
	assert.Equal(t, int64(0), room.LastSeq)
}

func TestRoomCreateRejectsSecondActiveRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRoomRepository(newTestDB(t))

	first := createRoom(t, repo, "user-1")

	err := repo.Create(ctx, &domain.Room{UserID: "user-1", Subject: "second"})
	assert.ErrorIs(t, err, domain.ErrDuplicateActiveRoom)

	// Closing the first room frees the slot.
	require.NoError(t, first.Apply(domain.EventReassign, "admin-1"))
	require.NoError(t, repo.UpdateCAS(ctx, first, 1))
	require.NoError(t, first.Apply(domain.EventResolve, ""))
	require.NoError(t, repo.UpdateCAS(ctx, first, 2))

	err = repo.Create(ctx, &domain.Room{UserID: "user-1", Subject: "second"})
	assert.NoError(t, err)
}

func TestRoomGetByIDNotFound(t *testing.T) {
	repo := NewGormRoomRepository(newTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomUpdateCASWinnerAndLoser(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRoomRepository(newTestDB(t))
	created := createRoom(t, repo, "user-1")

	// Two admins fetch the same open room and race to claim it.
	viewA, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	viewB, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, viewA.Apply(domain.EventClaim, "admin-a"))
	require.NoError(t, repo.UpdateCAS(ctx, viewA, 1))
	assert.Equal(t, int64(2), viewA.Version)

	require.NoError(t, viewB.Apply(domain.EventClaim, "admin-b"))
	err = repo.UpdateCAS(ctx, viewB, 1)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// The store kept the winner's assignment.
	current, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, current.AdminID)
	assert.Equal(t, "admin-a", *current.AdminID)
	assert.Equal(t, domain.RoomStatusPending, current.Status)
}

func TestRoomUpdateCASMissingRoom(t *testing.T) {
	repo := NewGormRoomRepository(newTestDB(t))

	ghost := &domain.Room{ID: "missing", Status: domain.RoomStatusOpen}
	err := repo.UpdateCAS(context.Background(), ghost, 1)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomListByStatusOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRoomRepository(newTestDB(t))

	first := createRoom(t, repo, "user-1")
	second := createRoom(t, repo, "user-2")

	rooms, err := repo.ListByStatus(ctx, domain.RoomStatusOpen)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)

	rooms, err = repo.ListByStatus(ctx, domain.RoomStatusClosed)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestMessageAppendAssignsContiguousSeq(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rooms := NewGormRoomRepository(db)
	messages := NewGormMessageRepository(db)
	room := createRoom(t, rooms, "user-1")

	m1, err := messages.Append(ctx, room.ID, "user-1", domain.SenderTypeUser, "hello")
	require.NoError(t, err)
	m2, err := messages.Append(ctx, room.ID, "admin-1", domain.SenderTypeAdmin, "hi, how can I help?")
	require.NoError(t, err)

	assert.Equal(t, int64(1), m1.Seq)
	assert.Equal(t, int64(2), m2.Seq)
	assert.NotEmpty(t, m1.ID)
	assert.False(t, m1.CreatedAt.IsZero())

	got, err := rooms.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.LastSeq)
}

func TestMessageAppendConcurrentStaysGapFree(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rooms := NewGormRoomRepository(db)
	messages := NewGormMessageRepository(db)
	room := createRoom(t, rooms, "user-1")

	const writers = 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := messages.Append(ctx, room.ID, "user-1", domain.SenderTypeUser, "msg")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	all, err := messages.List(ctx, room.ID, 0, writers*perWriter)
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)
	for i, m := range all {
		assert.Equal(t, int64(i+1), m.Seq, "sequence must be dense")
	}
}

func TestMessageAppendRejectedOnClosedRoom(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rooms := NewGormRoomRepository(db)
	messages := NewGormMessageRepository(db)
	room := createRoom(t, rooms, "user-1")

	require.NoError(t, room.Apply(domain.EventClaim, "admin-1"))
	require.NoError(t, rooms.UpdateCAS(ctx, room, 1))
	require.NoError(t, room.Apply(domain.EventResolve, ""))
	require.NoError(t, rooms.UpdateCAS(ctx, room, 2))

	_, err := messages.Append(ctx, room.ID, "admin-1", domain.SenderTypeAdmin, "late reply")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)

	// The failed append must not burn a sequence number.
	got, err := rooms.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LastSeq)
}

func TestMessageAppendMissingRoom(t *testing.T) {
	messages := NewGormMessageRepository(newTestDB(t))

	_, err := messages.Append(context.Background(), "missing", "user-1", domain.SenderTypeUser, "hello")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMessageListPagination(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rooms := NewGormRoomRepository(db)
	messages := NewGormMessageRepository(db)
	room := createRoom(t, rooms, "user-1")

	for i := 0; i < 5; i++ {
		_, err := messages.Append(ctx, room.ID, "user-1", domain.SenderTypeUser, "msg")
		require.NoError(t, err)
	}

	page, err := messages.List(ctx, room.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	rest, err := messages.List(ctx, room.ID, 4, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(5), rest[0].Seq)
}

func TestMarkReadOnlyFlipsCounterpartyMessages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rooms := NewGormRoomRepository(db)
	messages := NewGormMessageRepository(db)
	room := createRoom(t, rooms, "user-1")

	userMsg, err := messages.Append(ctx, room.ID, "user-1", domain.SenderTypeUser, "hello")
	require.NoError(t, err)
	adminMsg, err := messages.Append(ctx, room.ID, "admin-1", domain.SenderTypeAdmin, "hi")
	require.NoError(t, err)

	// The admin reads; only the user's message qualifies.
	flipped, err := messages.MarkRead(ctx, room.ID, []string{userMsg.ID, adminMsg.ID}, domain.SenderTypeAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flipped)

	all, err := messages.List(ctx, room.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Read)
	assert.False(t, all[1].Read)

	// Marking again is a no-op, not an error.
	flipped, err = messages.MarkRead(ctx, room.ID, []string{userMsg.ID}, domain.SenderTypeAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), flipped)
}
