package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
)

// ErrCacheMiss is returned when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// RoomCacheResult wraps the cached room snapshot.
type RoomCacheResult struct {
	Room domain.Room `json:"room"`
}

// RoomCache is a read-through cache for room snapshots. Mutations
// invalidate; the store stays the source of truth.
type RoomCache interface {
	Get(ctx context.Context, key string) (*RoomCacheResult, error)
	Set(ctx context.Context, key string, result *RoomCacheResult, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKeyByID(roomID string) string
	Close() error
}
