package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/archive"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/audit"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/cache"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/internal/repository"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/middleware"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/pubsub"
)

// appendRetries bounds the reopen-then-append loop. Each reopen
// attempt re-fetches the room, so a loser re-evaluates guards instead
// of overwriting blindly.
const appendRetries = 3

// listReadTimeout bounds the detached singleflight read in ListMessages.
const listReadTimeout = 5 * time.Second

type sessionServiceImpl struct {
	rooms     repository.RoomRepository
	messages  repository.MessageRepository
	bus       pubsub.Publisher
	roomCache cache.RoomCache
	cacheTTL  time.Duration
	archiver  *archive.Archiver
	sf        singleflight.Group
}

// NewSessionService creates the coordinator. roomCache and archiver
// may be nil when those subsystems are disabled.
func NewSessionService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	bus pubsub.Publisher,
	roomCache cache.RoomCache,
	cacheTTL time.Duration,
	archiver *archive.Archiver,
) SessionService {
	return &sessionServiceImpl{
		rooms:     rooms,
		messages:  messages,
		bus:       bus,
		roomCache: roomCache,
		cacheTTL:  cacheTTL,
		archiver:  archiver,
	}
}

// CreateRoom opens a new support thread for the acting user.
func (s *sessionServiceImpl) CreateRoom(ctx context.Context, actor Actor, req *domain.CreateRoomRequest) (*domain.Room, error) {
	if actor.Role != middleware.RoleUser {
		return nil, domain.ErrForbidden
	}

	room := &domain.Room{
		UserID:  actor.ID,
		Subject: req.Subject,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionCreateRoom, actor.ID, room.ID, "support room created")
	return room, nil
}

// GetRoom returns the room to its owner or to any admin, serving from
// the snapshot cache when fresh.
func (s *sessionServiceImpl) GetRoom(ctx context.Context, actor Actor, roomID string) (*domain.Room, error) {
	room, err := s.getRoomCached(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRoom(actor, room); err != nil {
		return nil, err
	}
	return room, nil
}

// ListRoomsByStatus is the admin triage queue, oldest room first.
func (s *sessionServiceImpl) ListRoomsByStatus(ctx context.Context, actor Actor, status domain.RoomStatus) ([]domain.Room, error) {
	if actor.Role != middleware.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown room status %q", status)
	}
	return s.rooms.ListByStatus(ctx, status)
}

// AppendMessage commits one message to the room's log. A user message
// to a closed room takes the reopen path first: closed → open, admin
// cleared, then the append lands with the next sequence position. An
// admin writing to a closed room is rejected outright.
func (s *sessionServiceImpl) AppendMessage(ctx context.Context, actor Actor, roomID, body string) (*domain.Message, error) {
	l := log.Ctx(ctx)

	senderType := senderTypeOf(actor)

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRoom(actor, room); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		msg, err := s.messages.Append(ctx, roomID, actor.ID, senderType, body)
		if err == nil {
			s.invalidate(ctx, roomID)
			s.publishEvent(ctx, domain.NewMessageAppended(msg))
			audit.LogWithDetail(ctx, audit.ActionAppend, actor.ID, roomID, msg.ID, "message appended")
			return msg, nil
		}
		if !errors.Is(err, domain.ErrRoomClosed) || senderType != domain.SenderTypeUser {
			return nil, err
		}

		// Closed room, user sender: reopen, then try the append again.
		if err := s.reopen(ctx, actor, roomID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Someone else moved the room; re-evaluate on the next pass.
				continue
			}
			return nil, err
		}
	}

	l.Warn().Str(log.FieldRoomID, roomID).Msg("append gave up after repeated reopen races")
	return nil, domain.ErrConflict
}

// reopen performs the closed → open transition on behalf of a new
// inbound user message.
func (s *sessionServiceImpl) reopen(ctx context.Context, actor Actor, roomID string) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != domain.RoomStatusClosed {
		// Already reopened by a concurrent writer; nothing to do.
		return nil
	}

	expected := room.Version
	if err := room.Apply(domain.EventReopen, ""); err != nil {
		return err
	}
	if err := s.rooms.UpdateCAS(ctx, room, expected); err != nil {
		return err
	}

	s.invalidate(ctx, roomID)
	s.publishEvent(ctx, domain.NewRoomUpdated(room))
	audit.Log(ctx, audit.ActionReopen, actor.ID, roomID, "room reopened by user message")
	return nil
}

// ListMessages is the catch-up read: everything after afterSeq, in
// order. Identical concurrent reads collapse through singleflight.
func (s *sessionServiceImpl) ListMessages(ctx context.Context, actor Actor, roomID string, afterSeq int64, limit int) ([]domain.Message, error) {
	room, err := s.getRoomCached(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRoom(actor, room); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%d:%d", roomID, afterSeq, limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		// The shared read must not inherit the first caller's
		// cancellation; later waiters still need the result.
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listReadTimeout)
		defer cancel()
		return s.messages.List(readCtx, roomID, afterSeq, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Message), nil
}

// MarkRead flips unread → read for the opposite side's messages.
func (s *sessionServiceImpl) MarkRead(ctx context.Context, actor Actor, roomID string, messageIDs []string) (int64, error) {
	room, err := s.getRoomCached(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if err := authorizeRoom(actor, room); err != nil {
		return 0, err
	}

	flipped, err := s.messages.MarkRead(ctx, roomID, messageIDs, senderTypeOf(actor))
	if err != nil {
		return 0, err
	}

	if flipped > 0 {
		audit.LogWithDetail(ctx, audit.ActionMarkRead, actor.ID, roomID,
			fmt.Sprintf("%d", flipped), "messages marked read")
	}
	return flipped, nil
}

// Claim assigns the acting admin to an open room. Two racing claims
// resolve at the store's compare-and-swap: exactly one wins, the loser
// gets ErrConflict and must treat it as "already claimed".
func (s *sessionServiceImpl) Claim(ctx context.Context, actor Actor, roomID string) (*domain.Room, error) {
	return s.transition(ctx, actor, roomID, domain.EventClaim, actor.ID, audit.ActionClaim, nil)
}

// Resolve closes a pending room. Only the assigned admin may resolve;
// the assignment is kept for history.
func (s *sessionServiceImpl) Resolve(ctx context.Context, actor Actor, roomID string) (*domain.Room, error) {
	return s.transition(ctx, actor, roomID, domain.EventResolve, actor.ID, audit.ActionResolve, requireAssigned)
}

// Release puts a pending room back in the triage queue. Only the
// assigned admin may release.
func (s *sessionServiceImpl) Release(ctx context.Context, actor Actor, roomID string) (*domain.Room, error) {
	return s.transition(ctx, actor, roomID, domain.EventRelease, actor.ID, audit.ActionRelease, requireAssigned)
}

// Reassign hands the room to another admin regardless of its current
// state.
func (s *sessionServiceImpl) Reassign(ctx context.Context, actor Actor, roomID, newAdminID string) (*domain.Room, error) {
	if newAdminID == "" {
		return nil, fmt.Errorf("new admin id is required")
	}
	return s.transition(ctx, actor, roomID, domain.EventReassign, newAdminID, audit.ActionReassign, nil)
}

// Authorize reports whether the actor may observe the room.
func (s *sessionServiceImpl) Authorize(ctx context.Context, actor Actor, roomID string) error {
	room, err := s.getRoomCached(ctx, roomID)
	if err != nil {
		return err
	}
	return authorizeRoom(actor, room)
}

// guard is an extra per-event check evaluated against the freshly
// fetched room before the transition is attempted.
type guard func(actor Actor, room *domain.Room) error

func requireAssigned(actor Actor, room *domain.Room) error {
	if room.AdminID == nil || *room.AdminID != actor.ID {
		return domain.ErrNotAssignedAdmin
	}
	return nil
}

// transition runs one lifecycle event through fetch → guard → apply →
// compare-and-swap. A CAS loss surfaces as ErrConflict without any
// retry here: by the spec of optimistic concurrency the caller must
// re-fetch and re-decide, not replay a stale intent.
func (s *sessionServiceImpl) transition(ctx context.Context, actor Actor, roomID string, event domain.TransitionEvent, adminID, action string, g guard) (*domain.Room, error) {
	if actor.Role != middleware.RoleAdmin {
		return nil, domain.ErrForbidden
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	// Reject a missing edge before the per-event guard so an invalid
	// transition reports as such, not as a guard failure.
	if _, err := domain.NextStatus(room.Status, event); err != nil {
		return nil, err
	}
	if g != nil {
		if err := g(actor, room); err != nil {
			return nil, err
		}
	}

	expected := room.Version
	if err := room.Apply(event, adminID); err != nil {
		return nil, err
	}
	if err := s.rooms.UpdateCAS(ctx, room, expected); err != nil {
		return nil, err
	}

	s.invalidate(ctx, roomID)
	s.publishEvent(ctx, domain.NewRoomUpdated(room))
	audit.LogWithDetail(ctx, action, actor.ID, roomID, string(event), "room lifecycle transition")
	return room, nil
}

func senderTypeOf(actor Actor) domain.SenderType {
	if actor.Role == middleware.RoleAdmin {
		return domain.SenderTypeAdmin
	}
	return domain.SenderTypeUser
}

// authorizeRoom lets the owning user and any admin through.
func authorizeRoom(actor Actor, room *domain.Room) error {
	if actor.Role == middleware.RoleAdmin {
		return nil
	}
	if room.UserID != actor.ID {
		return domain.ErrForbidden
	}
	return nil
}

// getRoomCached serves room snapshots cache-first. Cache errors are
// logged and fall through to the store; the cache is never the source
// of truth.
func (s *sessionServiceImpl) getRoomCached(ctx context.Context, roomID string) (*domain.Room, error) {
	if s.roomCache == nil {
		return s.rooms.GetByID(ctx, roomID)
	}

	key := s.roomCache.BuildKeyByID(roomID)
	cached, err := s.roomCache.Get(ctx, key)
	if err == nil {
		room := cached.Room
		return &room, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("room cache get error")
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// Populate off the request path.
	snapshot := *room
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.roomCache.Set(cacheCtx, key, &cache.RoomCacheResult{Room: snapshot}, s.cacheTTL); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("room cache set error")
		}
	}()

	return room, nil
}

func (s *sessionServiceImpl) invalidate(ctx context.Context, roomID string) {
	if s.roomCache == nil {
		return
	}
	if err := s.roomCache.Delete(ctx, s.roomCache.BuildKeyByID(roomID)); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache invalidate error")
	}
}

// publishEvent pushes a committed mutation onto the room's channel and
// hands it to the archiver when one is wired. Publish failures are
// logged, not surfaced: the commit already happened and subscribers
// recover through the catch-up read.
func (s *sessionServiceImpl) publishEvent(ctx context.Context, event domain.Event) {
	l := log.Ctx(ctx)

	busEvent, err := pubsub.NewEvent(string(event.Type), event.RoomID, event)
	if err != nil {
		l.Error().Err(err).Msg("failed to build bus event")
		return
	}
	if err := s.bus.Publish(ctx, pubsub.RoomEventsChannel(event.RoomID), busEvent); err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, event.RoomID).Msg("failed to publish room event")
	}

	if s.archiver != nil {
		s.archiver.Record(ctx, event)
	}
}
