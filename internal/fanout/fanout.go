package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/pubsub"
)

// DefaultBacklog is the per-subscriber buffer when none is configured.
const DefaultBacklog = 64

// Fanout bridges the room event bus to per-client subscriptions. One
// upstream bus subscription exists per room with local subscribers;
// it is created with the first subscriber and torn down with the last.
// Each subscriber gets events in upstream order through a bounded
// backlog. A subscriber that falls behind is evicted and its channel
// closed: a closed stream is the signal to run gap recovery through
// the catch-up read, then subscribe again.
type Fanout struct {
	bus     pubsub.PubSub
	backlog int

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	feeds map[string]*feed
}

// feed is the per-room bridge from the bus to local subscribers.
type feed struct {
	roomID string
	cancel context.CancelFunc
	subs   map[string]*Subscription
}

// Subscription is one client's live, unbounded event stream. Not
// restartable: after Events() closes, catch up via the message log and
// subscribe anew.
type Subscription struct {
	id       string
	roomID   string
	clientID string
	events   chan domain.Event
	fo       *Fanout
	once     sync.Once
}

// Events returns the stream. The channel closes on Close, on fan-out
// shutdown, and on backlog overflow.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

// Close unsubscribes and releases delivery resources. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.fo.remove(s)
}

// New creates a fan-out over the given bus.
func New(bus pubsub.PubSub, backlog int) *Fanout {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Fanout{
		bus:     bus,
		backlog: backlog,
		ctx:     ctx,
		cancel:  cancel,
		feeds:   make(map[string]*feed),
	}
}

// Subscribe attaches a client to a room's live event stream.
func (f *Fanout) Subscribe(ctx context.Context, roomID, clientID string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fd, ok := f.feeds[roomID]
	if !ok {
		// First local subscriber: open the upstream bus subscription.
		// The feed outlives the subscribing request, so it runs off
		// the fan-out's own context.
		feedCtx, cancel := context.WithCancel(f.ctx)
		upstream, err := f.bus.Subscribe(feedCtx, pubsub.RoomEventsChannel(roomID))
		if err != nil {
			cancel()
			return nil, err
		}

		fd = &feed{
			roomID: roomID,
			cancel: cancel,
			subs:   make(map[string]*Subscription),
		}
		f.feeds[roomID] = fd
		go f.run(feedCtx, fd, upstream)
	}

	sub := &Subscription{
		id:       uuid.New().String(),
		roomID:   roomID,
		clientID: clientID,
		events:   make(chan domain.Event, f.backlog),
		fo:       f,
	}
	fd.subs[sub.id] = sub

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldClientID, clientID).
		Msg("client subscribed to room stream")
	return sub, nil
}

// Close tears down every feed and subscriber.
func (f *Fanout) Close() {
	f.cancel()

	f.mu.Lock()
	defer f.mu.Unlock()

	for roomID, fd := range f.feeds {
		fd.cancel()
		for id, sub := range fd.subs {
			sub.once.Do(func() { close(sub.events) })
			delete(fd.subs, id)
		}
		delete(f.feeds, roomID)
	}
}

// run pumps bus events into local subscribers until the feed context
// ends or the upstream channel closes.
func (f *Fanout) run(ctx context.Context, fd *feed, upstream <-chan *pubsub.Event) {
	l := log.L()
	for {
		select {
		case <-ctx.Done():
			return
		case busEv, ok := <-upstream:
			if !ok {
				// Upstream died (bus closed or connection lost). Close
				// every subscriber; each recovers through catch-up.
				f.dropFeed(fd)
				return
			}

			var ev domain.Event
			if err := busEv.UnmarshalPayload(&ev); err != nil {
				l.Warn().Err(err).Str(log.FieldRoomID, fd.roomID).Msg("undecodable room event dropped")
				continue
			}
			f.deliver(fd, ev)
		}
	}
}

// deliver hands one event to each subscriber without blocking. A full
// backlog means the subscriber stopped draining; it is evicted rather
// than queued unboundedly.
func (f *Fanout) deliver(fd *feed, ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sub := range fd.subs {
		select {
		case sub.events <- ev:
		default:
			l := log.L()
			l.Warn().
				Str(log.FieldRoomID, fd.roomID).
				Str(log.FieldClientID, sub.clientID).
				Msg("subscriber backlog overflow, forcing gap recovery")
			sub.once.Do(func() { close(sub.events) })
			delete(fd.subs, id)
		}
	}
	f.teardownIfEmptyLocked(fd)
}

// remove detaches one subscription and closes its channel once.
func (f *Fanout) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fd, ok := f.feeds[sub.roomID]; ok {
		delete(fd.subs, sub.id)
		f.teardownIfEmptyLocked(fd)
	}
	sub.once.Do(func() { close(sub.events) })
}

// dropFeed closes every subscriber of a feed and removes it.
func (f *Fanout) dropFeed(fd *feed) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sub := range fd.subs {
		sub.once.Do(func() { close(sub.events) })
		delete(fd.subs, id)
	}
	if f.feeds[fd.roomID] == fd {
		fd.cancel()
		delete(f.feeds, fd.roomID)
	}
}

// teardownIfEmptyLocked cancels the upstream subscription when the
// last local subscriber left. Caller holds f.mu.
func (f *Fanout) teardownIfEmptyLocked(fd *feed) {
	if len(fd.subs) > 0 {
		return
	}
	if f.feeds[fd.roomID] == fd {
		fd.cancel()
		delete(f.feeds, fd.roomID)
		// Release the bus-side resources as well.
		go f.bus.Unsubscribe(context.Background(), pubsub.RoomEventsChannel(fd.roomID))
	}
}
