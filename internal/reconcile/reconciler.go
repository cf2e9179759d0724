package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
)

// MessageLister is the catch-up read against the message log.
// Implementations must return messages ordered by seq ascending,
// starting after afterSeq.
type MessageLister interface {
	ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.Message, error)
}

// Stream is a live, ordered event feed for one room. The channel
// closing means the feed is gone for good; recover by catching up and
// opening a new stream.
type Stream interface {
	Events() <-chan domain.Event
	Close()
}

// OpenStream opens a live stream for the client on the room.
type OpenStream func(ctx context.Context, roomID, clientID string) (Stream, error)

// Config bounds the reconciler's reads and retries.
type Config struct {
	CatchUpLimit   int
	CatchUpTimeout time.Duration
	CatchUpRetries int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CatchUpLimit:   200,
		CatchUpTimeout: 5 * time.Second,
		CatchUpRetries: 5,
		RetryInitial:   100 * time.Millisecond,
		RetryMax:       5 * time.Second,
	}
}

// Snapshot is a copy of the reconciled local view.
type Snapshot struct {
	Room     *domain.Room
	Messages []domain.Message
	LastSeq  int64
	Degraded bool
}

// Reconciler maintains one client's local view of a room: the latest
// room snapshot plus a contiguous, seq-ordered message list. It applies
// live events when they extend the view by exactly one seq, drops
// duplicates, and falls back to the catch-up read on any gap. The seq
// column is the source of truth; momentary cross-publisher reordering
// on the bus converges through the gap and duplicate rules.
type Reconciler struct {
	roomID   string
	clientID string
	lister   MessageLister
	open     OpenStream
	cfg      Config

	mu       sync.RWMutex
	room     *domain.Room
	messages []domain.Message
	lastSeq  int64
	degraded bool
}

// New creates a reconciler with an empty local view.
func New(roomID, clientID string, lister MessageLister, open OpenStream, cfg Config) *Reconciler {
	if cfg.CatchUpLimit <= 0 {
		cfg.CatchUpLimit = DefaultConfig().CatchUpLimit
	}
	if cfg.CatchUpTimeout <= 0 {
		cfg.CatchUpTimeout = DefaultConfig().CatchUpTimeout
	}
	if cfg.CatchUpRetries <= 0 {
		cfg.CatchUpRetries = DefaultConfig().CatchUpRetries
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultConfig().RetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultConfig().RetryMax
	}
	return &Reconciler{
		roomID:   roomID,
		clientID: clientID,
		lister:   lister,
		open:     open,
		cfg:      cfg,
	}
}

// SetRoom seeds or refreshes the room snapshot, keeping whichever
// version is newer.
func (r *Reconciler) SetRoom(room *domain.Room) {
	if room == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.room == nil || room.Version > r.room.Version {
		cp := *room
		r.room = &cp
	}
}

// Snapshot returns a copy of the current local view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		LastSeq:  r.lastSeq,
		Degraded: r.degraded,
		Messages: make([]domain.Message, len(r.messages)),
	}
	copy(snap.Messages, r.messages)
	if r.room != nil {
		cp := *r.room
		snap.Room = &cp
	}
	return snap
}

// Apply folds one live event into the local view. A message seq gap
// triggers a catch-up read; the gapped event itself is discarded since
// the read returns it in order.
func (r *Reconciler) Apply(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventTypeMessageAppended:
		if ev.Message == nil {
			return nil
		}
		r.mu.Lock()
		switch {
		case ev.Message.Seq <= r.lastSeq:
			// At-least-once delivery, already have it.
			r.mu.Unlock()
			return nil
		case ev.Message.Seq == r.lastSeq+1:
			r.messages = append(r.messages, *ev.Message)
			r.lastSeq = ev.Message.Seq
			r.mu.Unlock()
			return nil
		default:
			gapAt := r.lastSeq
			r.mu.Unlock()
			l := log.Ctx(ctx)
			l.Debug().
				Str(log.FieldRoomID, r.roomID).
				Int64(log.FieldSeq, ev.Message.Seq).
				Int64("local_last_seq", gapAt).
				Msg("seq gap detected, catching up")
			return r.CatchUp(ctx)
		}
	case domain.EventTypeRoomUpdated:
		if ev.Room == nil {
			return nil
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.room == nil || ev.Room.Version > r.room.Version {
			cp := *ev.Room
			r.room = &cp
		}
		return nil
	default:
		return nil
	}
}

// CatchUp reads the log forward from the local lastSeq until it is
// drained, retrying transient failures with exponential backoff.
func (r *Reconciler) CatchUp(ctx context.Context) error {
	var lastErr error
	backoff := r.cfg.RetryInitial
	for attempt := 0; attempt < r.cfg.CatchUpRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = minDuration(backoff*2, r.cfg.RetryMax)
		}
		lastErr = r.catchUpOnce(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("catch up room %s: %w", r.roomID, lastErr)
}

func (r *Reconciler) catchUpOnce(ctx context.Context) error {
	for {
		r.mu.RLock()
		after := r.lastSeq
		r.mu.RUnlock()

		rctx, cancel := context.WithTimeout(ctx, r.cfg.CatchUpTimeout)
		msgs, err := r.lister.ListMessages(rctx, r.roomID, after, r.cfg.CatchUpLimit)
		cancel()
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		r.mu.Lock()
		for _, m := range msgs {
			// The log is gap-free, so pages advance one seq at a time.
			// Anything at or below lastSeq raced in through Apply while
			// the read was in flight.
			if m.Seq == r.lastSeq+1 {
				r.messages = append(r.messages, m)
				r.lastSeq = m.Seq
			}
		}
		r.mu.Unlock()

		if len(msgs) < r.cfg.CatchUpLimit {
			return nil
		}
	}
}

// Run drives the session loop: catch up, open a stream, consume until
// it closes, repeat. Failures mark the view degraded and back off; the
// loop only ends with the context. The session itself is never
// terminated from here.
func (r *Reconciler) Run(ctx context.Context) error {
	l := log.Ctx(ctx)
	backoff := r.cfg.RetryInitial
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.CatchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.setDegraded(true)
			l.Warn().Err(err).Str(log.FieldRoomID, r.roomID).Msg("catch up failed, backing off")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = minDuration(backoff*2, r.cfg.RetryMax)
			continue
		}

		stream, err := r.open(ctx, r.roomID, r.clientID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.setDegraded(true)
			l.Warn().Err(err).Str(log.FieldRoomID, r.roomID).Msg("stream open failed, backing off")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = minDuration(backoff*2, r.cfg.RetryMax)
			continue
		}

		r.setDegraded(false)
		backoff = r.cfg.RetryInitial

		r.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The stream closed under us (overflow eviction or upstream
		// loss). Degraded until the next catch-up lands.
		r.setDegraded(true)
	}
}

// consume folds stream events until the stream closes, the context
// ends, or an apply-time catch-up gives up.
func (r *Reconciler) consume(ctx context.Context, stream Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			if err := r.Apply(ctx, ev); err != nil {
				// Resync through the outer loop with a fresh stream.
				return
			}
		}
	}
}

func (r *Reconciler) setDegraded(v bool) {
	r.mu.Lock()
	r.degraded = v
	r.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
