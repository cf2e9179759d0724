package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyril666325/Bitfoniz-sub002/internal/domain"
)

func testConfig() Config {
	return Config{
		CatchUpLimit:   2,
		CatchUpTimeout: time.Second,
		CatchUpRetries: 3,
		RetryInitial:   5 * time.Millisecond,
		RetryMax:       20 * time.Millisecond,
	}
}

// fakeLister is an in-memory message log with optional injected
// failures.
type fakeLister struct {
	mu    sync.Mutex
	msgs  []domain.Message
	fail  int
	calls int
}

func (f *fakeLister) add(seqs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seq := range seqs {
		f.msgs = append(f.msgs, domain.Message{ID: "m", RoomID: "room-1", Seq: seq})
	}
}

func (f *fakeLister) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("transient read failure")
	}
	var out []domain.Message
	for _, m := range f.msgs {
		if m.Seq > afterSeq {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeStream struct {
	ch   chan domain.Event
	once sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan domain.Event, 16)}
}

func (s *fakeStream) Events() <-chan domain.Event { return s.ch }
func (s *fakeStream) Close()                      { s.once.Do(func() { close(s.ch) }) }

func (s *fakeStream) push(seq int64) {
	s.ch <- domain.NewMessageAppended(&domain.Message{ID: "m", RoomID: "room-1", Seq: seq})
}

func seqsOf(msgs []domain.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func noStream(ctx context.Context, roomID, clientID string) (Stream, error) {
	return nil, errors.New("no stream in this test")
}

func TestApplyExtendsViewInOrder(t *testing.T) {
	ctx := context.Background()
	r := New("room-1", "client-1", &fakeLister{}, noStream, testConfig())

	require.NoError(t, r.Apply(ctx, domain.NewMessageAppended(&domain.Message{RoomID: "room-1", Seq: 1})))
	require.NoError(t, r.Apply(ctx, domain.NewMessageAppended(&domain.Message{RoomID: "room-1", Seq: 2})))

	snap := r.Snapshot()
	assert.Equal(t, []int64{1, 2}, seqsOf(snap.Messages))
	assert.Equal(t, int64(2), snap.LastSeq)
}

func TestApplyDropsDuplicates(t *testing.T) {
	ctx := context.Background()
	r := New("room-1", "client-1", &fakeLister{}, noStream, testConfig())

	require.NoError(t, r.Apply(ctx, domain.NewMessageAppended(&domain.Message{RoomID: "room-1", Seq: 1})))
	// Redelivery of the same seq changes nothing.
	require.NoError(t, r.Apply(ctx, domain.NewMessageAppended(&domain.Message{RoomID: "room-1", Seq: 1})))

	snap := r.Snapshot()
	assert.Equal(t, []int64{1}, seqsOf(snap.Messages))
}

func TestApplyGapTriggersCatchUp(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{}
	lister.add(1, 2, 3)
	r := New("room-1", "client-1", lister, noStream, testConfig())

	require.NoError(t, r.Apply(ctx, domain.NewMessageAppended(&domain.Message{RoomID: "room-1", Seq: 1})))

	// Seq 3 arrives with 2 missing; the view is rebuilt from the log,
	// which also contains 3.
	require.NoError(t, r.Apply(ctx, domain.NewMessageAppended(&domain.Message{RoomID: "room-1", Seq: 3})))

	snap := r.Snapshot()
	assert.Equal(t, []int64{1, 2, 3}, seqsOf(snap.Messages))
	assert.Equal(t, int64(3), snap.LastSeq)
}

func TestCatchUpPagesThroughLog(t *testing.T) {
	lister := &fakeLister{}
	lister.add(1, 2, 3, 4, 5)
	r := New("room-1", "client-1", lister, noStream, testConfig())

	require.NoError(t, r.CatchUp(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqsOf(snap.Messages))
}

func TestCatchUpRetriesTransientFailures(t *testing.T) {
	lister := &fakeLister{fail: 2}
	lister.add(1)
	r := New("room-1", "client-1", lister, noStream, testConfig())

	require.NoError(t, r.CatchUp(context.Background()))
	assert.Equal(t, int64(1), r.Snapshot().LastSeq)
	assert.Equal(t, 3, lister.calls)
}

func TestCatchUpGivesUpAfterRetries(t *testing.T) {
	lister := &fakeLister{fail: 100}
	cfg := testConfig()
	cfg.CatchUpRetries = 2
	r := New("room-1", "client-1", lister, noStream, cfg)

	err := r.CatchUp(context.Background())
	assert.Error(t, err)
}

func TestStaleRoomUpdateDropped(t *testing.T) {
	ctx := context.Background()
	r := New("room-1", "client-1", &fakeLister{}, noStream, testConfig())

	a := "admin-a"
	require.NoError(t, r.Apply(ctx, domain.NewRoomUpdated(&domain.Room{ID: "room-1", Version: 3, Status: domain.RoomStatusPending, AdminID: &a})))

	// An older snapshot redelivered out of order must not win.
	require.NoError(t, r.Apply(ctx, domain.NewRoomUpdated(&domain.Room{ID: "room-1", Version: 2, Status: domain.RoomStatusOpen})))

	snap := r.Snapshot()
	require.NotNil(t, snap.Room)
	assert.Equal(t, int64(3), snap.Room.Version)
	assert.Equal(t, domain.RoomStatusPending, snap.Room.Status)

	require.NoError(t, r.Apply(ctx, domain.NewRoomUpdated(&domain.Room{ID: "room-1", Version: 4, Status: domain.RoomStatusClosed})))
	assert.Equal(t, int64(4), r.Snapshot().Room.Version)
}

func TestRunReconnectMatchesAlwaysConnectedView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lister := &fakeLister{}
	lister.add(1, 2, 3)

	var mu sync.Mutex
	streams := []*fakeStream{newFakeStream(), newFakeStream()}
	opened := 0
	open := func(ctx context.Context, roomID, clientID string) (Stream, error) {
		mu.Lock()
		defer mu.Unlock()
		if opened >= len(streams) {
			return nil, errors.New("no more streams")
		}
		s := streams[opened]
		opened++
		return s, nil
	}

	r := New("room-1", "client-1", lister, open, testConfig())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// History lands through the initial catch-up, live tail through
	// the stream.
	require.Eventually(t, func() bool { return r.Snapshot().LastSeq == 3 },
		2*time.Second, 5*time.Millisecond)

	lister.add(4)
	streams[0].push(4)
	require.Eventually(t, func() bool { return r.Snapshot().LastSeq == 4 },
		2*time.Second, 5*time.Millisecond)

	// Connection drops; 5 and 6 are committed while offline.
	lister.add(5, 6)
	streams[0].Close()

	require.Eventually(t, func() bool { return r.Snapshot().LastSeq == 6 },
		2*time.Second, 5*time.Millisecond)

	// Back live on the second stream.
	lister.add(7)
	streams[1].push(7)
	require.Eventually(t, func() bool { return r.Snapshot().LastSeq == 7 },
		2*time.Second, 5*time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, seqsOf(snap.Messages))
	assert.False(t, snap.Degraded)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop with the context")
	}
}

func TestRunMarksDegradedWhileDisconnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lister := &fakeLister{}
	lister.add(1)

	r := New("room-1", "client-1", lister, noStream, testConfig())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Catch-up works but no stream ever opens; the view is correct yet
	// flagged degraded, and Run keeps trying instead of giving up.
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return snap.LastSeq == 1 && snap.Degraded
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop with the context")
	}
}
