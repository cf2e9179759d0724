package pubsub

import (
	"context"
	"sync"
)

// MemoryPubSub is an in-process PubSub for tests and single-instance
// deployments. Events are delivered to subscribers in publish order.
type MemoryPubSub struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
}

type memorySub struct {
	channel string
	ch      chan *Event
	cancel  context.CancelFunc
	once    sync.Once
}

// NewMemoryPubSub creates an in-memory PubSub instance.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		subs: make(map[string][]*memorySub),
	}
}

// Publish delivers the event to every subscriber of the channel,
// preserving per-channel order. A subscriber whose buffer is full
// misses the event; the bus is at-least-once end to end, so consumers
// recover through their own catch-up path.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs[channel] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for a channel. Cancelling the context
// removes the subscriber and closes its channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	subCtx, cancel := context.WithCancel(ctx)

	sub := &memorySub{
		channel: channel,
		ch:      make(chan *Event, 100),
		cancel:  cancel,
	}

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.mu.Unlock()

	go func() {
		<-subCtx.Done()
		m.remove(sub)
	}()

	return sub.ch, nil
}

// Unsubscribe drops all subscribers of a channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	subs := make([]*memorySub, len(m.subs[channel]))
	copy(subs, m.subs[channel])
	m.mu.Unlock()

	for _, sub := range subs {
		m.remove(sub)
	}
	return nil
}

// Close drops every subscriber.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	var all []*memorySub
	for _, subs := range m.subs {
		all = append(all, subs...)
	}
	m.mu.Unlock()

	for _, sub := range all {
		m.remove(sub)
	}
	return nil
}

// remove detaches a subscriber and closes its channel exactly once.
func (m *MemoryPubSub) remove(target *memorySub) {
	m.mu.Lock()
	subs := m.subs[target.channel]
	for i, sub := range subs {
		if sub == target {
			m.subs[target.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[target.channel]) == 0 {
		delete(m.subs, target.channel)
	}
	// Close under the same lock that guards sends.
	target.once.Do(func() {
		target.cancel()
		close(target.ch)
	})
	m.mu.Unlock()
}
