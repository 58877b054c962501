// Package event provides the topic-keyed publish/subscribe fabric that
// streams session lifecycle transitions, telemetry updates, and permission
// prompts to any number of live subscribers. Delivery is at-most-once and
// never fails observably, and a publish into a topic with no subscribers is
// a no-op. Publish is fire-and-forget and never blocks; PublishSync runs
// each subscriber in the caller's goroutine before it returns.
//
// The bus is backed by watermill's in-memory gochannel, the same
// infrastructure the teacher codebase uses, kept purely as plumbing —
// subscriber dispatch itself preserves direct Go values and types rather
// than round-tripping through watermill's byte-message envelope.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Event is a topic plus a payload variant.
type Event struct {
	Topic   string
	Payload any
}

// Subscriber receives events published to a topic it subscribed to.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is a topic-keyed event bus. The zero value is not usable; use New.
type Bus struct {
	mu          sync.RWMutex
	pubsub      *gochannel.GoChannel
	subscribers map[string][]subscriberEntry
	nextID      uint64
	closed      bool
}

// New creates a new, independent event bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100, Persistent: false},
			watermill.NopLogger{},
		),
		subscribers: make(map[string][]subscriberEntry),
	}
}

// Subscribe registers fn for every event published to topic. The returned
// function unsubscribes it.
func (b *Bus) Subscribe(topic string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{id: id, fn: fn})

	return func() { b.unsubscribe(topic, id) }
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber of event.Topic, fanning out in
// its own goroutine per subscriber so a slow or panicking subscriber can
// never block or crash the publisher. Publishing into a topic with no
// subscribers is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, len(b.subscribers[ev.Topic]))
	for i, entry := range b.subscribers[ev.Topic] {
		subs[i] = entry.fn
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		go safeDeliver(sub, ev)
	}
}

// PublishSync delivers event to every subscriber synchronously, in the
// calling goroutine, preserving publish order within that call. Used by
// callers (SessionEngine, ArchitectPipeline) that must guarantee a
// subscriber observes events in persistence order before the next write.
func (b *Bus) PublishSync(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, len(b.subscribers[ev.Topic]))
	for i, entry := range b.subscribers[ev.Topic] {
		subs[i] = entry.fn
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		safeDeliver(sub, ev)
	}
}

// safeDeliver swallows any panic from a subscriber so the bus never
// observably fails a publish.
func safeDeliver(sub Subscriber, ev Event) {
	defer func() { _ = recover() }()
	sub(ev)
}

// Close shuts the bus down; subsequent Subscribe/Publish calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[string][]subscriberEntry)
	b.mu.Unlock()

	return b.pubsub.Close()
}
