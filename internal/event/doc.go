/*
Package event provides the topic-keyed publish/subscribe fabric shared by
every core component: the SessionEngine broadcasts lifecycle transitions on
"session:{id}", the telemetry aggregator listens on "telemetry:updates" and
"telemetry:team:{id}", and the ArchitectPipeline reuses both.

# Delivery guarantees

Publish is fire-and-forget: it never blocks the publisher and never fails
observably, even if a subscriber panics. A publish into a topic with zero
subscribers is a no-op — the core must not depend on a subscriber existing.

PublishSync calls every subscriber synchronously, in the publisher's
goroutine, before returning. Components that must guarantee a subscriber has
observed an event before the next state transition (the SessionEngine's
persist-before-broadcast ordering) use PublishSync.

# Basic usage

	bus := event.New()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.Session(sessionID), func(e event.Event) {
		switch p := e.Payload.(type) {
		case event.SessionStatusPayload:
			log.Printf("session %s -> %s", p.ID, p.Status)
		}
	})
	defer unsubscribe()

	bus.PublishSync(event.Event{
		Topic:   event.Session(sessionID),
		Payload: event.SessionStatusPayload{ID: sessionID, Status: types.StatusThinking},
	})

# Thread safety

Bus is safe for concurrent use from multiple goroutines; the subscriber
table is protected by a single RWMutex and each subscriber's invocation
during Publish runs in its own goroutine.
*/
package event
