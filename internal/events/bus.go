/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSessionJoined   EventType = "session.joined"
	EventSessionQueued   EventType = "session.queued"
	EventNowPlaying      EventType = "session.now_playing"
	EventPlaybackError   EventType = "session.playback_error"
	EventSessionTeardown EventType = "session.teardown"
	EventAutoEnd         EventType = "session.autoend"
	EventParticipants    EventType = "session.participants"
	EventSessionControl  EventType = "session.control" // pause, resume, mute, unmute
)

// All lists every event type, for subscribers that want the full stream.
var All = []EventType{
	EventSessionJoined,
	EventSessionQueued,
	EventNowPlaying,
	EventPlaybackError,
	EventSessionTeardown,
	EventAutoEnd,
	EventParticipants,
	EventSessionControl,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Slow subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeMany(eventType)
}

// SubscribeMany registers one subscriber for several event types. The
// payload carries its type under the "type" key.
func (b *Bus) SubscribeMany(types ...EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers and reports how many were skipped
// because their buffer was full. A nil bus discards the event.
func (b *Bus) Publish(eventType EventType, payload Payload) int {
	if b == nil {
		return 0
	}
	msg := make(Payload, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = string(eventType)

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

// Unsubscribe removes the subscriber from every type it was registered for
// and closes it.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.subs {
		for i, candidate := range subs {
			if candidate == sub {
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(sub)
}
