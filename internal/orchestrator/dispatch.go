/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"time"

	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/transport"
)

const mailboxIdle = time.Minute

// mailbox queues one chat's events for its worker. The queue is unbounded so
// a chat whose worker is stuck in a slow command never holds up Run.
type mailbox struct {
	queue  []transport.Event // guarded by Controller.mbMu
	signal chan struct{}
}

// Run consumes the pool's event stream until ctx is cancelled or the stream
// closes. Each chat gets its own worker so events for one chat are handled
// in delivery order while other chats proceed in parallel.
func (c *Controller) Run(ctx context.Context) {
	src := c.deps.Pool.Events()
	defer c.workers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			c.dispatch(ctx, ev)
		}
	}
}

// dispatch appends ev to its chat's mailbox. It never blocks on the worker.
func (c *Controller) dispatch(ctx context.Context, ev transport.Event) {
	c.mbMu.Lock()
	mb := c.mailboxes[ev.ChatID]
	if mb == nil {
		mb = &mailbox{signal: make(chan struct{}, 1)}
		c.mailboxes[ev.ChatID] = mb
		c.workers.Add(1)
		go c.drain(ctx, ev.ChatID, mb)
	}
	mb.queue = append(mb.queue, ev)
	c.mbMu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event.
func (c *Controller) next(mb *mailbox) (transport.Event, bool) {
	c.mbMu.Lock()
	defer c.mbMu.Unlock()
	if len(mb.queue) == 0 {
		return transport.Event{}, false
	}
	ev := mb.queue[0]
	mb.queue[0] = transport.Event{}
	mb.queue = mb.queue[1:]
	if len(mb.queue) == 0 {
		mb.queue = nil
	}
	return ev, true
}

func (c *Controller) drain(ctx context.Context, key string, mb *mailbox) {
	defer c.workers.Done()
	idle := time.NewTimer(mailboxIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mb.signal:
			for ctx.Err() == nil {
				ev, ok := c.next(mb)
				if !ok {
					break
				}
				c.HandleEvent(ctx, ev)
			}
			idle.Reset(mailboxIdle)
		case <-idle.C:
			c.mbMu.Lock()
			if len(mb.queue) == 0 {
				delete(c.mailboxes, key)
				c.mbMu.Unlock()
				return
			}
			c.mbMu.Unlock()
			idle.Reset(mailboxIdle)
		}
	}
}

// HandleEvent applies one transport event to its session.
func (c *Controller) HandleEvent(ctx context.Context, ev transport.Event) {
	s := c.acquire(ev.ChatID, false)
	if s == nil {
		c.logger.Debug().Str("chat_id", ev.ChatID).Str("event", string(ev.Type)).Msg("event for idle chat")
		return
	}
	defer c.release(s)

	if ev.Slot != 0 && s.slot != 0 && ev.Slot != s.slot {
		c.logger.Debug().
			Str("chat_id", ev.ChatID).
			Int("event_slot", ev.Slot).
			Int("assistant", s.slot).
			Msg("event from an assistant not serving this chat")
		return
	}

	switch {
	case ev.Type.Terminal():
		if s.current() != StateIdle {
			c.teardown(ctx, s, string(ev.Type))
		}

	case ev.Type == transport.EventStreamEnded:
		if s.current() != StatePlaying {
			return
		}
		if err := c.advance(ctx, s, false); err != nil {
			c.logger.Debug().Err(err).Str("chat_id", s.key).Msg("advance")
		}

	case ev.Type == transport.EventParticipantJoined:
		c.observeParticipants(ctx, s, +1)
	case ev.Type == transport.EventParticipantLeft:
		c.observeParticipants(ctx, s, -1)
	}
}

// observeParticipants keeps the auto-end counter in step with the call.
func (c *Controller) observeParticipants(ctx context.Context, s *session, delta int) {
	if s.current() != StatePlaying {
		return
	}
	enabled, err := c.deps.Settings.IsAutoEndEnabled(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read autoend toggle")
	}
	if !enabled {
		return
	}

	count, err := c.deps.AutoEnd.Observe(s.key, delta, func() (int, error) {
		t, err := c.transportFor(s)
		if err != nil {
			return 0, err
		}
		var n int
		err = c.command(ctx, s, "participants", func(ctx context.Context) error {
			var qerr error
			n, qerr = t.Participants(ctx, s.key)
			return qerr
		})
		return n, err
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("chat_id", s.key).Msg("refresh participant count")
		return
	}
	c.publish(events.EventParticipants, events.Payload{
		"chat_id": s.key,
		"count":   count,
		"armed":   c.deps.AutoEnd.Armed(s.key),
	})
}
