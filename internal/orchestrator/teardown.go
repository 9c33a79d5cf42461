/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"time"

	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/telemetry"
)

// teardown ends s: clears the queue (which disarms auto-end, drops the
// active markers and leaves the call) and returns the session to Idle.
// s.mu is held.
func (c *Controller) teardown(ctx context.Context, s *session, reason string) {
	wasLive := s.current() != StateIdle
	if err := s.transition(StateTeardown); err != nil {
		c.logger.Error().Err(err).Str("chat_id", s.key).Msg("teardown")
		s.state.Store(int32(StateTeardown))
	}

	dropped := c.deps.Queue.Clear(ctx, s.key)
	for _, item := range dropped {
		c.cleanupItem(ctx, s.key, item)
	}

	if wasLive {
		telemetry.SessionsActive.Dec()
	}
	c.logger.Info().
		Str("chat_id", s.key).
		Int("assistant", s.slot).
		Str("reason", reason).
		Int("dropped", len(dropped)).
		Msg("session torn down")
	c.publish(events.EventSessionTeardown, events.Payload{"chat_id": s.key, "reason": reason})

	s.slot = 0
	s.video = false
	_ = s.transition(StateIdle)
}

// onQueueCleared is the queue clear hook. Every step is best effort: the
// call may already be gone.
func (c *Controller) onQueueCleared(ctx context.Context, key string) {
	c.deps.AutoEnd.Clear(key)

	if err := c.deps.Settings.RemoveActiveChat(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", key).Msg("remove active chat")
	}

	a, err := c.deps.Pool.Select(key)
	if err != nil {
		return
	}
	started := time.Now()
	err = a.Transport().Leave(ctx, key)
	telemetry.ObserveTransport("leave", started, err)
	if err != nil {
		c.logger.Debug().Err(err).Str("chat_id", key).Str("assistant", a.Name).Msg("leave call")
	}
}

// Stop clears the chat's queue and leaves the call.
func (c *Controller) Stop(ctx context.Context, chatID string) error {
	s := c.acquire(chatID, false)
	if s == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	defer c.release(s)

	if head := c.deps.Queue.PeekHead(chatID); head != nil {
		c.dropMessage(ctx, head.Handle)
	}
	c.teardown(ctx, s, "stop")
	return nil
}

// ForceStop tears the chat down without trusting the queue: it drops at most
// one stale head, then clears everything and leaves, ignoring failures.
func (c *Controller) ForceStop(ctx context.Context, chatID string) {
	s := c.acquire(chatID, true)
	defer c.release(s)

	if stale := c.deps.Queue.PopHead(chatID); stale != nil {
		c.dropMessage(ctx, stale.Handle)
		c.cleanupItem(ctx, chatID, stale)
	}
	c.teardown(ctx, s, "force_stop")
}

// Pause pauses the chat's stream.
func (c *Controller) Pause(ctx context.Context, chatID string) error {
	return c.control(ctx, chatID, "pause", func(ctx context.Context, s *session) error {
		t, err := c.transportFor(s)
		if err != nil {
			return err
		}
		if err := t.Pause(ctx, chatID); err != nil {
			return err
		}
		return c.deps.Settings.SetMusicOn(ctx, chatID, false)
	})
}

// Resume resumes a paused stream.
func (c *Controller) Resume(ctx context.Context, chatID string) error {
	return c.control(ctx, chatID, "resume", func(ctx context.Context, s *session) error {
		t, err := c.transportFor(s)
		if err != nil {
			return err
		}
		if err := t.Resume(ctx, chatID); err != nil {
			return err
		}
		return c.deps.Settings.SetMusicOn(ctx, chatID, true)
	})
}

// Mute mutes the assistant in the call.
func (c *Controller) Mute(ctx context.Context, chatID string) error {
	return c.control(ctx, chatID, "mute", func(ctx context.Context, s *session) error {
		t, err := c.transportFor(s)
		if err != nil {
			return err
		}
		if err := t.Mute(ctx, chatID); err != nil {
			return err
		}
		return c.deps.Settings.SetMuted(ctx, chatID, true)
	})
}

// Unmute unmutes the assistant in the call.
func (c *Controller) Unmute(ctx context.Context, chatID string) error {
	return c.control(ctx, chatID, "unmute", func(ctx context.Context, s *session) error {
		t, err := c.transportFor(s)
		if err != nil {
			return err
		}
		if err := t.Unmute(ctx, chatID); err != nil {
			return err
		}
		return c.deps.Settings.SetMuted(ctx, chatID, false)
	})
}

func (c *Controller) control(ctx context.Context, chatID, name string, fn func(context.Context, *session) error) error {
	s := c.acquire(chatID, false)
	if s == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	defer c.release(s)
	if s.current() != StatePlaying {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}

	err := c.command(ctx, s, name, func(ctx context.Context) error {
		return fn(ctx, s)
	})
	if err != nil {
		if _, ok := AsUserError(err); ok {
			return err
		}
		c.logger.Warn().Err(err).Str("chat_id", chatID).Str("command", name).Msg("control command failed")
		return userError(KindTransport, err, "could not %s the stream", name)
	}
	c.publish(events.EventSessionControl, events.Payload{"chat_id": chatID, "action": name})
	return nil
}
