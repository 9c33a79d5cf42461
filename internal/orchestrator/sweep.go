/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/telemetry"
)

// sweepParser accepts 5-field cron expressions and descriptors like "@every 15s".
var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweep tears down every chat whose auto-end deadline has passed while the
// assistant is still alone. Each candidate is re-checked under its session
// lock, so a participant that joined in the meantime keeps the session.
func (c *Controller) Sweep(ctx context.Context) []string {
	enabled, err := c.deps.Settings.IsAutoEndEnabled(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read autoend toggle")
	}
	if !enabled {
		return nil
	}

	var ended []string
	for _, key := range c.deps.AutoEnd.Expired(c.opts.Now()) {
		if c.sweepOne(ctx, key) {
			ended = append(ended, key)
		}
	}
	return ended
}

func (c *Controller) sweepOne(ctx context.Context, key string) bool {
	s := c.acquire(key, false)
	if s == nil {
		c.deps.AutoEnd.Clear(key)
		return false
	}
	defer c.release(s)

	if s.current() != StatePlaying || !c.deps.AutoEnd.ShouldTearDown(key, c.opts.Now()) {
		return false
	}

	origin := key
	if head := c.deps.Queue.PeekHead(key); head != nil && head.OriginChat != "" {
		origin = head.OriginChat
	}
	c.teardown(ctx, s, "autoend")
	telemetry.AutoEndTeardownsTotal.Inc()

	minutes := int(c.deps.AutoEnd.Grace().Minutes())
	c.say(ctx, origin, notify.TmplAutoEnd, notify.Data{Minutes: minutes}, notify.Message{})
	c.publish(events.EventAutoEnd, events.Payload{"chat_id": key, "minutes": minutes})
	return true
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	cancel context.CancelFunc
}

// StartSweeper schedules Sweep with spec, for example "@every 15s".
func (c *Controller) StartSweeper(ctx context.Context, spec string) (*Sweeper, error) {
	ctx, cancel := context.WithCancel(ctx)
	cr := cron.New(
		cron.WithParser(sweepParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := cr.AddFunc(spec, func() {
		if ended := c.Sweep(ctx); len(ended) > 0 {
			c.logger.Info().Strs("chats", ended).Msg("auto-ended idle sessions")
		}
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule autoend sweep %q: %w", spec, err)
	}
	cr.Start()
	return &Sweeper{cron: cr, cancel: cancel}, nil
}

// Stop cancels in-flight sweeps and waits for them to return.
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
