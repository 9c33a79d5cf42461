/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/media"
	"github.com/friendsincode/voxqueue/internal/models"
	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/telemetry"
	"github.com/friendsincode/voxqueue/internal/transport"
)

type decision int

const (
	decideReplay decision = iota
	decidePop
)

// decide picks what a finished stream does to the queue.
func decide(loopCount int) decision {
	if loopCount > 0 {
		return decideReplay
	}
	return decidePop
}

// advance moves s to its next item after the head finished (or was skipped
// when ignoreLoop is set). s.mu is held and s is Playing.
func (c *Controller) advance(ctx context.Context, s *session, ignoreLoop bool) error {
	if err := s.transition(StateAdvancing); err != nil {
		return err
	}
	log := c.logger.With().Str("chat_id", s.key).Int("assistant", s.slot).Logger()

	loop := 0
	if !ignoreLoop {
		n, err := c.deps.Settings.GetLoop(ctx, s.key)
		if err != nil {
			log.Warn().Err(err).Msg("read loop count")
		}
		loop = n
	}

	var popped *queue.Item
	if decide(loop) == decideReplay {
		loop--
		if err := c.deps.Settings.SetLoop(ctx, s.key, loop); err != nil {
			log.Warn().Err(err).Msg("persist loop count")
		}
		c.deps.Queue.SetLoopCount(s.key, loop)
	} else {
		popped = c.deps.Queue.PopHead(s.key)
	}

	next := c.deps.Queue.PeekHead(s.key)
	if next == nil {
		telemetry.AdvanceOutcomesTotal.WithLabelValues("queue_empty").Inc()
		c.teardown(ctx, s, "queue_empty")
		c.cleanupItem(ctx, s.key, popped)
		return nil
	}
	c.cleanupItem(ctx, s.key, popped)
	if popped != nil && ignoreLoop {
		c.dropMessage(ctx, popped.Handle)
	}

	err := c.switchTo(ctx, s, next, 0)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("title", next.Title).Msg("advance halted")
	case popped == nil:
		telemetry.AdvanceOutcomesTotal.WithLabelValues("replay").Inc()
	default:
		telemetry.AdvanceOutcomesTotal.WithLabelValues("next").Inc()
	}
	if terr := s.transition(StatePlaying); terr != nil {
		return terr
	}
	return err
}

// switchTo resolves item, changes the call's stream to it and announces it.
// Resolution and transport failures are reported to the origin chat and the
// head is left in place.
func (c *Controller) switchTo(ctx context.Context, s *session, item *queue.Item, seek time.Duration) error {
	desc, err := c.describe(ctx, s.key, item)
	if err != nil {
		telemetry.AdvanceOutcomesTotal.WithLabelValues(string(kindOf(err))).Inc()
		c.reportFailure(ctx, item, err)
		return err
	}
	if seek > 0 {
		desc.SeekFrom = seek
		if item.Duration > 0 {
			desc.SeekTo = item.Duration
		}
	}

	t, err := c.transportFor(s)
	if err == nil {
		err = c.command(ctx, s, "change_stream", func(ctx context.Context) error {
			return t.ChangeStream(ctx, s.key, desc)
		})
	}
	if err != nil {
		telemetry.AdvanceOutcomesTotal.WithLabelValues(string(KindPlayback)).Inc()
		ue := userError(KindPlayback, err, "failed to switch stream")
		c.reportFailure(ctx, item, ue)
		c.publish(events.EventPlaybackError, events.Payload{"chat_id": s.key, "item_id": item.ID, "error": err.Error()})
		return ue
	}

	c.deps.Queue.MarkPlayed(s.key, item.ID)
	if seek == 0 {
		c.nowPlaying(ctx, s, item)
	}
	return nil
}

func kindOf(err error) ErrorKind {
	if ue, ok := AsUserError(err); ok {
		return ue.Kind
	}
	return KindPlayback
}

// describe turns a queue item into a stream descriptor, checking the source
// tag in precedence order live, download, index, direct.
func (c *Controller) describe(ctx context.Context, key string, item *queue.Item) (transport.StreamDescriptor, error) {
	quality, err := c.deps.Settings.GetQuality(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("chat_id", key).Msg("read quality settings")
	}
	desc := transport.StreamDescriptor{
		Kind:         item.Kind,
		AudioBitrate: quality.AudioBitrate,
	}
	if item.Kind == transport.AudioVideo {
		desc.VideoBitrate = quality.VideoBitrate
	}
	if desc.AudioBitrate == 0 {
		desc.AudioBitrate = models.DefaultAudioBitrate
	}
	if item.Kind == transport.AudioVideo && desc.VideoBitrate == 0 {
		desc.VideoBitrate = models.DefaultVideoBitrate
	}

	switch item.Source.Tag {
	case transport.SourceLive:
		if c.deps.Resolver == nil {
			return desc, userError(KindResolve, media.ErrResolve, "no resolver configured for live streams")
		}
		ref := item.Source.MediaID
		if ref == "" {
			ref = item.Source.Ref
		}
		res, err := c.deps.Resolver.Resolve(ctx, ref, item.Kind)
		if err != nil {
			return desc, userError(KindResolve, err, "could not resolve %q", item.Title)
		}
		desc.Source = res.URL
		desc.AudioSource = res.AudioURL

	case transport.SourceDownload:
		if item.LocalPath == "" {
			if c.deps.Downloader == nil {
				return desc, userError(KindDownload, media.ErrDownload, "no downloader configured")
			}
			progress := c.say(ctx, item.OriginChat, notify.TmplDownloading, itemData(item), notify.Message{})
			path, err := c.deps.Downloader.Download(ctx, item.Source.Ref, item.Kind)
			c.dropMessage(ctx, progress)
			if err != nil {
				return desc, userError(KindDownload, err, "could not download %q", item.Title)
			}
			item.LocalPath = path
			c.deps.Queue.SetLocalPath(key, item.ID, path)
		}
		desc.Source = item.LocalPath

	case transport.SourceIndex:
		desc.Source = item.Source.Ref

	default:
		desc.Source = item.Source.Ref
	}
	return desc, nil
}

// cleanupItem removes a finished item's downloaded file when cleanup is
// enabled and nothing still queued points at it. Failures are logged.
func (c *Controller) cleanupItem(ctx context.Context, key string, item *queue.Item) {
	if item == nil || item.LocalPath == "" || c.deps.Cleaner == nil {
		return
	}
	enabled, err := c.deps.Settings.IsCleanupEnabled(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read cleanup toggle")
	}
	if !enabled {
		return
	}
	for _, queued := range c.deps.Queue.Items(key) {
		if queued.LocalPath == item.LocalPath {
			return
		}
	}
	if err := c.deps.Cleaner.Remove(item.LocalPath); err != nil {
		c.logger.Warn().Err(err).Str("path", item.LocalPath).Msg("remove downloaded file")
	}
}

// Skip ends the current item regardless of the loop counter.
func (c *Controller) Skip(ctx context.Context, chatID string) error {
	s := c.acquire(chatID, false)
	if s == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	defer c.release(s)
	if s.current() != StatePlaying {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	if err := c.deps.Settings.SetLoop(ctx, chatID, 0); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("reset loop on skip")
	}
	c.deps.Queue.SetLoopCount(chatID, 0)
	return c.advance(ctx, s, true)
}

// ChangeStream replaces the current head with item and switches to it.
func (c *Controller) ChangeStream(ctx context.Context, chatID string, item queue.Item) error {
	if item.Source.Ref == "" {
		return userError(KindInvalid, ErrInvalidRequest, "source reference is required")
	}
	s := c.acquire(chatID, false)
	if s == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	defer c.release(s)
	if s.current() != StatePlaying {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}

	if item.OriginChat == "" {
		item.OriginChat = chatID
	}
	if item.Source.Tag == "" {
		item.Source.Tag = transport.SourceDirect
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	if err := s.transition(StateAdvancing); err != nil {
		return err
	}
	old := c.deps.Queue.ReplaceHead(chatID, &item)
	if old != nil {
		c.dropMessage(ctx, old.Handle)
		c.cleanupItem(ctx, chatID, old)
	}
	err := c.switchTo(ctx, s, &item, 0)
	if terr := s.transition(StatePlaying); terr != nil {
		return terr
	}
	return err
}

// Seek restarts the head item at offset to.
func (c *Controller) Seek(ctx context.Context, chatID string, to time.Duration) error {
	s := c.acquire(chatID, false)
	if s == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	defer c.release(s)
	if s.current() != StatePlaying {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}

	head := c.deps.Queue.PeekHead(chatID)
	if head == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	switch {
	case head.Source.Tag == transport.SourceLive:
		return userError(KindInvalid, ErrInvalidRequest, "live streams cannot be seeked")
	case to <= 0:
		return userError(KindInvalid, ErrInvalidRequest, "seek offset must be positive")
	case head.Duration > 0 && to >= head.Duration:
		return userError(KindInvalid, ErrInvalidRequest, "seek offset is past the end of the track")
	}

	if err := s.transition(StateAdvancing); err != nil {
		return err
	}
	err := c.switchTo(ctx, s, head, to)
	if terr := s.transition(StatePlaying); terr != nil {
		return terr
	}
	return err
}

// SetLoop sets how many more times the current item repeats.
func (c *Controller) SetLoop(ctx context.Context, chatID string, n int) error {
	if n < 0 {
		return userError(KindInvalid, ErrInvalidRequest, "loop count cannot be negative")
	}
	s := c.acquire(chatID, false)
	if s == nil {
		return userError(KindNotPlaying, ErrNotPlaying, "nothing is playing")
	}
	defer c.release(s)
	if err := c.deps.Settings.SetLoop(ctx, chatID, n); err != nil {
		return err
	}
	c.deps.Queue.SetLoopCount(chatID, n)
	return nil
}
