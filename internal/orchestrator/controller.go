/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package orchestrator binds assistants to chat sessions and drives each
// session through join, playback, queue advancement and teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/autoend"
	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/media"
	"github.com/friendsincode/voxqueue/internal/models"
	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/settings"
	"github.com/friendsincode/voxqueue/internal/telemetry"
	"github.com/friendsincode/voxqueue/internal/transport"
)

// Assistants is the part of the assistant pool the controller uses.
type Assistants interface {
	Select(sessionKey string) (*assistant.Assistant, error)
	Events() <-chan transport.Event
}

// Settings is the persistent settings the controller reads and writes.
type Settings interface {
	GetQuality(ctx context.Context, chatID string) (settings.Quality, error)
	GetLoop(ctx context.Context, chatID string) (int, error)
	SetLoop(ctx context.Context, chatID string, n int) error
	IsAutoEndEnabled(ctx context.Context) (bool, error)
	IsCleanupEnabled(ctx context.Context) (bool, error)
	AddActiveChat(ctx context.Context, chatID string, slot int, video bool) error
	RemoveActiveChat(ctx context.Context, chatID string) error
	SetMuted(ctx context.Context, chatID string, muted bool) error
	SetMusicOn(ctx context.Context, chatID string, on bool) error
	RecordPlay(ctx context.Context, entry models.PlayHistory) error
}

// FileRemover deletes downloaded media.
type FileRemover interface {
	Remove(path string) error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Pool       Assistants
	Queue      *queue.Store
	AutoEnd    *autoend.Registry
	Settings   Settings
	Resolver   media.Resolver
	Downloader media.Downloader
	Cleaner    FileRemover
	Gateway    notify.Gateway
	Membership notify.Membership
	Templates  *notify.Templates
	Bus        *events.Bus
}

// Options tune controller timing.
type Options struct {
	// RemediationDelay is how long to wait after the assistant joins a chat
	// before retrying the call join.
	RemediationDelay time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller is the call lifecycle controller.
type Controller struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	mbMu      sync.Mutex
	mailboxes map[string]*mailbox
	workers   sync.WaitGroup
}

// New creates a controller and registers its queue clear hook.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Controller, error) {
	switch {
	case deps.Pool == nil:
		return nil, fmt.Errorf("orchestrator: %w", assistant.ErrNoAssistants)
	case deps.Queue == nil, deps.AutoEnd == nil, deps.Settings == nil, deps.Gateway == nil:
		return nil, errors.New("orchestrator: queue, autoend, settings and gateway are required")
	}
	if deps.Templates == nil {
		deps.Templates = notify.DefaultTemplates()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		deps:      deps,
		opts:      opts,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		sessions:  make(map[string]*session),
		mailboxes: make(map[string]*mailbox),
	}
	deps.Queue.OnClear(c.onQueueCleared)
	return c, nil
}

// PlayRequest asks for item to be played in chat ChatID.
type PlayRequest struct {
	ChatID string
	// OriginChat receives notifications; defaults to ChatID.
	OriginChat string
	Item       queue.Item
}

// PlayResult reports where a request landed.
type PlayResult struct {
	// Position is 0 when the item started playing, otherwise its queue position.
	Position int
	Slot     int
	ItemID   string
	Handle   notify.MessageHandle
}

// Play starts playback when the chat is idle, otherwise queues the item.
// Requests for a chat that is mid-transition wait for it to settle.
func (c *Controller) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if req.ChatID == "" || req.Item.Source.Ref == "" {
		return PlayResult{}, userError(KindInvalid, ErrInvalidRequest, "chat id and source reference are required")
	}
	if req.OriginChat == "" {
		req.OriginChat = req.ChatID
	}
	item := req.Item
	item.OriginChat = req.OriginChat
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Source.Tag == "" {
		item.Source.Tag = transport.SourceDirect
	}

	s := c.acquire(req.ChatID, true)
	defer c.release(s)

	if s.current() == StatePlaying {
		pos := c.deps.Queue.Enqueue(s.key, &item)
		c.publish(events.EventSessionQueued, events.Payload{
			"chat_id":  s.key,
			"item_id":  item.ID,
			"title":    item.Title,
			"position": pos,
		})
		return PlayResult{Position: pos, Slot: s.slot, ItemID: item.ID}, nil
	}
	return c.start(ctx, s, &item)
}

// JoinLive plays a live reference whose URL is resolved at play time.
func (c *Controller) JoinLive(ctx context.Context, req PlayRequest) (PlayResult, error) {
	req.Item.Source.Tag = transport.SourceLive
	if req.Item.Source.MediaID == "" {
		req.Item.Source.MediaID = req.Item.Source.Ref
	}
	return c.Play(ctx, req)
}

// start takes an idle session through Joining to Playing. s.mu is held.
func (c *Controller) start(ctx context.Context, s *session, item *queue.Item) (PlayResult, error) {
	a, err := c.deps.Pool.Select(s.key)
	if err != nil {
		return PlayResult{}, err
	}
	if err := s.transition(StateJoining); err != nil {
		return PlayResult{}, err
	}
	s.slot = a.Slot
	s.video = item.Kind == transport.AudioVideo

	log := c.logger.With().Str("chat_id", s.key).Str("assistant", a.Name).Logger()

	desc, err := c.describe(ctx, s.key, item)
	if err == nil {
		err = c.join(ctx, s, a, desc)
	}
	if err != nil {
		_ = s.transition(StateIdle)
		telemetry.JoinOutcomesTotal.WithLabelValues(joinOutcome(err)).Inc()
		log.Warn().Err(err).Msg("join failed")
		c.reportFailure(ctx, item, err)
		return PlayResult{}, err
	}

	if err := s.transition(StatePlaying); err != nil {
		return PlayResult{}, err
	}
	telemetry.JoinOutcomesTotal.WithLabelValues("ok").Inc()
	telemetry.SessionsActive.Inc()

	c.deps.Queue.Enqueue(s.key, item)
	c.deps.Queue.Bind(s.key, s.slot, s.video)
	c.deps.Queue.MarkPlayed(s.key, item.ID)

	if err := c.deps.Settings.AddActiveChat(ctx, s.key, s.slot, s.video); err != nil {
		log.Error().Err(err).Msg("mark chat active")
	}
	if err := c.deps.Settings.SetMuted(ctx, s.key, false); err != nil {
		log.Error().Err(err).Msg("clear mute flag")
	}
	if err := c.deps.Settings.SetMusicOn(ctx, s.key, true); err != nil {
		log.Error().Err(err).Msg("set music flag")
	}
	c.seedAutoEnd(ctx, s, a)

	log.Info().Str("title", item.Title).Str("source", string(item.Source.Tag)).Msg("joined voice chat")
	c.publish(events.EventSessionJoined, events.Payload{"chat_id": s.key, "slot": s.slot, "video": s.video})

	handle := c.nowPlaying(ctx, s, item)
	return PlayResult{Position: 0, Slot: s.slot, ItemID: item.ID, Handle: handle}, nil
}

// seedAutoEnd records the participant count right after joining. Query
// failures only cost the auto-end timer and are logged.
func (c *Controller) seedAutoEnd(ctx context.Context, s *session, a *assistant.Assistant) {
	enabled, err := c.deps.Settings.IsAutoEndEnabled(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read autoend toggle")
	}
	if !enabled {
		return
	}
	var count int
	err = c.command(ctx, s, "participants", func(ctx context.Context) error {
		n, err := a.Transport().Participants(ctx, s.key)
		count = n
		return err
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("chat_id", s.key).Msg("participant count for autoend")
		return
	}
	c.deps.AutoEnd.Seed(s.key, count)
}

// command runs one transport call for s, which must be locked.
func (c *Controller) command(ctx context.Context, s *session, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSessionSpan(ctx, name, s.key, s.slot)
	started := time.Now()
	err := fn(ctx)
	telemetry.ObserveTransport(name, started, err)
	telemetry.EndSpan(span, err)
	return err
}

// transportFor returns the transport of the assistant bound to s.
func (c *Controller) transportFor(s *session) (transport.Transport, error) {
	var (
		a   *assistant.Assistant
		err error
	)
	if s.slot != 0 {
		a, err = c.deps.Pool.Get(s.slot)
	} else {
		a, err = c.deps.Pool.Select(s.key)
	}
	if err != nil {
		return nil, err
	}
	return a.Transport(), nil
}

// say renders tmpl and sends it to chatID. Failures are logged.
func (c *Controller) say(ctx context.Context, chatID, tmpl string, data notify.Data, extra notify.Message) notify.MessageHandle {
	text, err := c.deps.Templates.Render(tmpl, data)
	if err != nil {
		c.logger.Error().Err(err).Str("template", tmpl).Msg("render message")
		return notify.MessageHandle{}
	}
	extra.Text = text
	h, err := c.deps.Gateway.Notify(ctx, chatID, extra)
	if err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Str("template", tmpl).Msg("send message")
		return notify.MessageHandle{}
	}
	return h
}

func (c *Controller) dropMessage(ctx context.Context, h notify.MessageHandle) {
	if h.IsZero() {
		return
	}
	if err := c.deps.Gateway.EditOrDelete(ctx, h, nil); err != nil {
		c.logger.Debug().Err(err).Str("chat_id", h.ChatID).Msg("delete message")
	}
}

func itemData(item *queue.Item) notify.Data {
	return notify.Data{
		Title:       item.Title,
		Ref:         item.Source.Ref,
		Duration:    notify.FormatDuration(item.Duration),
		RequestedBy: item.RequestedBy,
		Mode:        item.Mode,
	}
}

func nowPlayingTemplate(tag transport.SourceTag) string {
	switch tag {
	case transport.SourceLive:
		return notify.TmplNowPlayingLive
	case transport.SourceDownload:
		return notify.TmplNowPlayingDownload
	case transport.SourceIndex:
		return notify.TmplNowPlayingIndex
	}
	return notify.TmplNowPlayingPlain
}

// nowPlaying announces the head item, remembers the handle on it and
// records history.
func (c *Controller) nowPlaying(ctx context.Context, s *session, item *queue.Item) notify.MessageHandle {
	h := c.say(ctx, item.OriginChat, nowPlayingTemplate(item.Source.Tag), itemData(item), notify.Message{
		Title:    item.Title,
		ImageURL: item.Thumbnail,
	})
	if !h.IsZero() {
		c.deps.Queue.SetHandle(s.key, item.ID, h)
	}

	if err := c.deps.Settings.RecordPlay(ctx, models.PlayHistory{
		ChatID:      s.key,
		Slot:        s.slot,
		Title:       item.Title,
		Ref:         item.Source.Ref,
		SourceTag:   string(item.Source.Tag),
		Kind:        item.Kind.String(),
		RequestedBy: item.RequestedBy,
		StartedAt:   c.opts.Now().UTC(),
	}); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", s.key).Msg("record play history")
	}

	c.publish(events.EventNowPlaying, events.Payload{
		"chat_id": s.key,
		"item_id": item.ID,
		"title":   item.Title,
		"source":  string(item.Source.Tag),
		"slot":    s.slot,
	})
	return h
}

// reportFailure tells the origin chat why a request failed.
func (c *Controller) reportFailure(ctx context.Context, item *queue.Item, err error) {
	ue, ok := AsUserError(err)
	if !ok {
		return
	}
	switch ue.Kind {
	case KindNoActiveCall:
		c.say(ctx, item.OriginChat, notify.TmplNoActiveCall, itemData(item), notify.Message{})
	case KindAlreadyJoined:
		c.say(ctx, item.OriginChat, notify.TmplAlreadyJoined, itemData(item), notify.Message{})
	case KindResolve, KindDownload, KindPlayback, KindTransport:
		c.say(ctx, item.OriginChat, notify.TmplPlaybackError, itemData(item), notify.Message{})
	}
}

func (c *Controller) publish(t events.EventType, payload events.Payload) {
	if dropped := c.deps.Bus.Publish(t, payload); dropped > 0 {
		telemetry.EventsDroppedTotal.WithLabelValues("subscriber_full").Add(float64(dropped))
	}
}

// Status is a snapshot of one session for the command layer.
type Status struct {
	ChatID    string       `json:"chat_id"`
	State     string       `json:"state"`
	Assistant int          `json:"assistant"`
	Video     bool         `json:"video"`
	LoopCount int          `json:"loop_count"`
	Queue     []queue.Item `json:"queue"`
	AutoEnd   *AutoEnd     `json:"autoend,omitempty"`
}

// AutoEnd is the auto-end view inside a Status.
type AutoEnd struct {
	Participants int       `json:"participants"`
	Armed        bool      `json:"armed"`
	Deadline     time.Time `json:"deadline,omitempty"`
}

// Status returns the session for chatID without waiting for its lock.
func (c *Controller) Status(chatID string) (Status, bool) {
	snap, ok := c.deps.Queue.Session(chatID)
	if !ok {
		return Status{}, false
	}
	st := Status{
		ChatID:    chatID,
		State:     c.sessionState(chatID).String(),
		Assistant: snap.Assistant,
		Video:     snap.VideoActive,
		LoopCount: snap.LoopCount,
		Queue:     snap.Items,
	}
	if e, ok := c.deps.AutoEnd.Get(chatID); ok {
		st.AutoEnd = &AutoEnd{Participants: e.Count, Armed: e.Armed, Deadline: e.Deadline}
	}
	return st, true
}

// Sessions lists every session with a queue, ordered by chat id.
func (c *Controller) Sessions() []Status {
	keys := c.deps.Queue.Keys()
	out := make([]Status, 0, len(keys))
	for _, k := range keys {
		if st, ok := c.Status(k); ok {
			out = append(out, st)
		}
	}
	return out
}
