/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/autoend"
	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/media"
	"github.com/friendsincode/voxqueue/internal/models"
	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/settings"
	"github.com/friendsincode/voxqueue/internal/transport"
)

// call is one recorded transport command.
type call struct {
	Op     string
	ChatID string
	Stream transport.StreamDescriptor
	Target string
}

// fakeTransport records commands and checks that no chat ever has two
// commands in flight.
type fakeTransport struct {
	slot int

	mu           sync.Mutex
	calls        []call
	joinErrs     []error // consumed one per Join
	changeErr    error
	leaveErr     error
	joinChatErr  error
	controlErr   error // returned by pause, resume, mute and unmute
	participants int
	delay        time.Duration
	inflight     map[string]int
	overlap      bool
	events       chan transport.Event
	stopped      bool

	// Join for blockChat waits on blockJoin.
	blockChat string
	blockJoin chan struct{}
}

func newFakeTransport(slot int) *fakeTransport {
	return &fakeTransport{
		slot:         slot,
		participants: 3,
		inflight:     make(map[string]int),
		events:       make(chan transport.Event, 16),
	}
}

func (f *fakeTransport) enter(op, chatID string, stream transport.StreamDescriptor, target string) func() {
	f.mu.Lock()
	f.calls = append(f.calls, call{Op: op, ChatID: chatID, Stream: stream, Target: target})
	f.inflight[chatID]++
	if f.inflight[chatID] > 1 {
		f.overlap = true
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		f.mu.Lock()
		f.inflight[chatID]--
		f.mu.Unlock()
	}
}

func (f *fakeTransport) Start(context.Context) error { return nil }

func (f *fakeTransport) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) SelfID() string { return fmt.Sprintf("assistant-user-%d", f.slot) }

func (f *fakeTransport) JoinChat(_ context.Context, target string) error {
	done := f.enter("join_chat", "", transport.StreamDescriptor{}, target)
	defer done()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinChatErr
}

func (f *fakeTransport) Join(_ context.Context, chatID string, stream transport.StreamDescriptor) error {
	done := f.enter("join", chatID, stream, "")
	defer done()
	f.mu.Lock()
	block := f.blockJoin
	if chatID != f.blockChat {
		block = nil
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joinErrs) == 0 {
		return nil
	}
	err := f.joinErrs[0]
	f.joinErrs = f.joinErrs[1:]
	return err
}

func (f *fakeTransport) ChangeStream(_ context.Context, chatID string, stream transport.StreamDescriptor) error {
	done := f.enter("change_stream", chatID, stream, "")
	defer done()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changeErr
}

func (f *fakeTransport) Leave(_ context.Context, chatID string) error {
	done := f.enter("leave", chatID, transport.StreamDescriptor{}, "")
	defer done()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaveErr
}

func (f *fakeTransport) simple(op, chatID string) error {
	done := f.enter(op, chatID, transport.StreamDescriptor{}, "")
	done()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controlErr
}

func (f *fakeTransport) Pause(_ context.Context, chatID string) error  { return f.simple("pause", chatID) }
func (f *fakeTransport) Resume(_ context.Context, chatID string) error { return f.simple("resume", chatID) }
func (f *fakeTransport) Mute(_ context.Context, chatID string) error   { return f.simple("mute", chatID) }
func (f *fakeTransport) Unmute(_ context.Context, chatID string) error { return f.simple("unmute", chatID) }

func (f *fakeTransport) Participants(_ context.Context, chatID string) (int, error) {
	done := f.enter("participants", chatID, transport.StreamDescriptor{}, "")
	defer done()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants, nil
}

func (f *fakeTransport) Ping(context.Context) (time.Duration, error) { return time.Millisecond, nil }
func (f *fakeTransport) Events() <-chan transport.Event              { return f.events }

func (f *fakeTransport) setParticipants(n int) {
	f.mu.Lock()
	f.participants = n
	f.mu.Unlock()
}

// ops returns the recorded operations for chatID, in order.
func (f *fakeTransport) ops(chatID string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) count(chatID, op string) int {
	n := 0
	for _, c := range f.ops(chatID) {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastStream(chatID string) (transport.StreamDescriptor, bool) {
	ops := f.ops(chatID)
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Op == "change_stream" || ops[i].Op == "join" {
			return ops[i].Stream, true
		}
	}
	return transport.StreamDescriptor{}, false
}

func (f *fakeTransport) overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

// fakeSettings is an in-memory settings store.
type fakeSettings struct {
	mu      sync.Mutex
	loop    map[string]int
	active  map[string]models.ActiveChat
	autoEnd bool
	cleanup bool
	history []models.PlayHistory
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{loop: make(map[string]int), active: make(map[string]models.ActiveChat)}
}

func (s *fakeSettings) GetQuality(context.Context, string) (settings.Quality, error) {
	return settings.Quality{AudioBitrate: 96, VideoBitrate: 480}, nil
}

func (s *fakeSettings) GetLoop(_ context.Context, chatID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop[chatID], nil
}

func (s *fakeSettings) SetLoop(_ context.Context, chatID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop[chatID] = n
	return nil
}

func (s *fakeSettings) IsAutoEndEnabled(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoEnd, nil
}

func (s *fakeSettings) IsCleanupEnabled(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanup, nil
}

func (s *fakeSettings) AddActiveChat(_ context.Context, chatID string, slot int, video bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[chatID] = models.ActiveChat{ChatID: chatID, Slot: slot, Video: video}
	return nil
}

func (s *fakeSettings) RemoveActiveChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, chatID)
	return nil
}

func (s *fakeSettings) update(chatID string, fn func(*models.ActiveChat)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.active[chatID]; ok {
		fn(&row)
		s.active[chatID] = row
	}
}

func (s *fakeSettings) SetMuted(_ context.Context, chatID string, muted bool) error {
	s.update(chatID, func(r *models.ActiveChat) { r.Muted = muted })
	return nil
}

func (s *fakeSettings) SetMusicOn(_ context.Context, chatID string, on bool) error {
	s.update(chatID, func(r *models.ActiveChat) { r.MusicOn = on })
	return nil
}

func (s *fakeSettings) RecordPlay(_ context.Context, entry models.PlayHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *fakeSettings) activeRow(chatID string) (models.ActiveChat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.active[chatID]
	return row, ok
}

// fakeGateway records sent messages and answers membership queries.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []sentMessage
	edits    []notify.MessageHandle
	deleted  []notify.MessageHandle
	next     int
	status   notify.MemberStatus
	statusEr error
	info     notify.ChatInfo
	exported string
	exportEr error
}

type sentMessage struct {
	ChatID string
	Msg    notify.Message
	Handle notify.MessageHandle
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: notify.StatusMember}
}

func (g *fakeGateway) Notify(_ context.Context, chatID string, msg notify.Message) (notify.MessageHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	h := notify.MessageHandle{ChatID: chatID, MessageID: fmt.Sprintf("m%d", g.next)}
	g.sent = append(g.sent, sentMessage{ChatID: chatID, Msg: msg, Handle: h})
	return h, nil
}

func (g *fakeGateway) EditOrDelete(_ context.Context, h notify.MessageHandle, replacement *notify.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if replacement == nil {
		g.deleted = append(g.deleted, h)
	} else {
		g.edits = append(g.edits, h)
	}
	return nil
}

func (g *fakeGateway) MemberStatus(context.Context, string, string) (notify.MemberStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.statusEr
}

func (g *fakeGateway) ChatInfo(context.Context, string) (notify.ChatInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info, nil
}

func (g *fakeGateway) ExportInviteLink(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exported, g.exportEr
}

// messages returns the texts sent to chatID containing substr.
func (g *fakeGateway) messages(chatID, substr string) []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentMessage
	for _, m := range g.sent {
		if m.ChatID == chatID && strings.Contains(m.Msg.Text, substr) {
			out = append(out, m)
		}
	}
	return out
}

type fakeResolver struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (r *fakeResolver) Resolve(_ context.Context, ref string, kind transport.StreamKind) (media.Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ref)
	if r.err != nil {
		return media.Resolved{}, r.err
	}
	return media.Resolved{URL: "https://cdn.example/" + ref, AudioURL: "https://cdn.example/" + ref + "/audio"}, nil
}

type fakeDownloader struct {
	mu  sync.Mutex
	err error
}

func (d *fakeDownloader) Download(_ context.Context, ref string, kind transport.StreamKind) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	return "/media/" + ref + ".webm", nil
}

type fakeCleaner struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (c *fakeCleaner) Remove(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, path)
	return c.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness wires a controller to fakes with two assistant slots.
type harness struct {
	ctrl       *Controller
	pool       *assistant.Pool
	transports map[int]*fakeTransport
	queue      *queue.Store
	autoend    *autoend.Registry
	settings   *fakeSettings
	gateway    *fakeGateway
	resolver   *fakeResolver
	downloader *fakeDownloader
	cleaner    *fakeCleaner
	clock      *fakeClock
	bus        *events.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transports: make(map[int]*fakeTransport),
		queue:      queue.NewStore(),
		settings:   newFakeSettings(),
		gateway:    newFakeGateway(),
		resolver:   &fakeResolver{},
		downloader: &fakeDownloader{},
		cleaner:    &fakeCleaner{},
		clock:      &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)},
		bus:        events.NewBus(),
	}
	h.autoend = autoend.NewRegistry(autoend.DefaultGrace, h.clock.Now)

	pool, err := assistant.NewPool([]assistant.SlotConfig{
		{Slot: 1, Credential: "one"},
		{Slot: 2, Credential: "two"},
	}, func(sc assistant.SlotConfig) (transport.Transport, error) {
		ft := newFakeTransport(sc.Slot)
		h.transports[sc.Slot] = ft
		return ft, nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	h.pool = pool

	ctrl, err := New(Deps{
		Pool:       pool,
		Queue:      h.queue,
		AutoEnd:    h.autoend,
		Settings:   h.settings,
		Resolver:   h.resolver,
		Downloader: h.downloader,
		Cleaner:    h.cleaner,
		Gateway:    h.gateway,
		Membership: h.gateway,
		Bus:        h.bus,
	}, Options{Now: h.clock.Now}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// transport returns the fake serving chatID.
func (h *harness) transport(t *testing.T, chatID string) *fakeTransport {
	t.Helper()
	a, err := h.pool.Select(chatID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	return h.transports[a.Slot]
}

func (h *harness) play(t *testing.T, chatID, ref string) PlayResult {
	t.Helper()
	res, err := h.ctrl.Play(context.Background(), PlayRequest{
		ChatID: chatID,
		Item: queue.Item{
			Source:      transport.Source{Tag: transport.SourceDirect, Ref: ref},
			Title:       "track " + ref,
			RequestedBy: "alice",
		},
	})
	if err != nil {
		t.Fatalf("play %s: %v", ref, err)
	}
	return res
}

func (h *harness) event(chatID string, typ transport.EventType) {
	h.ctrl.HandleEvent(context.Background(), transport.Event{Type: typ, ChatID: chatID})
}

var errBoom = errors.New("boom")

func itemFor(ref string) queue.Item {
	return queue.Item{
		Source: transport.Source{Tag: transport.SourceDirect, Ref: ref},
		Title:  "track " + ref,
	}
}
