/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package natsengine drives a remote voice-call engine over NATS request/reply.
// Each assistant slot owns a subject namespace:
//
//	<prefix>.<slot>.<verb>    commands (request/reply, JSON)
//	<prefix>.<slot>.events    lifecycle events published by the engine
package natsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/transport"
)

// Error codes returned by the engine in command replies.
const (
	CodeNoActiveCall       = "no_active_call"
	CodeAlreadyJoined      = "already_joined"
	CodeNotInCall          = "not_in_call"
	CodeAlreadyParticipant = "already_participant"
)

const (
	defaultEventBuffer    = 256
	defaultCommandTimeout = 15 * time.Second
	defaultSubjectPrefix  = "voxqueue.engine"
)

// conn is the subset of *nats.Conn the engine uses.
type conn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Config configures one engine client.
type Config struct {
	Slot          int
	Credential    string
	SubjectPrefix string
	Timeout       time.Duration
}

// Engine implements transport.Transport for one assistant slot.
type Engine struct {
	nc     conn
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	selfID  string
	sub     *nats.Subscription

	sendMu sync.RWMutex
	events chan transport.Event
	done   chan struct{}
	closed bool
}

var _ transport.Transport = (*Engine)(nil)

// New creates an engine client bound to an existing NATS connection.
func New(nc *nats.Conn, cfg Config, logger zerolog.Logger) *Engine {
	return newEngine(nc, cfg, logger)
}

// Dialer returns an assistant.Dialer that binds every slot to nc.
func Dialer(nc *nats.Conn, prefix string, timeout time.Duration, logger zerolog.Logger) assistant.Dialer {
	return func(slot assistant.SlotConfig) (transport.Transport, error) {
		return New(nc, Config{
			Slot:          slot.Slot,
			Credential:    slot.Credential,
			SubjectPrefix: prefix,
			Timeout:       timeout,
		}, logger), nil
	}
}

func newEngine(nc conn, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	return &Engine{
		nc:     nc,
		cfg:    cfg,
		logger: logger.With().Str("component", "natsengine").Int("slot", cfg.Slot).Logger(),
		events: make(chan transport.Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
}

// command is the request envelope sent to the engine.
type command struct {
	ID         string                      `json:"id"`
	Credential string                      `json:"credential,omitempty"`
	ChatID     string                      `json:"chat_id,omitempty"`
	Target     string                      `json:"target,omitempty"`
	Stream     *transport.StreamDescriptor `json:"stream,omitempty"`
	SentAt     time.Time                   `json:"sent_at"`
}

// reply is the response envelope returned by the engine.
type reply struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	SelfID    string `json:"self_id,omitempty"`
	Count     int    `json:"count,omitempty"`
}

func (e *Engine) subject(verb string) string {
	return fmt.Sprintf("%s.%d.%s", e.cfg.SubjectPrefix, e.cfg.Slot, verb)
}

// Start authenticates the slot with the engine and subscribes to its events.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	rep, err := e.request(ctx, "start", command{Credential: e.cfg.Credential})
	if err != nil {
		return fmt.Errorf("start slot %d: %w", e.cfg.Slot, err)
	}

	sub, err := e.nc.Subscribe(e.subject("events"), e.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}

	e.sub = sub
	e.selfID = rep.SelfID
	e.started = true

	e.logger.Info().Str("self_id", e.selfID).Msg("assistant connected to call engine")
	return nil
}

// Stop unsubscribes, tells the engine to release the slot and closes the event channel.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	e.started = false

	if e.sub != nil {
		if err := e.sub.Unsubscribe(); err != nil {
			e.logger.Debug().Err(err).Msg("unsubscribe events failed")
		}
		e.sub = nil
	}

	_, err := e.request(ctx, "stop", command{})
	e.closeEvents()

	if err != nil {
		return fmt.Errorf("stop slot %d: %w", e.cfg.Slot, err)
	}
	e.logger.Info().Msg("assistant disconnected from call engine")
	return nil
}

// SelfID returns the assistant account id reported at Start.
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

func (e *Engine) JoinChat(ctx context.Context, target string) error {
	_, err := e.request(ctx, "join_chat", command{Target: target})
	return err
}

func (e *Engine) Join(ctx context.Context, chatID string, stream transport.StreamDescriptor) error {
	_, err := e.request(ctx, "join", command{ChatID: chatID, Stream: &stream})
	return err
}

func (e *Engine) ChangeStream(ctx context.Context, chatID string, stream transport.StreamDescriptor) error {
	_, err := e.request(ctx, "change_stream", command{ChatID: chatID, Stream: &stream})
	return err
}

func (e *Engine) Leave(ctx context.Context, chatID string) error {
	_, err := e.request(ctx, "leave", command{ChatID: chatID})
	return err
}

func (e *Engine) Pause(ctx context.Context, chatID string) error {
	_, err := e.request(ctx, "pause", command{ChatID: chatID})
	return err
}

func (e *Engine) Resume(ctx context.Context, chatID string) error {
	_, err := e.request(ctx, "resume", command{ChatID: chatID})
	return err
}

func (e *Engine) Mute(ctx context.Context, chatID string) error {
	_, err := e.request(ctx, "mute", command{ChatID: chatID})
	return err
}

func (e *Engine) Unmute(ctx context.Context, chatID string) error {
	_, err := e.request(ctx, "unmute", command{ChatID: chatID})
	return err
}

func (e *Engine) Participants(ctx context.Context, chatID string) (int, error) {
	rep, err := e.request(ctx, "participants", command{ChatID: chatID})
	if err != nil {
		return 0, err
	}
	return rep.Count, nil
}

// Ping measures one request/reply round trip to the engine.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := e.request(ctx, "ping", command{}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (e *Engine) Events() <-chan transport.Event {
	return e.events
}

func (e *Engine) request(ctx context.Context, verb string, cmd command) (*reply, error) {
	cmd.ID = uuid.NewString()
	cmd.SentAt = time.Now().UTC()

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", verb, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	msg, err := e.nc.RequestWithContext(ctx, e.subject(verb), data)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", verb, err)
	}

	var rep reply
	if err := json.Unmarshal(msg.Data, &rep); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", verb, err)
	}
	if !rep.OK {
		return nil, replyError(verb, rep)
	}
	return &rep, nil
}

// replyError maps engine error codes onto transport sentinel errors.
func replyError(verb string, rep reply) error {
	var sentinel error
	switch rep.ErrorCode {
	case CodeNoActiveCall:
		sentinel = transport.ErrNoActiveCall
	case CodeAlreadyJoined:
		sentinel = transport.ErrAlreadyJoined
	case CodeNotInCall:
		sentinel = transport.ErrNotInCall
	case CodeAlreadyParticipant:
		sentinel = transport.ErrAlreadyParticipant
	}

	msg := rep.Error
	if msg == "" {
		msg = rep.ErrorCode
	}
	if sentinel != nil {
		return fmt.Errorf("%s: %w: %s", verb, sentinel, msg)
	}
	return fmt.Errorf("%s: %w", verb, errors.New(msg))
}

func (e *Engine) handleEvent(msg *nats.Msg) {
	var ev transport.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		e.logger.Warn().Err(err).Msg("dropping malformed engine event")
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.Slot = e.cfg.Slot

	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.closed {
		return
	}

	// Blocking send keeps per-chat event order intact.
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) closeEvents() {
	e.sendMu.RLock()
	closed := e.closed
	e.sendMu.RUnlock()
	if closed {
		return
	}

	close(e.done)
	e.sendMu.Lock()
	e.closed = true
	close(e.events)
	e.sendMu.Unlock()
}
