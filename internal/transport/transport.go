/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport defines the voice-call capability the orchestrator drives.
// The actual media transport lives outside this process; adapters such as
// natsengine translate these calls into commands for a remote call engine.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoActiveCall is returned by Join when the chat has no running voice chat.
	ErrNoActiveCall = errors.New("no active group call")

	// ErrAlreadyJoined is returned by Join when the assistant is already in the call.
	ErrAlreadyJoined = errors.New("already joined group call")

	// ErrNotInCall is returned by stream commands for a chat the assistant is not in.
	ErrNotInCall = errors.New("not in group call")

	// ErrAlreadyParticipant is returned by JoinChat when the assistant is already a member.
	ErrAlreadyParticipant = errors.New("already a chat participant")

	// ErrNotStarted indicates the transport client has not been started.
	ErrNotStarted = errors.New("transport not started")
)

// StreamKind selects audio-only or audio+video output.
type StreamKind int

const (
	Audio StreamKind = iota
	AudioVideo
)

func (k StreamKind) String() string {
	if k == AudioVideo {
		return "video"
	}
	return "audio"
}

// ParseStreamKind maps the wire names "audio" and "video" to a StreamKind.
// Anything that is not "video" is audio.
func ParseStreamKind(s string) StreamKind {
	if s == "video" {
		return AudioVideo
	}
	return Audio
}

// SourceTag tells the queue advancer how a stored reference becomes a stream source.
type SourceTag string

const (
	SourceLive     SourceTag = "live"     // re-resolve a fresh URL at play time
	SourceDownload SourceTag = "download" // fetch to local storage before playing
	SourceIndex    SourceTag = "index"    // pre-fetched reference, play as stored
	SourceDirect   SourceTag = "direct"   // ready-to-stream URL or path
)

// Source is a queue item's media reference.
type Source struct {
	Tag     SourceTag `json:"tag"`
	Ref     string    `json:"ref"`
	MediaID string    `json:"media_id,omitempty"`
}

// StreamDescriptor carries everything needed to start or switch a call's outgoing media.
type StreamDescriptor struct {
	Source       string        `json:"source"`
	AudioSource  string        `json:"audio_source,omitempty"` // separate audio track for live streams
	Kind         StreamKind    `json:"kind"`
	AudioBitrate int           `json:"audio_bitrate"`
	VideoBitrate int           `json:"video_bitrate,omitempty"`
	SeekFrom     time.Duration `json:"seek_from,omitempty"`
	SeekTo       time.Duration `json:"seek_to,omitempty"`
}

// EventType enumerates transport lifecycle events.
type EventType string

const (
	EventStreamEnded       EventType = "stream_ended"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventKicked            EventType = "kicked"
	EventLeft              EventType = "left"
	EventCallClosed        EventType = "call_closed"
)

// Terminal reports whether the event ends the session.
func (t EventType) Terminal() bool {
	return t == EventKicked || t == EventLeft || t == EventCallClosed
}

// Event is a lifecycle notification from a transport client. Slot is filled in
// by the assistant pool when events are fanned in.
type Event struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id"`
	Slot   int       `json:"slot,omitempty"`
	At     time.Time `json:"at"`
}

// Transport is one assistant's connection to the voice-call engine.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// SelfID is the assistant account id, valid after Start.
	SelfID() string

	// JoinChat makes the assistant account a member of a chat by username or invite link.
	JoinChat(ctx context.Context, target string) error

	Join(ctx context.Context, chatID string, stream StreamDescriptor) error
	ChangeStream(ctx context.Context, chatID string, stream StreamDescriptor) error
	Leave(ctx context.Context, chatID string) error

	Pause(ctx context.Context, chatID string) error
	Resume(ctx context.Context, chatID string) error
	Mute(ctx context.Context, chatID string) error
	Unmute(ctx context.Context, chatID string) error

	// Participants returns the number of participants in the call, the assistant included.
	Participants(ctx context.Context, chatID string) (int, error)

	Ping(ctx context.Context) (time.Duration, error)

	// Events delivers lifecycle events in transport order. The channel is closed by Stop.
	Events() <-chan Event
}
