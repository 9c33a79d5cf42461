/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify is the orchestrator's view of the chat messaging gateway:
// sending and editing user-facing messages and checking assistant membership.
package notify

import (
	"context"
	"errors"
)

var (
	// ErrAdminRequired is returned when the bot lacks the rights to inspect
	// or invite members of a chat.
	ErrAdminRequired = errors.New("bot needs admin rights in this chat")

	// ErrAssistantBanned is returned when the assistant account is banned or
	// kicked from the chat and cannot rejoin on its own.
	ErrAssistantBanned = errors.New("assistant is banned from this chat")
)

// MessageHandle identifies a sent message so it can be edited or deleted later.
type MessageHandle struct {
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// IsZero reports whether the handle refers to no message.
func (h MessageHandle) IsZero() bool {
	return h.MessageID == ""
}

// Message is a rendered user-facing message.
type Message struct {
	Text     string
	Title    string
	ImageURL string
}

// Gateway sends messages to chats.
type Gateway interface {
	Notify(ctx context.Context, chatID string, msg Message) (MessageHandle, error)

	// EditOrDelete replaces the message with replacement, or deletes it when
	// replacement is nil.
	EditOrDelete(ctx context.Context, handle MessageHandle, replacement *Message) error
}

// MemberStatus is an account's standing in a chat.
type MemberStatus string

const (
	StatusMember MemberStatus = "member"
	StatusLeft   MemberStatus = "left"
	StatusBanned MemberStatus = "banned"
)

// ChatInfo carries the public ways to join a chat.
type ChatInfo struct {
	Username   string
	InviteLink string
}

// Membership answers chat-membership questions for assistant remediation.
type Membership interface {
	MemberStatus(ctx context.Context, chatID, userID string) (MemberStatus, error)
	ChatInfo(ctx context.Context, chatID string) (ChatInfo, error)
	ExportInviteLink(ctx context.Context, chatID string) (string, error)
}
