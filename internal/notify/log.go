/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogGateway writes messages to the log instead of a chat. It is used when no
// chat gateway is configured and treats every account as a chat member.
type LogGateway struct {
	logger zerolog.Logger
}

var (
	_ Gateway    = (*LogGateway)(nil)
	_ Membership = (*LogGateway)(nil)
)

// NewLogGateway creates a log-only gateway.
func NewLogGateway(logger zerolog.Logger) *LogGateway {
	return &LogGateway{logger: logger.With().Str("component", "notify").Logger()}
}

func (g *LogGateway) Notify(ctx context.Context, chatID string, msg Message) (MessageHandle, error) {
	h := MessageHandle{ChatID: chatID, MessageID: uuid.NewString()}
	g.logger.Info().
		Str("chat_id", chatID).
		Str("message_id", h.MessageID).
		Str("title", msg.Title).
		Msg(msg.Text)
	return h, nil
}

func (g *LogGateway) EditOrDelete(ctx context.Context, handle MessageHandle, replacement *Message) error {
	if handle.IsZero() {
		return nil
	}
	ev := g.logger.Info().Str("chat_id", handle.ChatID).Str("message_id", handle.MessageID)
	if replacement == nil {
		ev.Msg("message deleted")
		return nil
	}
	ev.Str("text", replacement.Text).Msg("message edited")
	return nil
}

func (g *LogGateway) MemberStatus(ctx context.Context, chatID, userID string) (MemberStatus, error) {
	return StatusMember, nil
}

func (g *LogGateway) ChatInfo(ctx context.Context, chatID string) (ChatInfo, error) {
	return ChatInfo{}, nil
}

func (g *LogGateway) ExportInviteLink(ctx context.Context, chatID string) (string, error) {
	return "", ErrAdminRequired
}
