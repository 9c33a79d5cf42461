/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package discord implements the notify gateway on top of a Discord bot session.
// Chat ids are Discord channel ids.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/notify"
)

const (
	maxRetries     = 3
	baseBackoff    = 2 * time.Second
	maxBackoff     = 30 * time.Second
	inviteMaxAge   = 3600
	inviteURLBase  = "https://discord.gg/"
	embedColorPlay = 0x1db954
)

// session is the subset of *discordgo.Session the gateway uses.
type session interface {
	Open() error
	Close() error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelInviteCreate(channelID string, i discordgo.Invite, options ...discordgo.RequestOption) (*discordgo.Invite, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// Gateway implements notify.Gateway and notify.Membership for Discord.
type Gateway struct {
	sess   session
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

var (
	_ notify.Gateway    = (*Gateway)(nil)
	_ notify.Membership = (*Gateway)(nil)
)

// New creates a gateway for a bot token. Connect must be called before use.
func New(token string, logger zerolog.Logger) (*Gateway, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	return newGateway(dg, logger), nil
}

func newGateway(sess session, logger zerolog.Logger) *Gateway {
	return &Gateway{
		sess:        sess,
		logger:      logger.With().Str("component", "notify_discord").Logger(),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Connect opens the Discord gateway websocket.
func (g *Gateway) Connect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connected {
		return nil
	}
	if err := g.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	g.connected = true
	g.logger.Info().Msg("discord gateway connected")
	return nil
}

// Close shuts the session down.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil
	}
	g.connected = false
	return g.sess.Close()
}

func (g *Gateway) Notify(ctx context.Context, chatID string, msg notify.Message) (notify.MessageHandle, error) {
	data := &discordgo.MessageSend{Content: msg.Text}
	if msg.Title != "" || msg.ImageURL != "" {
		embed := &discordgo.MessageEmbed{Title: msg.Title, Color: embedColorPlay}
		if msg.ImageURL != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: msg.ImageURL}
		}
		data.Embeds = []*discordgo.MessageEmbed{embed}
	}

	var sent *discordgo.Message
	err := g.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = g.sess.ChannelMessageSendComplex(chatID, data)
		return apiErr
	})
	if err != nil {
		return notify.MessageHandle{}, fmt.Errorf("discord: send message: %w", err)
	}
	return notify.MessageHandle{ChatID: chatID, MessageID: sent.ID}, nil
}

func (g *Gateway) EditOrDelete(ctx context.Context, handle notify.MessageHandle, replacement *notify.Message) error {
	if handle.IsZero() {
		return nil
	}

	if replacement == nil {
		err := g.retryOnRateLimit(ctx, func() error {
			return g.sess.ChannelMessageDelete(handle.ChatID, handle.MessageID)
		})
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("discord: delete message: %w", err)
		}
		return nil
	}

	edit := discordgo.NewMessageEdit(handle.ChatID, handle.MessageID).SetContent(replacement.Text)
	err := g.retryOnRateLimit(ctx, func() error {
		_, apiErr := g.sess.ChannelMessageEditComplex(edit)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// MemberStatus looks the user up in the guild owning chatID.
func (g *Gateway) MemberStatus(ctx context.Context, chatID, userID string) (notify.MemberStatus, error) {
	ch, err := g.sess.Channel(chatID)
	if err != nil {
		return "", g.classify("lookup channel", err)
	}
	if ch.GuildID == "" {
		return notify.StatusMember, nil
	}

	member, err := g.sess.GuildMember(ch.GuildID, userID)
	switch {
	case err == nil:
		if member.CommunicationDisabledUntil != nil && member.CommunicationDisabledUntil.After(time.Now()) {
			return notify.StatusBanned, nil
		}
		return notify.StatusMember, nil
	case isStatus(err, http.StatusNotFound):
		return notify.StatusLeft, nil
	default:
		return "", g.classify("lookup member", err)
	}
}

// ChatInfo returns no public username; Discord joins always go through invites.
func (g *Gateway) ChatInfo(ctx context.Context, chatID string) (notify.ChatInfo, error) {
	if _, err := g.sess.Channel(chatID); err != nil {
		return notify.ChatInfo{}, g.classify("lookup channel", err)
	}
	return notify.ChatInfo{}, nil
}

// ExportInviteLink creates a short-lived invite to chatID.
func (g *Gateway) ExportInviteLink(ctx context.Context, chatID string) (string, error) {
	var inv *discordgo.Invite
	err := g.retryOnRateLimit(ctx, func() error {
		var apiErr error
		inv, apiErr = g.sess.ChannelInviteCreate(chatID, discordgo.Invite{MaxAge: inviteMaxAge, MaxUses: 1})
		return apiErr
	})
	if err != nil {
		return "", g.classify("create invite", err)
	}
	return inviteURLBase + inv.Code, nil
}

func (g *Gateway) classify(op string, err error) error {
	if isStatus(err, http.StatusForbidden) {
		return fmt.Errorf("discord: %s: %w", op, notify.ErrAdminRequired)
	}
	return fmt.Errorf("discord: %s: %w", op, err)
}

func isStatus(err error, code int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == code
}

// retryOnRateLimit retries fn with exponential backoff on HTTP 429.
func (g *Gateway) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusTooManyRequests) || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * g.baseBackoff
		if wait > g.maxBackoff {
			wait = g.maxBackoff
		}
		g.logger.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
