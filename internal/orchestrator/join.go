/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/notify"
	"github.com/friendsincode/voxqueue/internal/transport"
)

// joinStep is a state of the join state machine.
type joinStep int

const (
	stepJoin joinStep = iota
	stepRemediate
	stepRetry
	stepFail
)

// join puts assistant a into the chat's call with desc as the first stream.
//
// A missing call triggers one remediation (make sure the assistant is a
// member of the chat) followed by exactly one retry. "Already joined" is
// reported without retrying. Remediation failures are returned unchanged.
func (c *Controller) join(ctx context.Context, s *session, a *assistant.Assistant, desc transport.StreamDescriptor) error {
	t := a.Transport()
	attempt := func() error {
		return c.command(ctx, s, "join", func(ctx context.Context) error {
			return t.Join(ctx, s.key, desc)
		})
	}

	step := stepJoin
	for {
		switch step {
		case stepJoin, stepRetry:
			err := attempt()
			switch {
			case err == nil:
				return nil
			case errors.Is(err, transport.ErrAlreadyJoined):
				return userError(KindAlreadyJoined, err, "assistant is already in the voice chat")
			case errors.Is(err, transport.ErrNoActiveCall):
				if step == stepRetry {
					step = stepFail
				} else {
					step = stepRemediate
				}
			default:
				return userError(KindTransport, err, "could not join the voice chat")
			}

		case stepRemediate:
			if err := c.remediate(ctx, s, a); err != nil {
				return err
			}
			step = stepRetry

		case stepFail:
			return userError(KindNoActiveCall, transport.ErrNoActiveCall, "no active voice chat")
		}
	}
}

// remediate makes sure the assistant account is a member of the chat, joining
// by username, existing invite link or a freshly exported one.
func (c *Controller) remediate(ctx context.Context, s *session, a *assistant.Assistant) error {
	m := c.deps.Membership
	if m == nil {
		return nil
	}
	t := a.Transport()

	status, err := m.MemberStatus(ctx, s.key, t.SelfID())
	if err != nil {
		return err
	}
	switch status {
	case notify.StatusBanned:
		return fmt.Errorf("%s: %w", a.Name, notify.ErrAssistantBanned)
	case notify.StatusMember:
		return nil
	}

	info, err := m.ChatInfo(ctx, s.key)
	if err != nil {
		return err
	}
	target := info.Username
	if target == "" {
		target = info.InviteLink
	}
	if target == "" {
		if target, err = m.ExportInviteLink(ctx, s.key); err != nil {
			return err
		}
	}

	progress := c.say(ctx, s.key, notify.TmplAssistantJoining, notify.Data{}, notify.Message{})
	err = c.command(ctx, s, "join_chat", func(ctx context.Context) error {
		return t.JoinChat(ctx, target)
	})
	if err != nil && !errors.Is(err, transport.ErrAlreadyParticipant) {
		c.dropMessage(ctx, progress)
		return err
	}

	c.logger.Info().Str("chat_id", s.key).Str("assistant", a.Name).Msg("assistant joined chat")
	if !progress.IsZero() {
		text, rerr := c.deps.Templates.Render(notify.TmplAssistantJoined, notify.Data{})
		if rerr == nil {
			if err := c.deps.Gateway.EditOrDelete(ctx, progress, &notify.Message{Text: text}); err != nil {
				c.logger.Debug().Err(err).Msg("edit joining message")
			}
		}
	}

	if c.opts.RemediationDelay > 0 {
		timer := time.NewTimer(c.opts.RemediationDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func joinOutcome(err error) string {
	if ue, ok := AsUserError(err); ok {
		return string(ue.Kind)
	}
	switch {
	case errors.Is(err, notify.ErrAssistantBanned):
		return "assistant_banned"
	case errors.Is(err, notify.ErrAdminRequired):
		return "admin_required"
	}
	return "error"
}
