/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPlaying indicates a control command for a chat with no session.
	ErrNotPlaying = errors.New("nothing is playing in this chat")

	// ErrInvalidTransition indicates a session state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrInvalidRequest indicates a malformed play or seek request.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorKind classifies user-facing failures.
type ErrorKind string

const (
	KindNoActiveCall  ErrorKind = "no_active_call"
	KindAlreadyJoined ErrorKind = "already_joined"
	KindNotPlaying    ErrorKind = "not_playing"
	KindResolve       ErrorKind = "resolve_failed"
	KindDownload      ErrorKind = "download_failed"
	KindPlayback      ErrorKind = "playback_failed"
	KindTransport     ErrorKind = "transport_failed"
	KindInvalid       ErrorKind = "invalid_request"
)

// UserError is a session-scoped failure that is reported to the chat and the
// caller as a readable message. It unwraps to the underlying cause.
type UserError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func userError(kind ErrorKind, cause error, format string, args ...any) *UserError {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// AsUserError extracts a UserError from err's chain.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
