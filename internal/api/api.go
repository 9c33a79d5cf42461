/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the HTTP command surface of the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/auth"
	"github.com/friendsincode/voxqueue/internal/events"
	"github.com/friendsincode/voxqueue/internal/logbuffer"
	"github.com/friendsincode/voxqueue/internal/models"
	"github.com/friendsincode/voxqueue/internal/orchestrator"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/settings"
	"github.com/friendsincode/voxqueue/internal/version"
)

// Controller is the session command set the API drives.
type Controller interface {
	Play(ctx context.Context, req orchestrator.PlayRequest) (orchestrator.PlayResult, error)
	JoinLive(ctx context.Context, req orchestrator.PlayRequest) (orchestrator.PlayResult, error)
	Skip(ctx context.Context, chatID string) error
	ChangeStream(ctx context.Context, chatID string, item queue.Item) error
	Seek(ctx context.Context, chatID string, to time.Duration) error
	SetLoop(ctx context.Context, chatID string, n int) error
	Pause(ctx context.Context, chatID string) error
	Resume(ctx context.Context, chatID string) error
	Mute(ctx context.Context, chatID string) error
	Unmute(ctx context.Context, chatID string) error
	Stop(ctx context.Context, chatID string) error
	ForceStop(ctx context.Context, chatID string)
	Status(chatID string) (orchestrator.Status, bool)
	Sessions() []orchestrator.Status
}

// Pinger reports assistant round-trip times.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
	Slots() []int
}

// SettingsAdmin is the settings surface exposed to operators.
type SettingsAdmin interface {
	GetQuality(ctx context.Context, chatID string) (settings.Quality, error)
	SetQuality(ctx context.Context, chatID string, q settings.Quality) error
	IsAutoEndEnabled(ctx context.Context) (bool, error)
	SetAutoEnd(ctx context.Context, enabled bool) error
	IsCleanupEnabled(ctx context.Context) (bool, error)
	SetCleanup(ctx context.Context, enabled bool) error
	ActiveChats(ctx context.Context) ([]models.ActiveChat, error)
	History(ctx context.Context, chatID string, limit int) ([]models.PlayHistory, error)
}

// API exposes HTTP handlers.
type API struct {
	ctrl      Controller
	pool      Pinger
	settings  SettingsAdmin
	bus       *events.Bus
	jwtSecret []byte
	logBuf    *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(ctrl Controller, pool Pinger, store SettingsAdmin, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		ctrl:      ctrl,
		pool:      pool,
		settings:  store,
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/sessions", a.handleSessionsList)
			pr.Get("/sessions/{chatID}", a.handleSessionGet)
			pr.Get("/assistants/ping", a.handleAssistantsPing)
			pr.Get("/chats/{chatID}/history", a.handleHistory)
			pr.Get("/chats/{chatID}/quality", a.handleQualityGet)
			pr.Get("/system", a.handleSystemGet)
			pr.Get("/active-chats", a.handleActiveChats)
			pr.Get("/events", a.handleEvents)

			pr.Group(func(op chi.Router) {
				op.Use(auth.RequireRole(auth.RoleOperator))

				op.Route("/sessions/{chatID}", func(r chi.Router) {
					r.Post("/play", a.handlePlay)
					r.Post("/live", a.handleLive)
					r.Post("/stream", a.handleChangeStream)
					r.Post("/skip", a.handleSkip)
					r.Post("/seek", a.handleSeek)
					r.Post("/loop", a.handleLoop)
					r.Post("/pause", a.handlePause)
					r.Post("/resume", a.handleResume)
					r.Post("/mute", a.handleMute)
					r.Post("/unmute", a.handleUnmute)
					r.Post("/stop", a.handleStop)
					r.Post("/force-stop", a.handleForceStop)
				})
				op.Put("/chats/{chatID}/quality", a.handleQualityPut)
				op.Put("/system", a.handleSystemPut)
				op.Get("/logs", a.handleLogs)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (a *API) handleAssistantsPing(w http.ResponseWriter, r *http.Request) {
	rtt, err := a.pool.Ping(r.Context())
	if err != nil {
		a.logger.Warn().Err(err).Msg("assistant ping failed")
		writeErrorMessage(w, http.StatusBadGateway, "ping_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slots":  a.pool.Slots(),
		"rtt_ms": float64(rtt.Microseconds()) / 1000,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// statusFor maps a user error kind to an HTTP status.
func statusFor(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.KindInvalid:
		return http.StatusBadRequest
	case orchestrator.KindNotPlaying:
		return http.StatusNotFound
	case orchestrator.KindNoActiveCall, orchestrator.KindAlreadyJoined:
		return http.StatusConflict
	case orchestrator.KindResolve, orchestrator.KindDownload, orchestrator.KindPlayback, orchestrator.KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeCommandError reports a failed session command.
func (a *API) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	if ue, ok := orchestrator.AsUserError(err); ok {
		writeErrorMessage(w, statusFor(ue.Kind), string(ue.Kind), ue.Message)
		return
	}
	if errors.Is(err, assistant.ErrNoAssistants) {
		writeError(w, http.StatusServiceUnavailable, "no_assistants")
		return
	}
	a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("session command failed")
	writeErrorMessage(w, http.StatusInternalServerError, "internal_error", err.Error())
}
