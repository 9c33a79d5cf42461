/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/voxqueue/internal/auth"
	"github.com/friendsincode/voxqueue/internal/orchestrator"
	"github.com/friendsincode/voxqueue/internal/queue"
	"github.com/friendsincode/voxqueue/internal/transport"
)

type playRequest struct {
	Tag             string `json:"tag"`
	Ref             string `json:"ref"`
	MediaID         string `json:"media_id"`
	Kind            string `json:"kind"` // "audio" or "video"
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	Thumbnail       string `json:"thumbnail"`
	RequestedBy     string `json:"requested_by"`
	OriginChat      string `json:"origin_chat"`
	Mode            string `json:"mode"`
}

func (p playRequest) item() queue.Item {
	return queue.Item{
		Source: transport.Source{
			Tag:     transport.SourceTag(p.Tag),
			Ref:     p.Ref,
			MediaID: p.MediaID,
		},
		Kind:        transport.ParseStreamKind(p.Kind),
		Title:       p.Title,
		Duration:    time.Duration(p.DurationSeconds) * time.Second,
		Thumbnail:   p.Thumbnail,
		RequestedBy: p.RequestedBy,
		Mode:        p.Mode,
	}
}

type playResponse struct {
	Status   string `json:"status"` // "playing" or "queued"
	Position int    `json:"position"`
	Slot     int    `json:"slot"`
	ItemID   string `json:"item_id"`
}

func validTag(tag string) bool {
	switch transport.SourceTag(tag) {
	case "", transport.SourceLive, transport.SourceDownload, transport.SourceIndex, transport.SourceDirect:
		return true
	}
	return false
}

func decodePlay(w http.ResponseWriter, r *http.Request) (playRequest, bool) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return req, false
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref_required")
		return req, false
	}
	if !validTag(req.Tag) {
		writeError(w, http.StatusBadRequest, "invalid_tag")
		return req, false
	}
	if req.RequestedBy == "" {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			req.RequestedBy = claims.Subject
		}
	}
	return req, true
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	a.play(w, r, a.ctrl.Play)
}

func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	a.play(w, r, a.ctrl.JoinLive)
}

func (a *API) play(w http.ResponseWriter, r *http.Request, fn func(context.Context, orchestrator.PlayRequest) (orchestrator.PlayResult, error)) {
	req, ok := decodePlay(w, r)
	if !ok {
		return
	}
	res, err := fn(r.Context(), orchestrator.PlayRequest{
		ChatID:     chi.URLParam(r, "chatID"),
		OriginChat: req.OriginChat,
		Item:       req.item(),
	})
	if err != nil {
		a.writeCommandError(w, r, err)
		return
	}

	resp := playResponse{Status: "playing", Position: res.Position, Slot: res.Slot, ItemID: res.ItemID}
	status := http.StatusOK
	if res.Position > 0 {
		resp.Status = "queued"
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (a *API) handleChangeStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePlay(w, r)
	if !ok {
		return
	}
	item := req.item()
	item.OriginChat = req.OriginChat
	if err := a.ctrl.ChangeStream(r.Context(), chi.URLParam(r, "chatID"), item); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	a.writeStatus(w, r)
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := a.ctrl.Seek(r.Context(), chi.URLParam(r, "chatID"), time.Duration(req.Seconds)*time.Second); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	a.writeStatus(w, r)
}

func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := a.ctrl.SetLoop(r.Context(), chi.URLParam(r, "chatID"), req.Count); err != nil {
		a.writeCommandError(w, r, err)
		return
	}
	a.writeStatus(w, r)
}

// simple adapts a chat command without a body.
func (a *API) simple(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "chatID")); err != nil {
			a.writeCommandError(w, r, err)
			return
		}
		a.writeStatus(w, r)
	}
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request)   { a.simple(a.ctrl.Skip)(w, r) }
func (a *API) handlePause(w http.ResponseWriter, r *http.Request)  { a.simple(a.ctrl.Pause)(w, r) }
func (a *API) handleResume(w http.ResponseWriter, r *http.Request) { a.simple(a.ctrl.Resume)(w, r) }
func (a *API) handleMute(w http.ResponseWriter, r *http.Request)   { a.simple(a.ctrl.Mute)(w, r) }
func (a *API) handleUnmute(w http.ResponseWriter, r *http.Request) { a.simple(a.ctrl.Unmute)(w, r) }
func (a *API) handleStop(w http.ResponseWriter, r *http.Request)   { a.simple(a.ctrl.Stop)(w, r) }

func (a *API) handleForceStop(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	a.ctrl.ForceStop(r.Context(), chatID)
	a.logger.Info().Str("chat_id", chatID).Msg("force stop")
	writeJSON(w, http.StatusOK, map[string]string{"chat_id": chatID, "state": "idle"})
}

// writeStatus answers a successful command with the session's current state.
func (a *API) writeStatus(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	st, ok := a.ctrl.Status(chatID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"chat_id": chatID, "state": "idle"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Sessions())
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	st, ok := a.ctrl.Status(chi.URLParam(r, "chatID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
