/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/voxqueue/internal/settings"
)

type systemSettings struct {
	AutoEndEnabled   *bool `json:"autoend_enabled,omitempty"`
	CleanupDownloads *bool `json:"cleanup_downloads,omitempty"`
}

func (a *API) handleSystemGet(w http.ResponseWriter, r *http.Request) {
	autoEnd, err := a.settings.IsAutoEndEnabled(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("read autoend toggle")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	cleanup, err := a.settings.IsCleanupEnabled(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("read cleanup toggle")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, systemSettings{AutoEndEnabled: &autoEnd, CleanupDownloads: &cleanup})
}

func (a *API) handleSystemPut(w http.ResponseWriter, r *http.Request) {
	var req systemSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AutoEndEnabled != nil {
		if err := a.settings.SetAutoEnd(r.Context(), *req.AutoEndEnabled); err != nil {
			a.logger.Error().Err(err).Msg("update autoend toggle")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	if req.CleanupDownloads != nil {
		if err := a.settings.SetCleanup(r.Context(), *req.CleanupDownloads); err != nil {
			a.logger.Error().Err(err).Msg("update cleanup toggle")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	a.handleSystemGet(w, r)
}

func (a *API) handleQualityGet(w http.ResponseWriter, r *http.Request) {
	q, err := a.settings.GetQuality(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		a.logger.Error().Err(err).Msg("read quality")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) handleQualityPut(w http.ResponseWriter, r *http.Request) {
	var q settings.Quality
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if q.AudioBitrate <= 0 || q.VideoBitrate <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_bitrate")
		return
	}
	if err := a.settings.SetQuality(r.Context(), chi.URLParam(r, "chatID"), q); err != nil {
		a.logger.Error().Err(err).Msg("update quality")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) handleActiveChats(w http.ResponseWriter, r *http.Request) {
	rows, err := a.settings.ActiveChats(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list active chats")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	rows, err := a.settings.History(r.Context(), chi.URLParam(r, "chatID"), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("read history")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
