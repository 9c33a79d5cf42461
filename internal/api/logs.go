/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/voxqueue/internal/logbuffer"
)

const defaultLogLimit = 200

// SetLogBuffer enables GET /api/v1/logs.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logBuf = buf
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuf == nil {
		writeError(w, http.StatusNotFound, "logs_disabled")
		return
	}

	q := r.URL.Query()
	query := logbuffer.Query{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		ChatID:    q.Get("chat_id"),
		Search:    q.Get("search"),
		Limit:     defaultLogLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		query.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		query.Since = since
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": a.logBuf.Query(query),
		"stats":   a.logBuf.Stats(),
	})
}
