/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/voxqueue/internal/events"
)

const eventPingInterval = 15 * time.Second

// parseEventTypes reads a comma separated list of event types. Unknown names
// are ignored; an empty result means every type.
func parseEventTypes(raw string) []events.EventType {
	known := make(map[events.EventType]bool, len(events.All))
	for _, t := range events.All {
		known[t] = true
	}
	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if known[t] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return events.All
	}
	return out
}

// handleEvents streams orchestrator events over a websocket.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Reads are discarded; CloseRead cancels ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	sub := a.bus.SubscribeMany(parseEventTypes(r.URL.Query().Get("types"))...)
	defer a.bus.Unsubscribe(sub)

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				return
			}
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "event bus closed")
				return
			}
			if err := writeEvent(ctx, conn, payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, payload events.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, data)
}
