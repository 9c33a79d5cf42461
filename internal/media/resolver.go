/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media resolves track references into playable sources and manages
// locally downloaded files.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/transport"
)

// ErrResolve is wrapped by every resolution failure.
var ErrResolve = errors.New("media resolution failed")

// Resolved is a playable source plus display metadata.
type Resolved struct {
	URL       string        `json:"url"`
	AudioURL  string        `json:"audio_url,omitempty"`
	Title     string        `json:"title,omitempty"`
	Duration  time.Duration `json:"-"`
	Thumbnail string        `json:"thumbnail,omitempty"`
}

// Resolver turns a stored reference into a fresh playable URL.
type Resolver interface {
	Resolve(ctx context.Context, ref string, kind transport.StreamKind) (Resolved, error)
}

// HTTPResolver asks an external resolver service for stream URLs:
//
//	GET <endpoint>?ref=<ref>&kind=<audio|video>
//	-> {"url": "...", "audio_url": "...", "title": "...", "duration_seconds": 215, "thumbnail": "..."}
type HTTPResolver struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPResolver creates a resolver client for endpoint.
func NewHTTPResolver(endpoint string, timeout time.Duration, logger zerolog.Logger) *HTTPResolver {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "media_resolver").Logger(),
	}
}

type resolveResponse struct {
	Resolved
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, ref string, kind transport.StreamKind) (Resolved, error) {
	if r.endpoint == "" {
		return Resolved{}, fmt.Errorf("%w: no resolver endpoint configured", ErrResolve)
	}

	u, err := url.Parse(r.endpoint)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: bad endpoint: %v", ErrResolve, err)
	}
	q := u.Query()
	q.Set("ref", ref)
	q.Set("kind", kind.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	defer resp.Body.Close()

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Resolved{}, fmt.Errorf("%w: decode response (status %d): %v", ErrResolve, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || body.URL == "" {
		msg := body.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return Resolved{}, fmt.Errorf("%w: %s", ErrResolve, msg)
	}

	out := body.Resolved
	out.Duration = time.Duration(body.DurationSeconds * float64(time.Second))

	r.logger.Debug().
		Str("ref", ref).
		Str("kind", kind.String()).
		Dur("took", time.Since(start)).
		Msg("resolved media reference")
	return out, nil
}
