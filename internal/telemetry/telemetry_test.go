/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/v1/sessions/{chatID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/sessions/{chatID}", "404"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/-100123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/sessions/{chatID}", "404"))
	if after != before+1 {
		t.Fatalf("api_requests_total = %v, want %v", after, before+1)
	}
}

func TestObserveTransport(t *testing.T) {
	ok := TransportCommandsTotal.WithLabelValues("join", "ok")
	failed := TransportCommandsTotal.WithLabelValues("join", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	ObserveTransport("join", time.Now(), nil)
	ObserveTransport("join", time.Now(), errors.New("boom"))

	if testutil.ToFloat64(ok) != okBefore+1 || testutil.ToFloat64(failed) != failedBefore+1 {
		t.Fatal("transport command counters not incremented")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	SessionsActive.Set(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "voxqueue_sessions_active 2") {
		t.Fatal("metrics output missing voxqueue_sessions_active")
	}
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, span := StartSessionSpan(context.Background(), "join", "g1", 1)
	if ctx == nil || span == nil {
		t.Fatal("expected a usable span")
	}
	EndSpan(span, errors.New("ignored"))
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracingMiddlewarePassesThrough(t *testing.T) {
	h := TracingMiddleware("voxqueue-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for _, upgrade := range []string{"", "websocket"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		if upgrade != "" {
			req.Header.Set("Upgrade", upgrade)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusTeapot {
			t.Fatalf("upgrade=%q status = %d", upgrade, rec.Code)
		}
	}
}
