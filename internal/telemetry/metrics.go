/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxqueue"

var (
	// SessionsActive is the number of sessions currently in a call.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently joined to a voice chat.",
	})

	// TransportCommandsTotal counts commands sent to assistants.
	TransportCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_commands_total",
		Help:      "Transport commands issued, by command and result.",
	}, []string{"command", "result"})

	// TransportCommandDuration tracks transport round trips.
	TransportCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transport_command_duration_seconds",
		Help:      "Transport command latency.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}, []string{"command"})

	// JoinOutcomesTotal counts join attempts by their final outcome.
	JoinOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "join_outcomes_total",
		Help:      "Join state machine outcomes.",
	}, []string{"outcome"})

	// AdvanceOutcomesTotal counts queue advancement results.
	AdvanceOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "advance_outcomes_total",
		Help:      "Queue advancement outcomes.",
	}, []string{"outcome"})

	// AutoEndTeardownsTotal counts sessions ended for being idle.
	AutoEndTeardownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "autoend_teardowns_total",
		Help:      "Sessions torn down by the auto-end sweep.",
	})

	// EventsDroppedTotal counts transport events that could not be routed.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Transport events dropped, by reason.",
	}, []string{"reason"})

	// APIRequestsTotal counts admin API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Admin API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks admin API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Admin API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections is the number of in-flight API requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight admin API requests.",
	})

	// DatabaseQueryDuration tracks settings store queries.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Database operation errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive is the open connection count of the pool.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open database connections.",
	})

	// CacheOperationsTotal counts settings cache lookups.
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_operations_total",
		Help:      "Settings cache operations, by operation and result.",
	}, []string{"operation", "result"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
