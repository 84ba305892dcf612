/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veriscan_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veriscan_api_request_duration_seconds",
		Help:    "HTTP API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "veriscan_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// AnalysisTotal counts analyze dispatches by outcome
	// (success, failed, rate_limited, validation_error, blocked_host).
	AnalysisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veriscan_analysis_total",
		Help: "Analyze requests by outcome.",
	}, []string{"outcome"})

	// AnalysisLatency tracks end-to-end analyze latency including oracle dispatch.
	AnalysisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veriscan_analysis_latency_seconds",
		Help:    "End-to-end analyze latency in seconds.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// VerdictsTotal counts classifier verdicts by label.
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veriscan_verdicts_total",
		Help: "Classifier verdicts by label.",
	}, []string{"label"})

	// OracleFallbackTotal counts dispatches answered by the fallback oracle.
	OracleFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veriscan_oracle_fallback_total",
		Help: "Analyze dispatches answered by the fallback oracle.",
	})

	// APIWebSocketConnections tracks live event stream connections.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "veriscan_api_websocket_connections",
		Help: "Live WebSocket event stream connections.",
	})

	// NotificationsSuppressed counts notifications dropped by the rate gate.
	NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veriscan_notifications_suppressed_total",
		Help: "User notifications suppressed by the sliding-window gate.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AnalysisTimer measures one analyze dispatch and records both the
// outcome counter and the latency histogram.
type AnalysisTimer struct {
	start time.Time
}

// NewAnalysisTimer starts the clock for one dispatch.
func NewAnalysisTimer() *AnalysisTimer {
	return &AnalysisTimer{start: time.Now()}
}

// Observe records the dispatch under the given outcome label.
func (t *AnalysisTimer) Observe(outcome string) {
	AnalysisTotal.WithLabelValues(outcome).Inc()
	AnalysisLatency.Observe(time.Since(t.start).Seconds())
}
