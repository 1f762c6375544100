// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for the LLM gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts gateway API requests by route and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyphmind_requests_total",
		Help: "API requests processed, by route and status.",
	}, []string{"route", "status"})

	// RequestDuration observes end-to-end request latency per route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glyphmind_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// ProviderCalls counts upstream provider invocations by provider,
	// operation and outcome.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyphmind_provider_calls_total",
		Help: "Upstream LLM provider calls, by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})

	// ProviderLatency observes upstream call latency per provider and
	// operation.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "glyphmind_provider_latency_seconds",
		Help:    "Upstream LLM provider call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "operation"})

	// StreamChunks counts chunks relayed to clients per provider.
	StreamChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyphmind_stream_chunks_total",
		Help: "Streamed chunks relayed to clients, by provider.",
	}, []string{"provider"})

	// TasksActive gauges currently running background tasks.
	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glyphmind_tasks_active",
		Help: "Background tasks currently running.",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
