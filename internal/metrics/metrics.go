// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics defines the Prometheus collectors for spork and sporkd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scottwelch968/Spork-V2-sub004/internal/savequeue"
)

var (
	// Stream metrics
	StreamsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spork_stream_started_total",
			Help: "Completion streams opened",
		},
		[]string{"auto"},
	)

	StreamChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spork_stream_chunks_total",
			Help: "Content deltas received",
		},
	)

	StreamsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spork_stream_completed_total",
			Help: "Completion streams finished",
		},
		[]string{"model"},
	)

	RoutedCategories = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spork_stream_routed_total",
			Help: "Auto-routed turns by detected category",
		},
		[]string{"category"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spork_errors_total",
			Help: "Error events by phase",
		},
		[]string{"phase", "recoverable"},
	)

	// Save queue metrics
	SavesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spork_save_dropped_total",
			Help: "Background saves abandoned after the last retry",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spork_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spork_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spork_http_rate_limit_hits_total",
			Help: "Requests rejected with 429",
		},
	)

	CreditsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spork_http_credits_exhausted_total",
			Help: "Requests rejected with 402",
		},
	)

	// Storage metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spork_store_latency_seconds",
			Help:    "Storage operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"driver", "op"},
	)
)

// RegisterSaveQueue exposes live queue depth through reg.
func RegisterSaveQueue(reg prometheus.Registerer, stats func() savequeue.Stats) error {
	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "spork_save_pending",
		Help: "Operations waiting for the next batch",
	}, func() float64 { return float64(stats().Pending) })

	retrying := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "spork_save_retrying",
		Help: "Operations waiting out a retry delay",
	}, func() float64 { return float64(stats().Retrying) })

	for _, c := range []prometheus.Collector{pending, retrying} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
