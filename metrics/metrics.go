// Copyright 2024 The hedge Authors
// This file is part of the hedge library.
//
// The hedge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hedge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hedge library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the broker's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth tracks pending requests per priority band.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hedge",
		Name:      "queue_depth",
		Help:      "Pending requests in the pipeline queue.",
	}, []string{"band"})

	// RequestsTotal counts dispatched requests by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hedge",
		Name:      "requests_total",
		Help:      "Requests dispatched to vendor getters.",
	}, []string{"vendor", "endpoint", "outcome"})

	// VendorLatency observes end-to-end getter call duration.
	VendorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hedge",
		Name:      "vendor_latency_seconds",
		Help:      "Vendor getter call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"vendor", "endpoint"})

	// RateLimitWait accumulates seconds slept in rate limiters.
	RateLimitWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hedge",
		Name:      "rate_limit_wait_seconds_total",
		Help:      "Time spent waiting on vendor rate limits.",
	}, []string{"vendor", "endpoint"})

	// ChunksTotal counts sub-requests produced by the time chunker.
	ChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hedge",
		Name:      "chunks_total",
		Help:      "Sub-requests emitted by time chunking.",
	})

	// ResponsesPending gauges unclaimed responses in the store.
	ResponsesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hedge",
		Name:      "responses_pending",
		Help:      "Responses stored and not yet claimed.",
	})

	// ResponsesEvicted counts responses dropped by retention.
	ResponsesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hedge",
		Name:      "responses_evicted_total",
		Help:      "Unclaimed responses evicted from the store.",
	})

	// SchedulePosts counts scheduler submissions by outcome.
	SchedulePosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hedge",
		Name:      "schedule_posts_total",
		Help:      "Requests posted by the scheduler daemon.",
	}, []string{"outcome"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
