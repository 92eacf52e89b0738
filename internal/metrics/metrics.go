// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package metrics provides Prometheus instrumentation for the sync layer,
// exposed on the local diagnostics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP client metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_requests_total",
			Help: "Total number of HTTP requests by method and outcome",
		},
		[]string{"method", "outcome"}, // outcome: "success", "transient", "api_error", "canceled"
	)

	RequestRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_request_retries_total",
			Help: "Total number of transient-failure retry attempts",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsync_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	DedupSupersessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_dedup_supersessions_total",
			Help: "Total number of in-flight requests canceled by an identical newer request",
		},
	)

	// Response cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_cache_invalidations_total",
			Help: "Total number of cache entries removed by mutation-driven invalidation",
		},
	)

	// Offline queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_depth",
			Help: "Current number of pending offline actions",
		},
	)

	QueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_queue_enqueued_total",
			Help: "Total number of actions handed to the offline queue",
		},
	)

	QueueDrains = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_queue_drains_total",
			Help: "Total number of drain passes by outcome",
		},
		[]string{"outcome"}, // "complete", "halted", "empty"
	)

	QueueReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_queue_replayed_total",
			Help: "Total number of actions successfully replayed from the offline queue",
		},
	)

	// Location metrics
	LocationAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_location_acquisitions_total",
			Help: "Total number of position acquisitions by source",
		},
		[]string{"source"}, // "cached", "last_known", "fresh", "timeout_fallback", "unavailable"
	)

	LiveUpdatesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_live_updates_sent_total",
			Help: "Total number of live-location updates submitted",
		},
	)

	LiveUpdatesThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_live_updates_throttled_total",
			Help: "Total number of live-location updates dropped by the rate limiter",
		},
	)

	VisitsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsync_visits_recorded_total",
			Help: "Total number of visit points recorded",
		},
	)

	// Connectivity metrics
	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_connectivity_transitions_total",
			Help: "Total number of connectivity state transitions",
		},
		[]string{"to"}, // "online", "offline"
	)
)
