// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package metrics provides Prometheus instrumentation for the activity
// pipeline: queue pressure, batch persistence, session cache churn,
// detector outcomes, alert delivery, and retention progress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_event_queue_depth",
			Help: "Current number of events waiting in the ingestion queue",
		},
	)

	QueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_event_queue_dropped_total",
			Help: "Total events dropped because the ingestion queue was full",
		},
	)

	EventsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_events_enqueued_total",
			Help: "Total events accepted into the ingestion queue",
		},
	)

	EventsExcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_excluded_total",
			Help: "Total events rejected at admission",
		},
		[]string{"reason"}, // "disabled", "excluded_path", "unauthenticated"
	)

	// Batch worker metrics
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_batch_size",
			Help:    "Number of events persisted per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 75, 100, 150},
		},
	)

	BatchPersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_batch_persist_duration_seconds",
			Help:    "Duration of batch persistence transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_batches_dropped_total",
			Help: "Total batches dropped after a failed persistence transaction",
		},
	)

	// Session cache metrics
	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_session_cache_entries",
			Help: "Current number of cached session snapshots",
		},
	)

	SessionCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_session_cache_evictions_total",
			Help: "Total session snapshots evicted from the cache",
		},
		[]string{"reason"}, // "expired", "capacity"
	)

	// Detector metrics
	DetectorChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detector_checks_total",
			Help: "Total detector evaluations",
		},
		[]string{"detector"},
	)

	DetectorFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detector_flags_total",
			Help: "Total detector evaluations that flagged the event",
		},
		[]string{"detector"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detector_errors_total",
			Help: "Total detector evaluation errors",
		},
		[]string{"detector"},
	)

	IPBlocksIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_ip_blocks_issued_total",
			Help: "Total temporary IP blocks issued by the brute-force detector",
		},
	)

	// Alert sink metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_created_total",
			Help: "Total alerts persisted",
		},
		[]string{"type", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_suppressed_total",
			Help: "Total alerts suppressed by the dedup window",
		},
		[]string{"type"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_sent_total",
			Help: "Total alert notifications delivered",
		},
		[]string{"channel", "outcome"}, // outcome: "ok", "error"
	)

	// Retention scheduler metrics
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_retention_deleted_rows_total",
			Help: "Total rows removed by retention steps",
		},
		[]string{"step"}, // "activity", "alerts", "sessions"
	)

	RetentionStepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_retention_step_errors_total",
			Help: "Total retention step failures (step skipped until next run)",
		},
		[]string{"step"},
	)

	RetentionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_retention_run_duration_seconds",
			Help:    "Duration of full retention scheduler runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	// Ops API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total HTTP requests served by the ops API",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_http_active_requests",
			Help: "HTTP requests currently in flight",
		},
	)
)

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		HTTPActiveRequests.Inc()
		return
	}
	HTTPActiveRequests.Dec()
}
