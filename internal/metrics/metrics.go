// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Package metrics defines the Prometheus instrumentation for hatch-sync:
// upstream Hatch API calls, response cache efficiency, sync pass outcomes,
// circuit breaker state, and HTTP API latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream Hatch API metrics
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hatch_upstream_request_duration_seconds",
			Help:    "Duration of Hatch cloud API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	UpstreamRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_upstream_request_errors_total",
			Help: "Total Hatch cloud API request errors by class",
		},
		[]string{"operation", "error_class"},
	)

	// Response cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_cache_hits_total",
			Help: "Total response cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_cache_misses_total",
			Help: "Total response cache misses",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_cache_evictions_total",
			Help: "Total response cache entries evicted after TTL expiry",
		},
		[]string{"cache"},
	)

	// Sync engine metrics
	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hatch_sync_pass_duration_seconds",
			Help:    "Duration of a full sync pass in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncRecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_sync_records_fetched_total",
			Help: "Total activity records fetched from upstream per kind",
		},
		[]string{"kind"},
	)

	SyncEventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_sync_events_created_total",
			Help: "Total calendar events created per kind",
		},
		[]string{"kind"},
	)

	SyncRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_sync_records_skipped_total",
			Help: "Total already-seen records skipped per kind",
		},
		[]string{"kind"},
	)

	SyncKindErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_sync_kind_errors_total",
			Help: "Total per-kind sync failures",
		},
		[]string{"kind"},
	)

	SyncPassesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hatch_sync_passes_skipped_total",
			Help: "Total sync triggers rejected because a pass was already running",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatch_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "outcome"},
	)

	// HTTP API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hatch_api_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hatch_api_active_requests",
			Help: "Number of HTTP requests currently in flight",
		},
	)
)

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
