// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status", "service"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	// RelationshipOps counts social operations by outcome. result is "ok" or
	// the short error kind (duplicate, not_pending, forbidden, ...).
	RelationshipOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relationship_operations_total",
			Help: "Total number of relationship operations by result",
		},
		[]string{"operation", "result"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relationship_notifications_failed_total",
			Help: "Relationship notifications that could not be published",
		},
	)

	MediaRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_requests_total",
			Help: "Outbound media store calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	MediaBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_circuit_breaker_state",
			Help: "Media store breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_runs_total",
			Help: "Scheduled and manual backup runs by result",
		},
		[]string{"result"},
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_duration_seconds",
			Help:    "Duration of backup runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300},
		},
	)

	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_dropped_total",
			Help: "Audit entries dropped because the write buffer was full",
		},
	)
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, endpoint string, status int, service string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status), service).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, service).Observe(d.Seconds())
}

// RecordRelationshipOp counts a social operation outcome.
func RecordRelationshipOp(operation, result string) {
	RelationshipOps.WithLabelValues(operation, result).Inc()
}

// RecordMedia counts one media store call.
func RecordMedia(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	MediaRequests.WithLabelValues(operation, result).Inc()
}

// RecordBackup counts one backup run and its duration.
func RecordBackup(err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BackupRuns.WithLabelValues(result).Inc()
	BackupDuration.Observe(d.Seconds())
}
