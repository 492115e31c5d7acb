// Package metrics holds the Prometheus collectors of the cityv binaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest results
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

var (
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_detections_total",
			Help: "Detection records handled by ingest, by result",
		},
		[]string{"result"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cityv_ingest_duration_seconds",
			Help:    "Duration of a single detection ingest",
			Buckets: prometheus.DefBuckets,
		},
	)

	DensityAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityv_density_anomalies_total",
			Help: "Detections whose density was NaN, infinite or outside [0,1] and stored as 0",
		},
	)

	CounterRegressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityv_counter_regressions_total",
			Help: "Detections whose entry or exit counter went backwards",
		},
	)

	RollupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_rollups_total",
			Help: "Daily summary recomputations, by result",
		},
		[]string{"result"},
	)

	RollupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cityv_rollup_duration_seconds",
			Help:    "Duration of a daily summary recomputation including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	RollupRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityv_rollup_retries_total",
			Help: "Summary transactions retried after serialization failure or deadlock",
		},
	)

	DeviceFanoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_device_fanout_failures_total",
			Help: "Per-device lookups that failed or timed out during business summary",
		},
		[]string{"reason"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_latest_cache_lookups_total",
			Help: "Latest-detection cache lookups, by outcome",
		},
		[]string{"outcome"},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_stream_messages_total",
			Help: "Detection stream messages handled by the ingest worker, by outcome",
		},
		[]string{"outcome"},
	)

	GatewayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_gateway_messages_total",
			Help: "MQTT messages handled by the gateway, by outcome",
		},
		[]string{"outcome"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityv_api_requests_total",
			Help: "HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cityv_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordIngest counts one ingest attempt
func RecordIngest(result string, duration time.Duration) {
	DetectionsTotal.WithLabelValues(result).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordRollup counts one summary recomputation
func RecordRollup(duration time.Duration, err error) {
	RollupDuration.Observe(duration.Seconds())
	if err != nil {
		RollupsTotal.WithLabelValues("error").Inc()
		return
	}
	RollupsTotal.WithLabelValues("ok").Inc()
}

// RecordCache counts a latest-detection cache hit or miss
func RecordCache(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// RecordAPIRequest counts one HTTP request
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
