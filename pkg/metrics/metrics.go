package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport send latency (milliseconds)
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_send_latency_ms",
			Help:    "SMTP send latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	// Delivery outcomes by terminal worker decision
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of send jobs processed",
		},
		[]string{"outcome"}, // outcome: sent, retried, failed, rate_limited, dropped
	)

	// Rate limiter decisions
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter check results",
		},
		[]string{"result"}, // result: allowed, denied, fallback
	)

	// Lag between a job's due time and its dispatch to the broker (milliseconds)
	DispatchLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_dispatch_lag_ms",
			Help:    "Delay between job due time and broker dispatch in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
	)

	// Jobs waiting in the delayed set
	DelayedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_delayed_jobs",
			Help: "Number of jobs currently in the delayed set",
		},
	)

	// HTTP request latency (seconds)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Database query latency (seconds)
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Number of queries exceeding the slow-query threshold",
		},
	)
)

func RecordSendLatency(status string, duration time.Duration) {
	SendLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncrementEmailProcessed(outcome string) {
	EmailProcessedCount.WithLabelValues(outcome).Inc()
}

func IncrementRateLimitDecision(result string) {
	RateLimitDecisions.WithLabelValues(result).Inc()
}

func RecordDispatchLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	DispatchLag.Observe(float64(lag.Milliseconds()))
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
