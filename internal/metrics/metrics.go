package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "transfit_sync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Sync passes by outcome (success, failure, rejected).",
		},
		[]string{"outcome"},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Time spent in one sync pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records pushed by entity type and result (synced, failed, dropped).",
		},
		[]string{"entity", "result"},
	)

	retryQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_size",
			Help:      "Items currently waiting in the retry queue.",
		},
	)

	consecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Background passes in a row without a successful write.",
		},
	)
)

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"

	ResultSynced  = "synced"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, passes, passDuration, records, retryQueueSize, consecutiveFailures)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObservePass records a finished pass.
func ObservePass(outcome string, took time.Duration) {
	passes.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		passDuration.Observe(took.Seconds())
	}
}

func IncRecord(entity, result string) {
	records.WithLabelValues(entity, result).Inc()
}

func SetRetryQueueSize(n int) {
	retryQueueSize.Set(float64(n))
}

func SetConsecutiveFailures(n int) {
	consecutiveFailures.Set(float64(n))
}
