// Package metrics exposes the Prometheus collectors for the scoring pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scorer attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

var (
	transactionsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "transactions_scored_total",
		Help:      "Transactions scored, by verdict and scoring mode.",
	}, []string{"verdict", "mode"})

	scorerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "scorer_attempts_total",
		Help:      "Remote scorer attempts, by outcome.",
	}, []string{"outcome"})

	scorerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harrier",
		Name:      "scorer_request_seconds",
		Help:      "Latency of a single remote scorer attempt.",
		Buckets:   prometheus.DefBuckets,
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harrier",
		Name:      "batch_duration_seconds",
		Help:      "Wall time to score and persist a batch.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "batches_total",
		Help:      "Batches processed, by status.",
	}, []string{"status"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harrier",
		Name:      "http_request_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"route"})

	busDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "bus_dropped_total",
		Help:      "Messages a subscriber missed because its buffer was full, by topic.",
	}, []string{"topic"})
)

// ObserveScored counts one scored transaction.
func ObserveScored(verdict, mode string) {
	transactionsScored.WithLabelValues(verdict, mode).Inc()
}

// ObserveScorerAttempt counts one remote scorer attempt and its latency.
func ObserveScorerAttempt(outcome string, elapsed time.Duration) {
	scorerAttempts.WithLabelValues(outcome).Inc()
	scorerLatency.Observe(elapsed.Seconds())
}

// ObserveBatch records a finished batch.
func ObserveBatch(status string, elapsed time.Duration) {
	batches.WithLabelValues(status).Inc()
	batchDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request. route must be a pattern, not a raw path.
func ObserveHTTP(method, route, status string, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveBusDrop counts one message a subscriber missed.
func ObserveBusDrop(topic string) {
	busDropped.WithLabelValues(topic).Inc()
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
