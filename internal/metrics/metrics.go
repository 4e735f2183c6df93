// Package metrics exposes Prometheus collectors for the scrape coordinator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeJobsTotal             *prometheus.CounterVec
	scrapeRetriesTotal          *prometheus.CounterVec
	scrapeRetryExhaustedTotal   *prometheus.CounterVec
	scrapeCancellationsMarked   prometheus.Counter
	scrapeCancellationsDetected prometheus.Counter
	scrapeFinalizeAttemptsTotal *prometheus.CounterVec
	scrapeFinalizeFailuresTotal *prometheus.CounterVec
	scrapeActiveWorkers         prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapeJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		scrapeRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_retries_total",
				Help: "Total retries recorded against job budgets, labeled by category.",
			},
			[]string{"category"},
		)

		scrapeRetryExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_retry_budget_exhausted_total",
				Help: "Total jobs whose retry budget was exhausted, labeled by triggering category.",
			},
			[]string{"category"},
		)

		scrapeCancellationsMarked = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrape_cancellations_marked_total",
				Help: "Total cancellation records written to the shared store.",
			},
		)

		scrapeCancellationsDetected = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrape_cancellations_detected_total",
				Help: "Total cancellation records observed by worker-side watchers.",
			},
		)

		scrapeFinalizeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_finalize_attempts_total",
				Help: "Total finalization write attempts, labeled by action and outcome.",
			},
			[]string{"action", "outcome"},
		)

		scrapeFinalizeFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_finalize_failures_total",
				Help: "Total finalizations that exhausted all attempts, labeled by action.",
			},
			[]string{"action"},
		)

		scrapeActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal-state counter for the given status.
func ObserveJob(status string) {
	if scrapeJobsTotal == nil {
		return
	}
	scrapeJobsTotal.WithLabelValues(status).Inc()
}

// ObserveRetry increments the retry counter for the given category.
func ObserveRetry(category string) {
	if scrapeRetriesTotal == nil {
		return
	}
	scrapeRetriesTotal.WithLabelValues(category).Inc()
}

// ObserveRetryExhausted increments the budget-exhausted counter.
func ObserveRetryExhausted(category string) {
	if scrapeRetryExhaustedTotal == nil {
		return
	}
	scrapeRetryExhaustedTotal.WithLabelValues(category).Inc()
}

// ObserveCancellationMarked increments the marked-cancellation counter.
func ObserveCancellationMarked() {
	if scrapeCancellationsMarked == nil {
		return
	}
	scrapeCancellationsMarked.Inc()
}

// ObserveCancellationDetected increments the detected-cancellation counter.
func ObserveCancellationDetected() {
	if scrapeCancellationsDetected == nil {
		return
	}
	scrapeCancellationsDetected.Inc()
}

// ObserveFinalizeAttempt records one finalization write attempt.
func ObserveFinalizeAttempt(action string, ok bool) {
	if scrapeFinalizeAttemptsTotal == nil {
		return
	}
	outcome := "miss"
	if ok {
		outcome = "ok"
	}
	scrapeFinalizeAttemptsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveFinalizeFailure records a finalization that exhausted its attempts.
func ObserveFinalizeFailure(action string) {
	if scrapeFinalizeFailuresTotal == nil {
		return
	}
	scrapeFinalizeFailuresTotal.WithLabelValues(action).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if scrapeActiveWorkers == nil {
		return
	}
	scrapeActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if scrapeActiveWorkers == nil {
		return
	}
	scrapeActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
