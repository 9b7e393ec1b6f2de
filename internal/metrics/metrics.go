// Package metrics exposes Prometheus collectors for the crawl service.
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
	jobsTotal            *prometheus.CounterVec
	resultsInsertedTotal prometheus.Counter
	enginePollsTotal     *prometheus.CounterVec
	tickDurationSeconds  prometheus.Histogram
	activeReconcilers    prometheus.Gauge
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefinder_jobs_total",
				Help: "Total number of jobs that reached a status, labeled by status.",
			},
			[]string{"status"},
		)

		resultsInsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagefinder_results_inserted_total",
				Help: "Total number of result rows inserted (deduplicated upserts excluded).",
			},
		)

		enginePollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefinder_engine_polls_total",
				Help: "Total number of engine polls, labeled by normalized outcome.",
			},
			[]string{"outcome"},
		)

		tickDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagefinder_reconcile_tick_duration_seconds",
				Help:    "Histogram of reconciliation tick latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		activeReconcilers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagefinder_active_reconcilers",
				Help: "Number of jobs with a live reconciliation loop.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefinder_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagefinder_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJobStatus counts a job status transition.
func ObserveJobStatus(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveResultInserted counts one freshly inserted result row.
func ObserveResultInserted() {
	Init()
	resultsInsertedTotal.Inc()
}

// ObserveEnginePoll counts one engine poll by normalized outcome; transport
// failures use outcome "unavailable".
func ObserveEnginePoll(outcome string) {
	Init()
	enginePollsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTick records the duration of one reconciliation tick.
func ObserveTick(d time.Duration) {
	Init()
	tickDurationSeconds.Observe(d.Seconds())
}

// IncActiveReconcilers increments the live reconciler gauge.
func IncActiveReconcilers() {
	Init()
	activeReconcilers.Inc()
}

// DecActiveReconcilers decrements the live reconciler gauge.
func DecActiveReconcilers() {
	Init()
	activeReconcilers.Dec()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
