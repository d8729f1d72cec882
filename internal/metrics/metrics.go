// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal           *prometheus.CounterVec
	pipelineTaskAttemptsTotal   *prometheus.CounterVec
	pipelineTaskDurationSeconds *prometheus.HistogramVec
	pipelinePagesTotal          *prometheus.CounterVec
	pipelineRecordsTotal        *prometheus.CounterVec
	pipelineVCSFailuresTotal    *prometheus.CounterVec
	pipelineLastSuccess         prometheus.Gauge
	pipelineRateLimitDelay      *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; every Observe helper
// calls it.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of pipeline runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		pipelineTaskAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_task_attempts_total",
				Help: "Total number of task attempts, labeled by task and outcome.",
			},
			[]string{"task", "outcome"},
		)

		pipelineTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_task_duration_seconds",
				Help:    "Histogram of successful task durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"task"},
		)

		pipelinePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		pipelineRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_records_extracted_total",
				Help: "Total number of records extracted, labeled by site.",
			},
			[]string{"site"},
		)

		pipelineVCSFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_vcs_failures_total",
				Help: "Total number of failed version-control operations, labeled by op.",
			},
			[]string{"op"},
		)

		pipelineLastSuccess = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_last_success_timestamp_seconds",
				Help: "Unix time of the last run that reached DONE.",
			},
		)

		pipelineRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_fetch_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-site fetch limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"site"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts a fetched page and the records extracted from it.
func ObservePage(rawURL string, status string, records int) {
	Init()
	site := SanitizeSite(rawURL)
	pipelinePagesTotal.WithLabelValues(site, status).Inc()
	if records > 0 {
		pipelineRecordsTotal.WithLabelValues(site).Add(float64(records))
	}
}

// ObserveTaskAttempt counts one attempt of a task; outcome is ok, retry or failed.
func ObserveTaskAttempt(task, outcome string) {
	Init()
	pipelineTaskAttemptsTotal.WithLabelValues(task, outcome).Inc()
}

// ObserveTaskDuration records how long a successful attempt took.
func ObserveTaskDuration(task string, d time.Duration) {
	Init()
	pipelineTaskDurationSeconds.WithLabelValues(task).Observe(d.Seconds())
}

// ObserveRun counts a run reaching a terminal state.
func ObserveRun(state string, finished time.Time) {
	Init()
	pipelineRunsTotal.WithLabelValues(state).Inc()
	if state == "DONE" {
		pipelineLastSuccess.Set(float64(finished.Unix()))
	}
}

// ObserveVCSFailure counts a failed stage/commit/push.
func ObserveVCSFailure(op string) {
	Init()
	pipelineVCSFailuresTotal.WithLabelValues(op).Inc()
}

// ObserveRateLimitDelay records a wait imposed by the fetch limiter.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	pipelineRateLimitDelay.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
