// Package telemetry holds the Prometheus collectors for the audit service and the HTTP middleware that feeds them.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	auditJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_jobs_total",
			Help: "Total number of audit jobs processed, labeled by outcome.",
		},
		[]string{"status"},
	)

	auditActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seoaudit_active_workers",
			Help: "Number of workers currently processing a job.",
		},
	)

	auditJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seoaudit_job_duration_seconds",
			Help:    "Histogram of audit job durations, labeled by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	sourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_source_failures_total",
			Help: "Total number of failed source fetches, labeled by source and kind.",
		},
		[]string{"source", "kind"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_cache_lookups_total",
			Help: "Total number of cache lookups, labeled by cache and result.",
		},
		[]string{"cache", "result"},
	)

	pagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_pages_fetched_total",
			Help: "Total number of pages fetched, labeled by site and mode.",
		},
		[]string{"site", "mode"},
	)

	bytesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_bytes_fetched_total",
			Help: "Total number of bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	batchPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_batch_pages_total",
			Help: "Total number of pages audited by the batch crawler, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	checkIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seoaudit_check_issues_total",
			Help: "Total number of non-passing checks, labeled by check and status.",
		},
		[]string{"check", "status"},
	)

	runsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seoaudit_runs_reaped_total",
			Help: "Total number of stuck runs failed by the reaper.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seoaudit_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
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
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		// Route patterns keep label cardinality bounded; raw paths carry run IDs.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, code, time.Since(start))
	})
}

// SanitizeSite extracts the lower-cased hostname from a URL, or "unknown".
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

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob records a finished job with its outcome (ready, failed, retried).
func ObserveJob(status string, duration time.Duration) {
	auditJobsTotal.WithLabelValues(status).Inc()
	auditJobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	auditActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	auditActiveWorkers.Dec()
}

// ObserveSourceFailure records a failed html, performance or analytics fetch.
func ObserveSourceFailure(source, kind string) {
	sourceFailuresTotal.WithLabelValues(source, kind).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// ObserveFetch records a fetched page.
func ObserveFetch(site string, headless bool, bytesFetched int) {
	host := SanitizeSite(site)
	mode := "http"
	if headless {
		mode = "headless"
	}
	pagesFetchedTotal.WithLabelValues(host, mode).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveBatchPage records one batch crawler row.
func ObserveBatchPage(outcome string) {
	batchPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCheckIssue records a check that did not pass.
func ObserveCheckIssue(check, status string) {
	checkIssuesTotal.WithLabelValues(check, status).Inc()
}

// ObserveRunsReaped records runs failed by the reaper.
func ObserveRunsReaped(n int) {
	runsReapedTotal.Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
