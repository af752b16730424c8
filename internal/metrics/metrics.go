// Package metrics provides Prometheus instrumentation for the Packseal
// services.
//
// Each binary registers its metrics implicitly via promauto, then mounts
// metrics.Handler() at GET /metrics (Prometheus scrape endpoint).
//
// Standard metrics exposed automatically by prometheus/client_golang:
//   - go_goroutines, go_gc_duration_seconds, etc. (Go runtime)
//   - process_cpu_seconds_total, process_open_fds, etc. (process)
//
// Packseal-specific metrics registered here:
//
//	packseal_http_requests_total            — counter: HTTP requests by service/method/path/status
//	packseal_http_request_duration_seconds  — histogram: HTTP latency by service/method/path
//	packseal_watermark_total                — counter: watermark operations by kind/outcome
//	packseal_watermark_duration_seconds     — histogram: watermark latency by kind
//	packseal_bake_total                     — counter: reprocessing outcomes by outcome
//	packseal_uploads_total                  — counter: upload intake events by flow/outcome
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// HTTPRequests counts HTTP requests by service, method, path, and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "packseal_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"service", "method", "path", "status"})

// WatermarkOps counts watermark operations by kind (image|video) and outcome
// (ok|fallback|error).
var WatermarkOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "packseal_watermark_total",
	Help: "Watermark operations by kind and outcome.",
}, []string{"kind", "outcome"})

// BakeOps counts video reprocessing outcomes (ok|failed|timeout|skipped).
var BakeOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "packseal_bake_total",
	Help: "Video vendor-bake outcomes.",
}, []string{"outcome"})

// Uploads counts upload intake events by flow (proxied|direct) and outcome.
var Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "packseal_uploads_total",
	Help: "Upload intake events by flow and outcome.",
}, []string{"flow", "outcome"})

// ── Histograms ────────────────────────────────────────────────────────────────

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "packseal_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
}, []string{"service", "method", "path"})

// WatermarkDuration tracks watermark engine latency by kind. Video bakes run
// minutes, so the buckets reach far past the HTTP defaults.
var WatermarkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "packseal_watermark_duration_seconds",
	Help:    "Watermark engine latency in seconds.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 60, 180, 600},
}, []string{"kind"})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for /metrics endpoints.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware wraps an HTTP handler to record request counts and latency.
// service is the binary name (e.g. "packseal", "reprocessor").
func Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(service, r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(service, r.Method, path).Observe(dur)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// sanitizePath keeps label cardinality bounded: query strings are already
// excluded, and anything past the second path segment is collapsed.
func sanitizePath(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 2 {
		return "/" + parts[0] + "/" + parts[1] + "/..."
	}
	if len(path) > 64 {
		return path[:64] + "..."
	}
	return path
}
