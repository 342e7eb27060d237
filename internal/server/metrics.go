package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the chi route pattern rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// retrievalRequestsTotal counts completed /api/retrieve requests,
	// partitioned by outcome: "ok", "empty", or "error".
	retrievalRequestsTotal *prometheus.CounterVec

	// backgroundIngestions is the number of ingestions started with a 202
	// response that have not finished yet.
	backgroundIngestions prometheus.Gauge

	// authFailuresTotal counts 401 responses by reason: "missing" or "invalid".
	authFailuresTotal *prometheus.CounterVec

	// rateLimitedTotal counts requests rejected with 429.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the router,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg, never the
// global default registry.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		retrievalRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of /api/retrieve requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		backgroundIngestions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "asksudo",
			Subsystem: "server",
			Name:      "background_ingestions",
			Help:      "Number of ingestions running after their request returned 202.",
		}),

		authFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "http",
			Name:      "auth_failures_total",
			Help:      "Requests rejected for a missing or invalid bearer token.",
		}, []string{"reason"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "asksudo",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"method", labelHandler}),
	}
}

// middleware records request count and latency per route pattern. The
// pattern is read after the handler runs, once chi has resolved it.
func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		handler := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				handler = p
			}
		}

		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(elapsed.Seconds())
	})
}
