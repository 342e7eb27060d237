package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors owned by the orchestrator.
type Metrics struct {
	// attempts counts finished ingestion attempts by outcome.
	attempts *prometheus.CounterVec

	// duration records wall-clock time per attempt by outcome.
	duration *prometheus.HistogramVec

	// chunks counts chunks indexed by successful attempts.
	chunks prometheus.Counter

	// failures counts failed attempts by the stage that failed.
	failures *prometheus.CounterVec

	// inFlight is the number of attempts currently running.
	inFlight prometheus.Gauge
}

// NewMetrics registers the ingestion metrics against reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "ingestion",
			Name:      "attempts_total",
			Help:      "Total number of ingestion attempts completed, partitioned by outcome.",
		}, []string{"outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "asksudo",
			Subsystem: "ingestion",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingestion attempts.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),

		chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Total number of chunks indexed by successful ingestion attempts.",
		}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asksudo",
			Subsystem: "ingestion",
			Name:      "failures_total",
			Help:      "Failed ingestion attempts, partitioned by the stage that failed.",
		}, []string{"stage"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "asksudo",
			Subsystem: "ingestion",
			Name:      "in_flight",
			Help:      "Number of ingestion attempts currently running.",
		}),
	}
}
