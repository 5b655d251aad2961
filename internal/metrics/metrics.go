// Package metrics registers the Prometheus metrics shared by the ingestion
// and retrieval layers and optionally exposes them over a standalone
// /metrics listener (METRICS_ADDR). A nil *Metrics is valid everywhere and
// records nothing, so wiring stays optional.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric owned by this package.
const namespace = "raina"

// Metrics holds all Prometheus metrics for the pipeline. A single instance
// is created per process; tests can inject a fresh prometheus.Registry so
// registrations stay hermetic.
type Metrics struct {
	// retrievalStages counts finished retrieval turns, partitioned by the
	// stage that produced the result: direct, cached_query, rewrite,
	// or none.
	retrievalStages *prometheus.CounterVec

	// ingestChunks counts ingested chunks partitioned by outcome:
	// stored, skipped, or error.
	ingestChunks *prometheus.CounterVec

	// gatewayRetries counts retried completion-gateway attempts.
	gatewayRetries prometheus.Counter
}

// New registers all pipeline metrics against reg and returns the populated
// Metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		retrievalStages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "stage_total",
			Help:      "Retrieval turns completed, partitioned by the stage that produced the result.",
		}, []string{"stage"}),

		ingestChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks seen by the ingest writer, partitioned by outcome.",
		}, []string{"outcome"}),

		gatewayRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Completion gateway attempts that were retried after a transient failure.",
		}),
	}
}

// ObserveStage records one finished retrieval turn.
func (m *Metrics) ObserveStage(stage string) {
	if m == nil {
		return
	}
	m.retrievalStages.WithLabelValues(stage).Inc()
}

// ObserveIngest records n chunks with the given outcome.
func (m *Metrics) ObserveIngest(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestChunks.WithLabelValues(outcome).Add(float64(n))
}

// ObserveGatewayRetry records one retried gateway attempt.
func (m *Metrics) ObserveGatewayRetry() {
	if m == nil {
		return
	}
	m.gatewayRetries.Inc()
}

// ListenAndServe exposes the default registry on addr under /metrics.
// It blocks; callers run it on its own goroutine.
func ListenAndServe(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("metrics listener started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics listener failed", slog.String("error", err.Error()))
	}
}
