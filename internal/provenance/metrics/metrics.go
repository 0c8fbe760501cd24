package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry engine, reader and projection.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Verifications     *prometheus.CounterVec
	ReaderAttempts    *prometheus.HistogramVec
	ReaderExhausted   *prometheus.CounterVec
	ProjectionApplied *prometheus.CounterVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_registry_operations_total",
			Help: "Registry operations by operation and result code",
		}, []string{"operation", "result"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_registry_operation_duration_seconds",
			Help:    "Duration of registry operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_verifications_total",
			Help: "Verification results by outcome (unknown, stale, authentic)",
		}, []string{"outcome"}),
		ReaderAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_reader_attempts",
			Help:    "Attempts the eventually consistent reader needed per call",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}, []string{"query"}),
		ReaderExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_reader_exhausted_total",
			Help: "Reads that were still not visible when the retry budget ran out",
		}, []string{"query"}),
		ProjectionApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_projection_events_total",
			Help: "Stream events handled by the read projection by action and result",
		}, []string{"action", "result"}),
	}
}

// ObserveOperation records one registry operation. result is "ok" or the
// domain error code.
func (m *Metrics) ObserveOperation(operation, result string, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReaderAttempts(query string, attempts int) {
	if m == nil {
		return
	}
	m.ReaderAttempts.WithLabelValues(query).Observe(float64(attempts))
}

func (m *Metrics) IncReaderExhausted(query string) {
	if m == nil {
		return
	}
	m.ReaderExhausted.WithLabelValues(query).Inc()
}

// IncProjection counts one projected event. result is "applied", "replayed"
// or "error".
func (m *Metrics) IncProjection(action, result string) {
	if m == nil {
		return
	}
	m.ProjectionApplied.WithLabelValues(action, result).Inc()
}
