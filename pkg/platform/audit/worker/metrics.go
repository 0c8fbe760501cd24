package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox relay.
type Metrics struct {
	Relayed     prometheus.Counter
	Skipped     prometheus.Counter
	Lag         prometheus.Histogram
	BreakerOpen prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Relayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "provenance_outbox_relayed_total",
			Help: "Total number of outbox entries published to Kafka",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "provenance_outbox_skipped_polls_total",
			Help: "Relay polls skipped because the circuit breaker was open",
		}),
		Lag: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "provenance_outbox_lag_seconds",
			Help:    "Age of the oldest entry in each published batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "provenance_outbox_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) AddRelayed(n int) {
	if m == nil {
		return
	}
	m.Relayed.Add(float64(n))
}

func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.Skipped.Inc()
}

func (m *Metrics) ObserveLag(d time.Duration) {
	if m == nil {
		return
	}
	m.Lag.Observe(d.Seconds())
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}
