package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHandled = "handled"
	resultSkipped = "skipped"
	resultError   = "error"
)

// Metrics counts routed stream messages.
type Metrics struct {
	Routed *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Routed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_stream_messages_total",
			Help: "Stream messages routed by audit action and result",
		}, []string{"action", "result"}),
	}
}

func (m *Metrics) IncRouted(action, result string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.Routed.WithLabelValues(action, result).Inc()
}
