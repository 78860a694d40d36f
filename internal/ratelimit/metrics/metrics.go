package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decisions.
const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
	DecisionError    = "error"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_ratelimit_decisions_total",
			Help: "Per-IP rate limit checks by decision",
		}, []string{"decision"}),
	}
}

func (m *Metrics) IncrementDecision(decision string) {
	m.Decisions.WithLabelValues(decision).Inc()
}
