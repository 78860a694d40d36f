package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login resolution outcomes.
const (
	OutcomeSuccess           = "success"
	OutcomeMissingCredential = "missing_credential"
	OutcomeExpired           = "expired"
	OutcomeInvalid           = "invalid"
	OutcomeUnknownUser       = "unknown_user"
	OutcomeError             = "error"
)

// Metrics provides observability for login resolution.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
}

// New registers the auth metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_auth_login_resolutions_total",
			Help: "Login resolutions by outcome",
		}, []string{"outcome"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_auth_resolve_duration_seconds",
			Help:    "Duration of login resolution (verify + lookup)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveResolution records the outcome and duration of one resolution.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolution(outcome string, start time.Time) {
	m.Resolutions.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}
