package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registration outcomes.
const (
	OutcomeSuccess          = "success"
	OutcomeRejected         = "rejected"
	OutcomeIdentityConflict = "identity_conflict"
	OutcomeIdentityFailure  = "identity_failure"
	OutcomeProvisioningFail = "provisioning_failed"
)

// Compensation results.
const (
	CompensationDeleted  = "deleted"
	CompensationNotFound = "not_found"
	CompensationFailed   = "failed"
)

// Metrics provides observability for the registration saga.
type Metrics struct {
	Registrations      *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	OrphanedIdentities prometheus.Counter
	RegisterDuration   prometheus.Histogram
}

// New registers the tenant metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tenant_registrations_total",
			Help: "Registration attempts by outcome",
		}, []string{"outcome"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tenant_compensations_total",
			Help: "Identity compensation attempts by result",
		}, []string{"result"}),
		OrphanedIdentities: factory.NewCounter(prometheus.CounterOpts{
			Name: "nexus_tenant_orphaned_identities_total",
			Help: "Identity records left without a user row because compensation failed",
		}),
		RegisterDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nexus_tenant_register_duration_seconds",
			Help:    "Duration of Register including compensation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// ObserveRegistration records the outcome and duration of one registration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRegistration(outcome string, start time.Time) {
	m.Registrations.WithLabelValues(outcome).Inc()
	m.RegisterDuration.Observe(time.Since(start).Seconds())
}

// IncrementCompensation records one compensation attempt.
func (m *Metrics) IncrementCompensation(result string) {
	m.Compensations.WithLabelValues(result).Inc()
	if result == CompensationFailed {
		m.OrphanedIdentities.Inc()
	}
}
