package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects authority and issuance observability. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	// Authority round trips by service, operation and outcome
	AuthorityLatency *prometheus.HistogramVec

	// Ticket logins by service and outcome
	TicketRefresh *prometheus.CounterVec

	// Taxpayer resolutions by confidence
	TaxpayerResolution *prometheus.CounterVec

	// Authorization decisions by document kind and outcome
	Authorizations *prometheus.CounterVec

	// Approved documents that could not be recorded locally
	Reconciliations *prometheus.CounterVec
}

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeTransport = "transport_error"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeCached    = "cached"
)

// New registers every metric with reg. Passing prometheus.DefaultRegisterer exposes
// them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthorityLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "afip_authority_request_duration_seconds",
			Help:    "Duration of SOAP calls to the tax authority by service, operation and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service", "operation", "outcome"}),

		TicketRefresh: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_ticket_refresh_total",
			Help: "Access ticket logins by service and outcome",
		}, []string{"service", "outcome"}),

		TaxpayerResolution: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_taxpayer_resolutions_total",
			Help: "Taxpayer status resolutions by confidence (registry, heuristic, cached)",
		}, []string{"confidence"}),

		Authorizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_authorizations_total",
			Help: "Authorization requests by document kind and outcome",
		}, []string{"kind", "outcome"}),

		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "afip_reconciliations_total",
			Help: "Documents approved by the authority whose local recording failed",
		}, []string{"operation"}),
	}
}

// ObserveAuthorityCall records one SOAP round trip.
func (m *Metrics) ObserveAuthorityCall(service, operation, outcome string, d time.Duration) {
	if m != nil {
		m.AuthorityLatency.WithLabelValues(service, operation, outcome).Observe(d.Seconds())
	}
}

// IncTicketRefresh records a ticket login attempt.
func (m *Metrics) IncTicketRefresh(service, outcome string) {
	if m != nil {
		m.TicketRefresh.WithLabelValues(service, outcome).Inc()
	}
}

// IncTaxpayerResolution records how a taxpayer profile was obtained.
func (m *Metrics) IncTaxpayerResolution(confidence string) {
	if m != nil {
		m.TaxpayerResolution.WithLabelValues(confidence).Inc()
	}
}

// IncAuthorization records an authority decision.
func (m *Metrics) IncAuthorization(kind, outcome string) {
	if m != nil {
		m.Authorizations.WithLabelValues(kind, outcome).Inc()
	}
}

// IncReconciliation records an approval that needs manual reconciliation.
func (m *Metrics) IncReconciliation(operation string) {
	if m != nil {
		m.Reconciliations.WithLabelValues(operation).Inc()
	}
}
