package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine. Services accept a
// nil *Metrics, so unit tests skip registration entirely.
type Metrics struct {
	PaymentsCreated   prometheus.Counter
	PaymentsApproved  prometheus.Counter
	PaymentsRejected  prometheus.Counter
	PaymentsExpired   prometheus.Counter
	PaymentsSucceeded prometheus.Counter
	PaymentsFailed    prometheus.Counter
	GatewayRetries    prometheus.Counter
	ClaimConflicts    prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return promauto.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	return &Metrics{
		PaymentsCreated:   counter("payguard_payments_created_total", "Payment requests created by the schedule evaluator"),
		PaymentsApproved:  counter("payguard_payments_approved_total", "Payment requests that reached full approval"),
		PaymentsRejected:  counter("payguard_payments_rejected_total", "Payment requests rejected by an admin or the system"),
		PaymentsExpired:   counter("payguard_payments_expired_total", "Payment requests expired by the approval-window sweep"),
		PaymentsSucceeded: counter("payguard_payments_succeeded_total", "Payments confirmed succeeded by the gateway"),
		PaymentsFailed:    counter("payguard_payments_failed_total", "Payments terminally failed"),
		GatewayRetries:    counter("payguard_gateway_retries_total", "Gateway calls retried after transient errors"),
		ClaimConflicts:    counter("payguard_claim_conflicts_total", "Executor claims lost to a concurrent instance"),
	}
}

func (m *Metrics) inc(c prometheus.Counter) {
	if m != nil && c != nil {
		c.Inc()
	}
}

// Each wrapper checks the receiver before touching a field so that a nil
// *Metrics stays a no-op instead of panicking on the field access.
func (m *Metrics) IncPaymentsCreated() {
	if m == nil {
		return
	}
	m.inc(m.PaymentsCreated)
}

func (m *Metrics) IncPaymentsApproved() {
	if m == nil {
		return
	}
	m.inc(m.PaymentsApproved)
}

func (m *Metrics) IncPaymentsRejected() {
	if m == nil {
		return
	}
	m.inc(m.PaymentsRejected)
}

func (m *Metrics) IncPaymentsExpired() {
	if m == nil {
		return
	}
	m.inc(m.PaymentsExpired)
}

func (m *Metrics) IncPaymentsSucceeded() {
	if m == nil {
		return
	}
	m.inc(m.PaymentsSucceeded)
}

func (m *Metrics) IncPaymentsFailed() {
	if m == nil {
		return
	}
	m.inc(m.PaymentsFailed)
}

func (m *Metrics) IncGatewayRetries() {
	if m == nil {
		return
	}
	m.inc(m.GatewayRetries)
}

func (m *Metrics) IncClaimConflicts() {
	if m == nil {
		return
	}
	m.inc(m.ClaimConflicts)
}
