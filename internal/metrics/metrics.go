// Package metrics holds the Prometheus collectors shared by the gateway and the engine.
package metrics

import (
	"strings"
	"time"

	"censustwin/blockchain/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Integrity verdict labels.
const (
	IntegrityPassed   = "passed"
	IntegrityFailed   = "failed"
	IntegrityNotFound = "not_found"
)

// Metrics provides observability for ledger invocations.
type Metrics struct {
	// Contract invocations by function and outcome (success, rejected, conflict, failed)
	Invocations *prometheus.CounterVec

	// Invocation latency by function, including commit
	InvocationLatency *prometheus.HistogramVec

	// Integrity verdicts
	IntegrityChecks *prometheus.CounterVec

	// Committed events the producer could not accept
	EventPublishFailures prometheus.Counter

	// Queued invocations NACKed for redelivery by the engine
	Redeliveries *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "censustwin_ledger_invocations_total",
			Help: "Contract invocations by function and outcome",
		}, []string{"function", "outcome"}),

		InvocationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "censustwin_ledger_invocation_duration_seconds",
			Help:    "Duration of contract invocations including commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"function"}),

		IntegrityChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "censustwin_integrity_checks_total",
			Help: "Integrity verifications by verdict",
		}, []string{"result"}),

		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "censustwin_event_publish_failures_total",
			Help: "Committed ledger events that could not be handed to the producer",
		}),

		Redeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "censustwin_engine_redeliveries_total",
			Help: "Queued invocations left for redelivery, by function",
		}, []string{"function"}),
	}
}

// ObserveInvocation records one invocation outcome and its duration.
func (m *Metrics) ObserveInvocation(function string, status types.InvocationStatus, d time.Duration) {
	if m != nil {
		m.Invocations.WithLabelValues(function, strings.ToLower(string(status))).Inc()
		m.InvocationLatency.WithLabelValues(function).Observe(d.Seconds())
	}
}

// IncrementIntegrity records an integrity verdict.
func (m *Metrics) IncrementIntegrity(result string) {
	if m != nil {
		m.IntegrityChecks.WithLabelValues(result).Inc()
	}
}

// IncrementEventPublishFailure records a lost event.
func (m *Metrics) IncrementEventPublishFailure() {
	if m != nil {
		m.EventPublishFailures.Inc()
	}
}

// IncrementRedelivery records a NACKed invocation.
func (m *Metrics) IncrementRedelivery(function string) {
	if m != nil {
		m.Redeliveries.WithLabelValues(function).Inc()
	}
}
