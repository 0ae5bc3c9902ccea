package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

// EscrowMetrics tracks transaction lifecycle movement.
type EscrowMetrics struct {
	transitions *prometheus.CounterVec
	reveals     prometheus.Counter
	disputes    prometheus.Counter
	overrides   *prometheus.CounterVec
	revealTime  prometheus.Histogram
}

// NewEscrowMetrics registers escrow counters on the provided registerer.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Escrow state transitions by from/to state.",
	}, []string{"from", "to"})
	reveals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_credential_reveals_total",
		Help: "One-time credential reveals served.",
	})
	disputes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_disputes_total",
		Help: "Disputes raised against transactions.",
	})
	overrides := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_dispute_overrides_total",
		Help: "Privileged dispute resolutions by action.",
	}, []string{"action"})
	revealTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_reveal_duration_seconds",
		Help:    "Wall time spent serving a credential reveal.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(transitions, reveals, disputes, overrides, revealTime)
	return &EscrowMetrics{
		transitions: transitions,
		reveals:     reveals,
		disputes:    disputes,
		overrides:   overrides,
		revealTime:  revealTime,
	}
}

// ObserveTransition counts a state change.
func (m *EscrowMetrics) ObserveTransition(from, to enums.TransactionState) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// IncReveal counts a served credential reveal.
func (m *EscrowMetrics) IncReveal() {
	if m == nil || m.reveals == nil {
		return
	}
	m.reveals.Inc()
}

// ObserveRevealDuration records how long a reveal took end to end.
func (m *EscrowMetrics) ObserveRevealDuration(seconds float64) {
	if m == nil || m.revealTime == nil {
		return
	}
	m.revealTime.Observe(seconds)
}

// IncDispute counts a raised dispute.
func (m *EscrowMetrics) IncDispute() {
	if m == nil || m.disputes == nil {
		return
	}
	m.disputes.Inc()
}

// IncOverride counts a privileged dispute resolution.
func (m *EscrowMetrics) IncOverride(action enums.AuditAction) {
	if m == nil || m.overrides == nil {
		return
	}
	m.overrides.WithLabelValues(string(action)).Inc()
}
