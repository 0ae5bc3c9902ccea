package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

func TestEscrowMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewEscrowMetrics(reg)

	metrics.ObserveTransition(enums.TransactionStatePending, enums.TransactionStateFundsHeld)
	metrics.IncReveal()
	metrics.IncDispute()
	metrics.IncOverride(enums.AuditActionForceRefund)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "escrow_transitions_total", "from", "pending"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected transitions=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "escrow_dispute_overrides_total", "action", "force_refund"); err != nil {
		t.Fatalf("fetch overrides: %v", err)
	} else if got != 1 {
		t.Fatalf("expected overrides=1, got %f", got)
	}
}

func TestEscrowMetricsNilRegistererIsNoop(t *testing.T) {
	metrics := NewEscrowMetrics(nil)
	metrics.ObserveTransition(enums.TransactionStatePending, enums.TransactionStateRefunded)
	metrics.IncReveal()
	metrics.IncDispute()
	metrics.IncOverride(enums.AuditActionForceRelease)
}
