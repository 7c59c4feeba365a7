package observability

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEscrowMetricsCounters(t *testing.T) {
	m := EscrowMetrics()
	before := testutil.ToFloat64(m.operations.WithLabelValues("release_payment", "ok"))
	m.RecordOperation("release_payment", "")
	if got := testutil.ToFloat64(m.operations.WithLabelValues("release_payment", "ok")); got != before+1 {
		t.Fatalf("expected ok counter %v, got %v", before+1, got)
	}

	settledBefore := testutil.ToFloat64(m.settled.WithLabelValues("platform_fee"))
	m.RecordSettled("platform_fee", 40_000)
	m.RecordSettled("platform_fee", 0)
	if got := testutil.ToFloat64(m.settled.WithLabelValues("platform_fee")); got != settledBefore+40_000 {
		t.Fatalf("unexpected settled value %v", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("escrow", "escrow_submit", "403"))
	m.Observe("escrow", "escrow_submit", http.StatusForbidden, 5*time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("escrow", "escrow_submit", "403")); got != before+1 {
		t.Fatalf("expected error counter to increment, got %v", got)
	}
}

func TestNilRegistriesAreSafe(t *testing.T) {
	var escrow *EscrowMetricsRegistry
	escrow.RecordOperation("x", "y")
	escrow.RecordSettled("x", 1)
	var module *moduleMetrics
	module.Observe("a", "b", 200, time.Second)
	module.RecordThrottle("a", "b")
}
