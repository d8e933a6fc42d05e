package prometheus

import (
	"testing"
	"time"

	"finsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector_Register(t *testing.T) {
	pc := NewPrometheusCollector("finsync_test")
	registry := prometheus.NewRegistry()

	if err := pc.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := pc.Register(registry); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestPrometheusCollector_Counters(t *testing.T) {
	pc := NewPrometheusCollector("finsync_test")

	pc.RecordRemoteOp("transactions", "push", metrics.OutcomeSuccess, time.Millisecond)
	pc.RecordRemoteOp("transactions", "push", metrics.OutcomeSuccess, time.Millisecond)
	pc.RecordFallback("savings", "update")
	pc.RecordDegraded("transactions")
	pc.RecordCircuitState("remote", metrics.CircuitOpen)

	if got := testutil.ToFloat64(pc.remoteOps.WithLabelValues("transactions", "push", "success")); got != 2 {
		t.Errorf("Expected 2 pushes, got %v", got)
	}
	if got := testutil.ToFloat64(pc.fallbacks.WithLabelValues("savings", "update")); got != 1 {
		t.Errorf("Expected 1 fallback, got %v", got)
	}
	if got := testutil.ToFloat64(pc.degraded.WithLabelValues("transactions")); got != 1 {
		t.Errorf("Expected 1 degraded write, got %v", got)
	}
	if got := testutil.ToFloat64(pc.circuitState.WithLabelValues("remote")); got != float64(metrics.CircuitOpen) {
		t.Errorf("Expected circuit state open, got %v", got)
	}
}
