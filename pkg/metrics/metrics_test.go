package metrics

import "testing"

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestNoOpCollector_ImplementsInterface(t *testing.T) {
	var c MetricsCollector = NoOpCollector{}
	c.RecordFallback("transactions", "push")
	c.RecordSnapshot("savings", true)
}

type countingCollector struct {
	NoOpCollector
	fallbacks int
}

func (c *countingCollector) RecordFallback(collection, operation string) { c.fallbacks++ }

func TestCombine(t *testing.T) {
	if _, ok := Combine().(NoOpCollector); !ok {
		t.Error("Combine() without collectors should be a no-op")
	}

	a := &countingCollector{}
	if got := Combine(nil, a); got != MetricsCollector(a) {
		t.Error("Combine with one collector should return it unchanged")
	}

	b := &countingCollector{}
	c := Combine(a, b)
	c.RecordFallback("transactions", "push")
	c.RecordDegraded("transactions")

	if a.fallbacks != 1 || b.fallbacks != 1 {
		t.Errorf("fallbacks = %d, %d; want 1, 1", a.fallbacks, b.fallbacks)
	}
}
