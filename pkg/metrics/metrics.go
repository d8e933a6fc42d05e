package metrics

import (
	"time"
)

// Outcome of a remote operation as seen by the reconciliation policy.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeTooLarge    Outcome = "too_large"
	OutcomeError       Outcome = "error"
)

// MetricsCollector defines the interface for collecting sync metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Remote store operations, labelled by collection ("transactions", "savings")
	// and operation ("push", "update", "delete").
	RecordRemoteOp(collection, operation string, outcome Outcome, duration time.Duration)

	// Reconciliation outcomes
	RecordFallback(collection, operation string)
	RecordDegraded(collection string)
	RecordSnapshot(collection string, applied bool)

	// Local persistence
	RecordPersist(backend string, success bool, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Async mirror
	RecordQueueDepth(name string, depth int)
	RecordWriteDropped(name string)
	RecordAsyncWrite(name string, success bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordRemoteOp does nothing.
func (NoOpCollector) RecordRemoteOp(collection, operation string, outcome Outcome, duration time.Duration) {
}

// RecordFallback does nothing.
func (NoOpCollector) RecordFallback(collection, operation string) {}

// RecordDegraded does nothing.
func (NoOpCollector) RecordDegraded(collection string) {}

// RecordSnapshot does nothing.
func (NoOpCollector) RecordSnapshot(collection string, applied bool) {}

// RecordPersist does nothing.
func (NoOpCollector) RecordPersist(backend string, success bool, duration time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(name string, depth int) {}

// RecordWriteDropped does nothing.
func (NoOpCollector) RecordWriteDropped(name string) {}

// RecordAsyncWrite does nothing.
func (NoOpCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {}

// MultiCollector forwards every record to each of its collectors.
type MultiCollector []MetricsCollector

// Combine returns a collector recording to all non-nil collectors.
func Combine(collectors ...MetricsCollector) MetricsCollector {
	var m MultiCollector
	for _, c := range collectors {
		if c != nil {
			m = append(m, c)
		}
	}
	switch len(m) {
	case 0:
		return NoOpCollector{}
	case 1:
		return m[0]
	}
	return m
}

func (m MultiCollector) RecordRemoteOp(collection, operation string, outcome Outcome, duration time.Duration) {
	for _, c := range m {
		c.RecordRemoteOp(collection, operation, outcome, duration)
	}
}

func (m MultiCollector) RecordFallback(collection, operation string) {
	for _, c := range m {
		c.RecordFallback(collection, operation)
	}
}

func (m MultiCollector) RecordDegraded(collection string) {
	for _, c := range m {
		c.RecordDegraded(collection)
	}
}

func (m MultiCollector) RecordSnapshot(collection string, applied bool) {
	for _, c := range m {
		c.RecordSnapshot(collection, applied)
	}
}

func (m MultiCollector) RecordPersist(backend string, success bool, duration time.Duration) {
	for _, c := range m {
		c.RecordPersist(backend, success, duration)
	}
}

func (m MultiCollector) RecordCircuitState(name string, state CircuitState) {
	for _, c := range m {
		c.RecordCircuitState(name, state)
	}
}

func (m MultiCollector) RecordQueueDepth(name string, depth int) {
	for _, c := range m {
		c.RecordQueueDepth(name, depth)
	}
}

func (m MultiCollector) RecordWriteDropped(name string) {
	for _, c := range m {
		c.RecordWriteDropped(name)
	}
}

func (m MultiCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {
	for _, c := range m {
		c.RecordAsyncWrite(name, success, duration)
	}
}
