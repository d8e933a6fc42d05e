package memory

import (
	"maps"
	"sync"
	"time"

	"finsync/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory.
// Used by tests and by the JSON metrics endpoint.
type MemoryCollector struct {
	mu sync.RWMutex

	collections map[string]*CollectionMetrics
	backends    map[string]*BackendMetrics
	circuits    map[string]metrics.CircuitState
	circuitOpen map[string]int64
}

// CollectionMetrics holds sync metrics for one remote collection.
type CollectionMetrics struct {
	// Remote operations by "operation/outcome"
	RemoteOps map[string]int64

	Fallbacks          int64
	Degraded           int64
	SnapshotsApplied   int64
	SnapshotsUnchanged int64

	RemoteLatencies []time.Duration
}

// BackendMetrics holds persistence and async mirror metrics for one local backend.
type BackendMetrics struct {
	Persists      int64
	PersistErrors int64

	QueueDepth    int
	DroppedWrites int64
	AsyncWrites   int64
	AsyncErrors   int64

	PersistLatencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		collections: make(map[string]*CollectionMetrics),
		backends:    make(map[string]*BackendMetrics),
		circuits:    make(map[string]metrics.CircuitState),
		circuitOpen: make(map[string]int64),
	}
}

// collectionLocked returns the metrics for collection, creating them if needed. Caller holds mu.
func (mc *MemoryCollector) collectionLocked(name string) *CollectionMetrics {
	cm, ok := mc.collections[name]
	if !ok {
		cm = &CollectionMetrics{RemoteOps: make(map[string]int64)}
		mc.collections[name] = cm
	}
	return cm
}

// backendLocked returns the metrics for backend, creating them if needed. Caller holds mu.
func (mc *MemoryCollector) backendLocked(name string) *BackendMetrics {
	bm, ok := mc.backends[name]
	if !ok {
		bm = &BackendMetrics{}
		mc.backends[name] = bm
	}
	return bm
}

// RecordRemoteOp records a remote store operation.
func (mc *MemoryCollector) RecordRemoteOp(collection, operation string, outcome metrics.Outcome, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm := mc.collectionLocked(collection)
	cm.RemoteOps[operation+"/"+string(outcome)]++
	cm.RemoteLatencies = append(cm.RemoteLatencies, duration)
}

// RecordFallback records a mutation applied locally after a remote failure.
func (mc *MemoryCollector) RecordFallback(collection, operation string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.collectionLocked(collection).Fallbacks++
}

// RecordDegraded records a record stored remotely without its attachment.
func (mc *MemoryCollector) RecordDegraded(collection string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.collectionLocked(collection).Degraded++
}

// RecordSnapshot records a remote snapshot, applied or suppressed as unchanged.
func (mc *MemoryCollector) RecordSnapshot(collection string, applied bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm := mc.collectionLocked(collection)
	if applied {
		cm.SnapshotsApplied++
	} else {
		cm.SnapshotsUnchanged++
	}
}

// RecordPersist records a local persistence write.
func (mc *MemoryCollector) RecordPersist(backend string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backendLocked(backend)
	bm.Persists++
	if !success {
		bm.PersistErrors++
	}
	bm.PersistLatencies = append(bm.PersistLatencies, duration)
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	old := mc.circuits[name]
	mc.circuits[name] = state

	// Count transitions to open
	if old != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.circuitOpen[name]++
	}
}

// RecordQueueDepth records the current async mirror queue depth.
func (mc *MemoryCollector) RecordQueueDepth(name string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backendLocked(name).QueueDepth = depth
}

// RecordWriteDropped records a dropped async write.
func (mc *MemoryCollector) RecordWriteDropped(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backendLocked(name).DroppedWrites++
}

// RecordAsyncWrite records an async mirror write.
func (mc *MemoryCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backendLocked(name)
	bm.AsyncWrites++
	if !success {
		bm.AsyncErrors++
	}
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Collections  map[string]CollectionMetrics `json:"collections"`
	Backends     map[string]BackendMetrics    `json:"backends"`
	Circuits     map[string]string            `json:"circuits"`
	CircuitOpens map[string]int64             `json:"circuitOpens"`
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Collections:  make(map[string]CollectionMetrics, len(mc.collections)),
		Backends:     make(map[string]BackendMetrics, len(mc.backends)),
		Circuits:     make(map[string]string, len(mc.circuits)),
		CircuitOpens: maps.Clone(mc.circuitOpen),
	}

	for name, cm := range mc.collections {
		c := *cm
		c.RemoteOps = maps.Clone(cm.RemoteOps)
		s.Collections[name] = c
	}
	for name, bm := range mc.backends {
		s.Backends[name] = *bm
	}
	for name, state := range mc.circuits {
		s.Circuits[name] = state.String()
	}

	return s
}

// Collection returns a copy of the metrics for one collection, or nil.
func (mc *MemoryCollector) Collection(name string) *CollectionMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if cm, ok := mc.collections[name]; ok {
		c := *cm
		c.RemoteOps = maps.Clone(cm.RemoteOps)
		return &c
	}
	return nil
}

// Backend returns a copy of the metrics for one backend, or nil.
func (mc *MemoryCollector) Backend(name string) *BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if bm, ok := mc.backends[name]; ok {
		b := *bm
		return &b
	}
	return nil
}

// CircuitState returns the last recorded state of the named breaker.
func (mc *MemoryCollector) CircuitState(name string) metrics.CircuitState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.circuits[name]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.collections = make(map[string]*CollectionMetrics)
	mc.backends = make(map[string]*BackendMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.circuitOpen = make(map[string]int64)
}
