package prometheus

import (
	"time"

	"finsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Remote store
	remoteOps     *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec

	// Reconciliation
	fallbacks *prometheus.CounterVec
	degraded  *prometheus.CounterVec
	snapshots *prometheus.CounterVec

	// Local persistence
	persists       *prometheus.CounterVec
	persistLatency *prometheus.HistogramVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Async mirror
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec
	asyncLatency  *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		remoteOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_total",
				Help:      "Total number of remote store operations per collection, operation and outcome",
			},
			[]string{"collection", "operation", "outcome"},
		),
		remoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_operation_duration_seconds",
				Help:      "Remote store operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"collection", "operation"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_fallbacks_total",
				Help:      "Mutations applied locally because the remote store failed",
			},
			[]string{"collection", "operation"},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_writes_total",
				Help:      "Records stored remotely without their attachment",
			},
			[]string{"collection"},
		),
		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_snapshots_total",
				Help:      "Remote snapshots received, by whether they changed local state",
			},
			[]string{"collection", "applied"},
		),
		persists: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_writes_total",
				Help:      "Local persistence writes per backend and status",
			},
			[]string{"backend", "status"},
		),
		persistLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "persist_duration_seconds",
				Help:      "Local persistence write latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to ~3s
			},
			[]string{"backend"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mirror_queue_depth",
				Help:      "Current async mirror queue depth",
			},
			[]string{"backend"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_dropped_writes_total",
				Help:      "Snapshots dropped by the async mirror under backpressure",
			},
			[]string{"backend"},
		),
		asyncWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_writes_total",
				Help:      "Async mirror writes per backend and status",
			},
			[]string{"backend", "status"},
		),
		asyncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mirror_write_duration_seconds",
				Help:      "Async mirror write latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"backend"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.remoteOps,
		pc.remoteLatency,
		pc.fallbacks,
		pc.degraded,
		pc.snapshots,
		pc.persists,
		pc.persistLatency,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.asyncLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordRemoteOp records a remote store operation.
func (pc *PrometheusCollector) RecordRemoteOp(collection, operation string, outcome metrics.Outcome, duration time.Duration) {
	pc.remoteOps.WithLabelValues(collection, operation, string(outcome)).Inc()
	pc.remoteLatency.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// RecordFallback records a local fallback.
func (pc *PrometheusCollector) RecordFallback(collection, operation string) {
	pc.fallbacks.WithLabelValues(collection, operation).Inc()
}

// RecordDegraded records a degraded write.
func (pc *PrometheusCollector) RecordDegraded(collection string) {
	pc.degraded.WithLabelValues(collection).Inc()
}

// RecordSnapshot records a received remote snapshot.
func (pc *PrometheusCollector) RecordSnapshot(collection string, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	pc.snapshots.WithLabelValues(collection, label).Inc()
}

// RecordPersist records a local persistence write.
func (pc *PrometheusCollector) RecordPersist(backend string, success bool, duration time.Duration) {
	pc.persists.WithLabelValues(backend, status(success)).Inc()
	pc.persistLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordQueueDepth records the current async mirror queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(name string, depth int) {
	pc.queueDepth.WithLabelValues(name).Set(float64(depth))
}

// RecordWriteDropped records a dropped async write.
func (pc *PrometheusCollector) RecordWriteDropped(name string) {
	pc.droppedWrites.WithLabelValues(name).Inc()
}

// RecordAsyncWrite records an async mirror write.
func (pc *PrometheusCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {
	pc.asyncWrites.WithLabelValues(name, status(success)).Inc()
	pc.asyncLatency.WithLabelValues(name).Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
