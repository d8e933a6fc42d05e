package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"finsync/pkg/kv"
	"finsync/pkg/logging"
	"finsync/pkg/metrics"

	"go.uber.org/zap"
)

// Errors returned by mirror operations.
var (
	// ErrQueueFull is returned when the queue is full and MaxWaitTime exceeded
	ErrQueueFull = errors.New("persist: mirror queue full, write dropped")

	// ErrMirrorClosed is returned when writing to a closed mirror
	ErrMirrorClosed = errors.New("persist: mirror is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for the queue to drain
	ErrFlushTimeout = errors.New("persist: flush timeout exceeded")
)

// AsyncMirror writes snapshots to a backend in the background.
// A single worker applies writes in submission order, so a later snapshot
// of a key always lands after an earlier one.
type AsyncMirror struct {
	backend    kv.Backend
	queue      chan writeOp
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     MirrorConfig
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	name       string
	closeOnce  sync.Once

	// closeMu orders enqueues before shutdown: Write holds it shared while
	// enqueueing and Close takes it exclusively before stopping the worker,
	// so every accepted write is seen by the final drain.
	closeMu sync.RWMutex
	closed  bool

	// pending counts writes enqueued but not yet applied
	pending int64

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64

	// Metrics ticker for periodic queue depth reporting
	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// writeOp represents a pending write.
type writeOp struct {
	key   string
	value []byte
}

// MirrorConfig configures the async mirror.
type MirrorConfig struct {
	// QueueSize is the bounded queue size (default: 256)
	QueueSize int `yaml:"queue_size"`

	// MaxWaitTime is the max time to wait if the queue is full (default: 10ms)
	MaxWaitTime time.Duration `yaml:"max_wait_time"`

	// WriteTimeout bounds each backend write (default: 5s)
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MirrorStats provides statistics about mirror operations.
type MirrorStats struct {
	// QueueDepth is the current number of pending writes in the queue
	QueueDepth int

	// DroppedWrites is the total number of writes dropped due to backpressure
	DroppedWrites int64

	// TotalWrites is the total number of writes accepted
	TotalWrites int64

	// FailedWrites is the total number of writes the backend rejected
	FailedWrites int64
}

// NewAsyncMirror creates a mirror writing to backend. It must be closed with Close.
func NewAsyncMirror(backend kv.Backend, config MirrorConfig, mc metrics.MetricsCollector) *AsyncMirror {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &AsyncMirror{
		backend:       backend,
		queue:         make(chan writeOp, config.QueueSize),
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       mc,
		logger:        logging.Global().Named("persist").Named("mirror"),
		name:          backend.Name(),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.worker()
	go m.reportMetrics()

	return m
}

// Write enqueues a write without blocking on the backend.
// If the queue is full, it waits up to MaxWaitTime before dropping the write.
func (m *AsyncMirror) Write(ctx context.Context, key string, value []byte) error {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return ErrMirrorClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	op := writeOp{key: key, value: value}

	timer := time.NewTimer(m.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&m.pending, 1)
	select {
	case m.queue <- op:
		atomic.AddInt64(&m.totalWrites, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&m.pending, -1)
		atomic.AddInt64(&m.droppedWrites, 1)
		m.metrics.RecordWriteDropped(m.name)
		m.logger.Warn("mirror queue full, snapshot dropped", logging.Key(key))
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&m.pending, -1)
		return ctx.Err()
	}
}

// worker applies queued writes in order.
func (m *AsyncMirror) worker() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.queue:
			m.apply(op)
		case <-m.ctx.Done():
			// Drain remaining items in queue before exiting
			for {
				select {
				case op := <-m.queue:
					m.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (m *AsyncMirror) apply(op writeOp) {
	defer atomic.AddInt64(&m.pending, -1)

	ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := m.backend.Set(ctx, op.key, op.value)
	duration := time.Since(start)

	m.metrics.RecordAsyncWrite(m.name, err == nil, duration)

	if err != nil {
		atomic.AddInt64(&m.failedWrites, 1)
		m.logger.Error("mirror write failed",
			logging.Key(op.key),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
}

// Flush waits until every accepted write has been applied or timeout passes.
func (m *AsyncMirror) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&m.pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting writes and waits for the queue to drain.
func (m *AsyncMirror) Close() error {
	m.closeOnce.Do(func() {
		close(m.metricsStop)
		m.metricsTicker.Stop()

		m.closeMu.Lock()
		m.closed = true
		m.cancelFunc()
		m.closeMu.Unlock()

		m.wg.Wait()
	})
	return nil
}

// reportMetrics periodically reports queue depth.
func (m *AsyncMirror) reportMetrics() {
	for {
		select {
		case <-m.metricsTicker.C:
			m.metrics.RecordQueueDepth(m.name, len(m.queue))
		case <-m.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the mirror.
func (m *AsyncMirror) Stats() MirrorStats {
	return MirrorStats{
		QueueDepth:    len(m.queue),
		DroppedWrites: atomic.LoadInt64(&m.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&m.totalWrites),
		FailedWrites:  atomic.LoadInt64(&m.failedWrites),
	}
}
