package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"finsync/pkg/logging"
	"finsync/pkg/metrics"
	"finsync/pkg/remote"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientStore wraps a remote.Store with a circuit breaker and per-call
// timeout. It never retries: a failed call fails fast so the caller can
// fall back to local storage.
type ResilientStore struct {
	store   remote.Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

var _ remote.Store = (*ResilientStore)(nil)

// NewResilientStore creates a resilient wrapper around the given store.
func NewResilientStore(store remote.Store, config ResilientConfig) *ResilientStore {
	return NewResilientStoreWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewResilientStoreWithMetrics creates a resilient wrapper with a custom metrics collector.
func NewResilientStoreWithMetrics(store remote.Store, config ResilientConfig, metricsCollector metrics.MetricsCollector) *ResilientStore {
	logger := logging.Global().Named("resilience").Named(store.Name())

	rs := &ResilientStore{
		store:   store,
		timeout: config.Timeout,
		metrics: metricsCollector,
		logger:  logger,
	}

	logger.Info("resilient store initialized",
		zap.String("store", store.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        store.Name(),
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.CircuitBreakerConfig.shouldTrip(Counts(counts))
		},
		// Size rejections and missing documents say nothing about the
		// store's health, so they do not count toward tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || remote.IsPayloadTooLarge(err) || remote.IsNotFound(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("store", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			rs.metrics.RecordCircuitState(name, state)
		},
	}

	rs.cb = gobreaker.NewCircuitBreaker(settings)

	return rs
}

// Name returns the name of the underlying store.
func (rs *ResilientStore) Name() string {
	return rs.store.Name()
}

// State returns the current circuit breaker state.
func (rs *ResilientStore) State() metrics.CircuitState {
	switch rs.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// execute runs fn with the configured timeout through the circuit breaker
// and normalizes breaker and deadline failures into remote errors.
func (rs *ResilientStore) execute(ctx context.Context, operation string, ref remote.Ref, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	result, err := rs.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	duration := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rs.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", operation),
			logging.Collection(ref.Collection),
		)
		return nil, remote.ErrCircuitOpen
	}

	if ctx.Err() == context.DeadlineExceeded {
		rs.logger.Warn("operation timeout",
			zap.String("operation", operation),
			logging.Collection(ref.Collection),
			zap.Duration("timeout", rs.timeout),
			zap.Duration("elapsed", duration),
		)
		return nil, remote.ErrTimeout
	}

	rs.logger.Error("remote operation failed",
		zap.String("operation", operation),
		logging.Collection(ref.Collection),
		zap.String("error_type", remote.ClassifyError(err)),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	return nil, err
}

// Push stores a new document with timeout and circuit breaker protection.
func (rs *ResilientStore) Push(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error) {
	result, err := rs.execute(ctx, "push", ref, func(ctx context.Context) (interface{}, error) {
		return rs.store.Push(ctx, ref, data)
	})
	if err != nil {
		return remote.Document{}, err
	}
	return result.(remote.Document), nil
}

// Update merges fields into a document with timeout and circuit breaker protection.
func (rs *ResilientStore) Update(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error) {
	result, err := rs.execute(ctx, "update", ref, func(ctx context.Context) (interface{}, error) {
		return rs.store.Update(ctx, ref, id, partial)
	})
	if err != nil {
		return remote.Document{}, err
	}
	return result.(remote.Document), nil
}

// Delete removes a document with timeout and circuit breaker protection.
func (rs *ResilientStore) Delete(ctx context.Context, ref remote.Ref, id string) error {
	_, err := rs.execute(ctx, "delete", ref, func(ctx context.Context) (interface{}, error) {
		return nil, rs.store.Delete(ctx, ref, id)
	})
	return err
}

// Subscribe opens a subscription through the circuit breaker. The timeout
// bounds only the setup; delivery continues until Unsubscribe.
func (rs *ResilientStore) Subscribe(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error) {
	result, err := rs.execute(ctx, "subscribe", ref, func(ctx context.Context) (interface{}, error) {
		return rs.store.Subscribe(ctx, ref, fn)
	})
	if err != nil {
		return nil, err
	}
	return result.(remote.Subscription), nil
}

// Close closes the underlying store.
func (rs *ResilientStore) Close() error {
	return rs.store.Close()
}
