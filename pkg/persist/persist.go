package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finsync/pkg/kv"
	"finsync/pkg/logging"
	"finsync/pkg/metrics"
	"finsync/pkg/record"

	"go.uber.org/zap"
)

// Key prefixes of the per-user snapshots.
const (
	TransactionsPrefix = "transactions"
	GoalsPrefix        = "savingsGoals"
)

// ErrPersistenceFailure is returned when a snapshot could not be written or read.
// Callers log it and keep their in-memory state.
var ErrPersistenceFailure = errors.New("persist: persistence failure")

// Collection stores a whole collection of T as one JSON array per user.
type Collection[T record.Identified] struct {
	backend kv.Backend
	pattern *kv.KeyPattern
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewCollection creates a collection writing under "<prefix>_<userKey>".
func NewCollection[T record.Identified](backend kv.Backend, prefix string, mc metrics.MetricsCollector) *Collection[T] {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	return &Collection[T]{
		backend: backend,
		pattern: kv.NewKeyPattern(prefix, "_"),
		metrics: mc,
		logger:  logging.Global().Named("persist").Named(prefix),
	}
}

// Key returns the storage key of the user's snapshot.
func (c *Collection[T]) Key(userKey string) string {
	return c.pattern.Build(userKey)
}

// Encode serializes records the way Save stores them.
func (c *Collection[T]) Encode(records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	return json.Marshal(records)
}

// Save replaces the user's stored snapshot with records.
func (c *Collection[T]) Save(ctx context.Context, userKey string, records []T) error {
	data, err := c.Encode(records)
	if err != nil {
		return c.fail("encode", userKey, err)
	}

	start := time.Now()
	err = c.backend.Set(ctx, c.Key(userKey), data)
	c.metrics.RecordPersist(c.backend.Name(), err == nil, time.Since(start))
	if err != nil {
		return c.fail("save", userKey, err)
	}
	return nil
}

// Load returns the user's stored snapshot. A missing snapshot is an empty collection.
func (c *Collection[T]) Load(ctx context.Context, userKey string) ([]T, error) {
	data, err := c.backend.Get(ctx, c.Key(userKey))
	if kv.IsNotFound(err) {
		return []T{}, nil
	}
	if err != nil {
		return []T{}, c.fail("load", userKey, err)
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return []T{}, c.fail("decode", userKey, err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// SaveAsync encodes records and hands them to the mirror instead of
// writing synchronously.
func (c *Collection[T]) SaveAsync(ctx context.Context, m *AsyncMirror, userKey string, records []T) error {
	data, err := c.Encode(records)
	if err != nil {
		return c.fail("encode", userKey, err)
	}
	if err := m.Write(ctx, c.Key(userKey), data); err != nil {
		return c.fail("mirror", userKey, err)
	}
	return nil
}

// Delete removes the user's stored snapshot.
func (c *Collection[T]) Delete(ctx context.Context, userKey string) error {
	if err := c.backend.Delete(ctx, c.Key(userKey)); err != nil {
		return c.fail("delete", userKey, err)
	}
	return nil
}

func (c *Collection[T]) fail(op, userKey string, err error) error {
	c.logger.Error("persistence failure",
		zap.String("operation", op),
		logging.Key(c.Key(userKey)),
		zap.String("backend", c.backend.Name()),
		zap.String("error_type", kv.ClassifyError(err)),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s %s: %w", ErrPersistenceFailure, op, c.Key(userKey), err)
}

// Adapter groups the per-user snapshots of both record collections.
type Adapter struct {
	Transactions *Collection[record.Transaction]
	Goals        *Collection[record.SavingsGoal]

	backend kv.Backend
}

// NewAdapter creates an adapter storing both collections in backend.
func NewAdapter(backend kv.Backend, mc metrics.MetricsCollector) *Adapter {
	return &Adapter{
		Transactions: NewCollection[record.Transaction](backend, TransactionsPrefix, mc),
		Goals:        NewCollection[record.SavingsGoal](backend, GoalsPrefix, mc),
		backend:      backend,
	}
}

// Backend returns the underlying key-value store.
func (a *Adapter) Backend() kv.Backend {
	return a.backend
}

// Clear deletes both snapshots of the user.
func (a *Adapter) Clear(ctx context.Context, userKey string) error {
	return errors.Join(
		a.Transactions.Delete(ctx, userKey),
		a.Goals.Delete(ctx, userKey),
	)
}
