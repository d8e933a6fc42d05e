package mock

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"finsync/pkg/remote"
)

// Store is a mock remote.Store for testing.
// It allows injecting custom behavior for each method and tracks call counts.
type Store struct {
	// Function hooks - set these to customize behavior
	PushFunc      func(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error)
	UpdateFunc    func(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error)
	DeleteFunc    func(ctx context.Context, ref remote.Ref, id string) error
	SubscribeFunc func(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error)
	NameFunc      func() string
	CloseFunc     func() error

	// Call tracking (must use atomic operations for race-free access)
	pushCalls      int64
	updateCalls    int64
	deleteCalls    int64
	subscribeCalls int64
}

var _ remote.Store = (*Store)(nil)

// NewStore creates a mock whose writes succeed and whose subscriptions never deliver.
func NewStore(name string) *Store {
	return &Store{
		NameFunc: func() string { return name },
	}
}

// NewFailingStore creates a mock whose every call fails with err.
func NewFailingStore(name string, err error) *Store {
	return &Store{
		NameFunc: func() string { return name },
		PushFunc: func(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error) {
			return remote.Document{}, err
		},
		UpdateFunc: func(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error) {
			return remote.Document{}, err
		},
		DeleteFunc: func(ctx context.Context, ref remote.Ref, id string) error {
			return err
		},
		SubscribeFunc: func(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error) {
			return nil, err
		},
	}
}

// Push implements remote.Store.Push with optional custom behavior.
// By default it echoes data back with a sequential id.
func (m *Store) Push(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error) {
	n := atomic.AddInt64(&m.pushCalls, 1)
	if m.PushFunc != nil {
		return m.PushFunc(ctx, ref, data)
	}
	now := time.Now()
	return remote.Document{
		ID:        "mock-" + strconv.FormatInt(n, 10),
		CreatedAt: now,
		UpdatedAt: now,
		Data:      data,
	}, nil
}

// Update implements remote.Store.Update with optional custom behavior.
// By default it returns partial as the document, stamped now.
func (m *Store) Update(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error) {
	atomic.AddInt64(&m.updateCalls, 1)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, ref, id, partial)
	}
	return remote.Document{ID: id, UpdatedAt: time.Now(), Data: partial}, nil
}

// Delete implements remote.Store.Delete with optional custom behavior.
func (m *Store) Delete(ctx context.Context, ref remote.Ref, id string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, ref, id)
	}
	return nil
}

// Subscribe implements remote.Store.Subscribe with optional custom behavior.
func (m *Store) Subscribe(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error) {
	atomic.AddInt64(&m.subscribeCalls, 1)
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, ref, fn)
	}
	return remote.NewFeed(fn, nil), nil
}

// Name implements remote.Store.Name with optional custom behavior.
func (m *Store) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements remote.Store.Close with optional custom behavior.
func (m *Store) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// PushCalls returns the number of Push calls (thread-safe).
func (m *Store) PushCalls() int {
	return int(atomic.LoadInt64(&m.pushCalls))
}

// UpdateCalls returns the number of Update calls (thread-safe).
func (m *Store) UpdateCalls() int {
	return int(atomic.LoadInt64(&m.updateCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *Store) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// SubscribeCalls returns the number of Subscribe calls (thread-safe).
func (m *Store) SubscribeCalls() int {
	return int(atomic.LoadInt64(&m.subscribeCalls))
}
