package mock

import (
	"context"
	"sync/atomic"
)

// Backend is a mock kv.Backend for testing.
// Set the function hooks to inject behavior; call counts are tracked.
type Backend struct {
	// Function hooks - set these to customize behavior
	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	SetFunc    func(ctx context.Context, key string, value []byte) error
	DeleteFunc func(ctx context.Context, key string) error
	NameFunc   func() string
	CloseFunc  func() error

	// Call tracking (must use atomic operations for race-free access)
	getCalls    int64
	setCalls    int64
	deleteCalls int64
	closeCalls  int64
}

// NewBackend creates a mock whose operations all succeed.
func NewBackend(name string) *Backend {
	return &Backend{
		NameFunc: func() string { return name },
	}
}

// Get implements kv.Backend.Get with optional custom behavior.
func (m *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, nil
}

// Set implements kv.Backend.Set with optional custom behavior.
func (m *Backend) Set(ctx context.Context, key string, value []byte) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value)
	}
	return nil
}

// Delete implements kv.Backend.Delete with optional custom behavior.
func (m *Backend) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

// Name implements kv.Backend.Name with optional custom behavior.
func (m *Backend) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements kv.Backend.Close with optional custom behavior.
func (m *Backend) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *Backend) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// SetCalls returns the number of Set calls (thread-safe).
func (m *Backend) SetCalls() int {
	return int(atomic.LoadInt64(&m.setCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *Backend) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *Backend) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}
