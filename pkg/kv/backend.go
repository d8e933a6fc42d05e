package kv

import (
	"context"
)

// Backend is a durable key-value store holding serialized collections.
// Values are opaque bytes; callers own the encoding.
type Backend interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the backend in logs and metrics (e.g. "memory", "sqlite").
	Name() string

	// Close releases resources held by the backend.
	Close() error
}
