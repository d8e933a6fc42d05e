package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"finsync/pkg/kv"
)

// Store is an in-process kv.Backend. Data lives as long as the process.
// It is the default local store and the backend used by tests.
type Store struct {
	// data holds the stored values
	data map[string]*entry

	// mu protects concurrent access to data
	mu sync.RWMutex

	config Config

	closed bool
}

// entry holds a value and its bookkeeping for eviction
type entry struct {
	value      []byte
	accessedAt time.Time
	updatedAt  time.Time
}

// Config holds configuration for the memory store
type Config struct {
	// Name is the backend identifier
	Name string

	// MaxSize is the maximum number of keys (0 = unlimited).
	// When full, the least recently used key is evicted.
	MaxSize int
}

// New creates a new in-memory store with the given configuration.
func New(config Config) *Store {
	if config.Name == "" {
		config.Name = "memory"
	}

	return &Store{
		data:   make(map[string]*entry),
		config: config,
	}
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, kv.ErrUnavailable
	}

	e, ok := s.data[key]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	e.accessedAt = time.Now()

	return slices.Clone(e.value), nil
}

// Set stores a copy of value under key, evicting the LRU key if MaxSize is reached.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrUnavailable
	}

	if _, exists := s.data[key]; !exists && s.config.MaxSize > 0 && len(s.data) >= s.config.MaxSize {
		s.evictLocked()
	}

	now := time.Now()
	s.data[key] = &entry{
		value:      slices.Clone(value),
		accessedAt: now,
		updatedAt:  now,
	}

	return nil
}

// Delete removes a key from the store.
// Returns nil even if the key doesn't exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.config.Name
}

// Close drops all data. Further operations return kv.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.data = make(map[string]*entry)
	s.closed = true
	s.mu.Unlock()

	return nil
}

// evictLocked removes the least recently used key. Caller holds mu.
func (s *Store) evictLocked() {
	var lruKey string
	var lruTime time.Time

	for k, e := range s.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}

	if lruKey != "" {
		delete(s.data, lruKey)
	}
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Size:     len(s.data),
		MaxSize:  s.config.MaxSize,
		Capacity: s.config.MaxSize,
	}

	if stats.Capacity == 0 {
		stats.Capacity = -1 // Unlimited
	}

	return stats
}

// Stats holds store statistics.
type Stats struct {
	Size     int // Current number of keys
	MaxSize  int // Maximum allowed keys (0 = unlimited)
	Capacity int // Effective capacity (-1 = unlimited)
}
