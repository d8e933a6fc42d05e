package memcache

import (
	"context"
	"testing"

	"finsync/pkg/kv"
)

func setupTestStore(t *testing.T) *Store {
	config := DefaultConfig()
	config.KeyPrefix = "test:finsync:"

	s, err := New(config)
	if err != nil {
		t.Skipf("memcached not available: %v", err)
	}
	return s
}

func TestNew_NoHosts(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error when no hosts are configured")
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "transactions_a", []byte(`[]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := s.Get(ctx, "transactions_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "[]" {
		t.Errorf("Expected '[]', got '%s'", val)
	}

	if err := s.Delete(ctx, "transactions_a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "transactions_a"); err != nil {
		t.Errorf("Deleting a missing key should succeed, got %v", err)
	}
	if _, err := s.Get(ctx, "transactions_a"); !kv.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestStore_InvalidKey(t *testing.T) {
	s := &Store{config: DefaultConfig()}

	if _, err := s.Get(context.Background(), "bad key"); err == nil {
		t.Error("Expected invalid key error")
	}
}
