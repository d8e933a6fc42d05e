package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestErrorHierarchy(t *testing.T) {
	if !errors.Is(ErrTimeout, ErrRemoteUnavailable) {
		t.Error("ErrTimeout should wrap ErrRemoteUnavailable")
	}
	if !errors.Is(ErrCircuitOpen, ErrRemoteUnavailable) {
		t.Error("ErrCircuitOpen should wrap ErrRemoteUnavailable")
	}
	if IsUnavailable(ErrPayloadTooLarge) {
		t.Error("ErrPayloadTooLarge is not an availability failure")
	}
}

func TestIsPayloadTooLarge(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrPayloadTooLarge, true},
		{"wrapped", fmt.Errorf("push: %w", ErrPayloadTooLarge), true},
		{"longer than text", errors.New("Document is longer than 1048487 bytes"), true},
		{"too large text", errors.New("value too large for column"), true},
		{"other", errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPayloadTooLarge(tt.err); got != tt.want {
				t.Errorf("IsPayloadTooLarge(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ErrCircuitOpen, "circuit_breaker_open"},
		{ErrTimeout, "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{ErrPayloadTooLarge, "payload_too_large"},
		{ErrNotFound, "not_found"},
		{ErrRemoteUnavailable, "unavailable"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWrapAndUnavailable(t *testing.T) {
	if WrapError(nil, "redis", "push") != nil {
		t.Error("WrapError(nil) should be nil")
	}
	err := WrapError(ErrNotFound, "redis", "update")
	if !IsNotFound(err) {
		t.Errorf("wrapped error lost its identity: %v", err)
	}

	if Unavailable(nil) != nil {
		t.Error("Unavailable(nil) should be nil")
	}
	base := errors.New("dial tcp: connection refused")
	err = Unavailable(base)
	if !IsUnavailable(err) || !errors.Is(err, base) {
		t.Errorf("expected both identities, got %v", err)
	}
	if Unavailable(ErrTimeout) != ErrTimeout {
		t.Error("already unavailable errors should pass through")
	}
}

func TestRefPath(t *testing.T) {
	ref := Ref{Partition: "demo_smartfinance_com", Collection: CollectionSavings}
	if got := ref.Path(); got != "users/demo_smartfinance_com/savings" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(time.Hour)},
		{ID: "b", CreatedAt: base},
	}

	SortNewestFirst(docs)

	want := []string{"c", "b", "a"}
	for i, id := range want {
		if docs[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, docs[i].ID, id)
		}
	}
}

func TestMergeFields(t *testing.T) {
	merged, err := MergeFields(
		json.RawMessage(`{"amount":1,"image":"data","note":"x"}`),
		json.RawMessage(`{"amount":2,"image":null,"category":"Gaji"}`),
	)
	if err != nil {
		t.Fatalf("MergeFields failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{"amount": float64(2), "note": "x", "category": "Gaji"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s: got %v, want %v", k, got[k], v)
		}
	}
}

func TestMergeFields_EmptyBaseAndBadInput(t *testing.T) {
	merged, err := MergeFields(nil, json.RawMessage(`{"a":1}`))
	if err != nil || string(merged) != `{"a":1}` {
		t.Errorf("got %s, %v", merged, err)
	}

	if _, err := MergeFields(json.RawMessage(`[1]`), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for non-object base")
	}
	if _, err := MergeFields(nil, json.RawMessage(`nope`)); err == nil {
		t.Error("expected error for invalid patch")
	}
}

func TestFeed_DeliversLatest(t *testing.T) {
	release := make(chan struct{})
	got := make(chan int, 8)

	f := NewFeed(func(docs []Document) {
		<-release
		got <- len(docs)
	}, nil)
	defer f.Unsubscribe()

	f.Publish(make([]Document, 1))
	time.Sleep(10 * time.Millisecond)
	// The subscriber is blocked on the first snapshot; these coalesce.
	f.Publish(make([]Document, 2))
	f.Publish(make([]Document, 3))
	close(release)

	if n := <-got; n != 1 {
		t.Fatalf("first delivery: got %d", n)
	}
	if n := <-got; n != 3 {
		t.Fatalf("coalesced delivery: got %d, want 3", n)
	}
	select {
	case n := <-got:
		t.Fatalf("unexpected extra delivery of %d", n)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFeed_UnsubscribeWaitsAndStops(t *testing.T) {
	var calls, stops int64
	entered := make(chan struct{})

	f := NewFeed(func(docs []Document) {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&calls, 1)
	}, func() { atomic.AddInt64(&stops, 1) })

	f.Publish(nil)
	<-entered
	f.Unsubscribe()

	if atomic.LoadInt64(&calls) != 1 {
		t.Error("Unsubscribe returned before the in-flight callback finished")
	}
	if !f.Stopped() {
		t.Error("expected Stopped")
	}

	f.Publish(nil)
	f.Unsubscribe()
	time.Sleep(10 * time.Millisecond)

	if atomic.LoadInt64(&calls) != 1 {
		t.Error("delivery after Unsubscribe")
	}
	if atomic.LoadInt64(&stops) != 1 {
		t.Errorf("onStop ran %d times, want 1", stops)
	}
}

func TestUnavailableStore(t *testing.T) {
	var s Store = UnavailableStore{}
	ctx := context.Background()
	ref := Ref{Partition: "p", Collection: CollectionTransactions}

	if _, err := s.Push(ctx, ref, nil); !IsUnavailable(err) {
		t.Errorf("Push: %v", err)
	}
	if _, err := s.Update(ctx, ref, "id", nil); !IsUnavailable(err) {
		t.Errorf("Update: %v", err)
	}
	if err := s.Delete(ctx, ref, "id"); !IsUnavailable(err) {
		t.Errorf("Delete: %v", err)
	}
	if _, err := s.Subscribe(ctx, ref, func([]Document) {}); !IsUnavailable(err) {
		t.Errorf("Subscribe: %v", err)
	}
	if s.Name() != "unavailable" || s.Close() != nil {
		t.Error("unexpected Name/Close")
	}
}
