package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"finsync/pkg/remote"
)

var testRef = remote.Ref{Partition: "demo_smartfinance_com", Collection: remote.CollectionTransactions}

func collect(t *testing.T) (remote.SnapshotFunc, <-chan []remote.Document) {
	t.Helper()
	ch := make(chan []remote.Document, 16)
	return func(docs []remote.Document) { ch <- docs }, ch
}

func waitSnapshot(t *testing.T, ch <-chan []remote.Document, want int) []remote.Document {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-ch:
			if len(docs) == want {
				return docs
			}
		case <-deadline:
			t.Fatalf("no snapshot with %d documents", want)
			return nil
		}
	}
}

func TestStore_PushAssignsIDAndTimestamps(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	doc, err := s.Push(ctx, testRef, json.RawMessage(`{"amount":5000}`))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if doc.ID == "" {
		t.Error("expected assigned id")
	}
	if doc.CreatedAt.IsZero() || !doc.CreatedAt.Equal(doc.UpdatedAt) {
		t.Errorf("expected equal non-zero timestamps, got %v / %v", doc.CreatedAt, doc.UpdatedAt)
	}

	docs := s.Documents(testRef)
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("expected stored document, got %+v", docs)
	}
}

func TestStore_PartitionsAreIsolated(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	other := remote.Ref{Partition: "user_smartfinance_com", Collection: remote.CollectionTransactions}
	if _, err := s.Push(ctx, testRef, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if n := len(s.Documents(other)); n != 0 {
		t.Errorf("expected empty partition, got %d documents", n)
	}
}

func TestStore_PayloadTooLarge(t *testing.T) {
	s := New(Config{MaxDocumentBytes: 16})
	ctx := context.Background()

	_, err := s.Push(ctx, testRef, json.RawMessage(`{"image":"aaaaaaaaaaaaaaaaaaaa"}`))
	if !remote.IsPayloadTooLarge(err) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	doc, err := s.Push(ctx, testRef, json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	_, err = s.Update(ctx, testRef, doc.ID, json.RawMessage(`{"image":"aaaaaaaaaaaaaaaaaaaa"}`))
	if !remote.IsPayloadTooLarge(err) {
		t.Fatalf("expected ErrPayloadTooLarge on update, got %v", err)
	}
}

func TestStore_UpdateMergesAndRemovesNullFields(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	doc, err := s.Push(ctx, testRef, json.RawMessage(`{"amount":1,"image":"x","category":"Gaji"}`))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	updated, err := s.Update(ctx, testRef, doc.ID, json.RawMessage(`{"amount":2,"image":null}`))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	stored := s.Documents(testRef)[0]
	if !updated.UpdatedAt.Equal(stored.UpdatedAt) || !updated.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("returned document %+v does not match stored %+v", updated, stored)
	}
	if string(updated.Data) != string(stored.Data) {
		t.Errorf("returned data %s, stored %s", updated.Data, stored.Data)
	}

	var fields map[string]any
	if err := json.Unmarshal(stored.Data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["amount"] != float64(2) {
		t.Errorf("expected amount 2, got %v", fields["amount"])
	}
	if _, ok := fields["image"]; ok {
		t.Error("expected image to be removed")
	}
	if fields["category"] != "Gaji" {
		t.Errorf("expected untouched category, got %v", fields["category"])
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	s := New(Config{})

	_, err := s.Update(context.Background(), testRef, "nope", json.RawMessage(`{}`))
	if !remote.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteMissingIsNotAnError(t *testing.T) {
	s := New(Config{})

	if err := s.Delete(context.Background(), testRef, "nope"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestStore_Offline(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()
	s.SetOnline(false)

	if _, err := s.Push(ctx, testRef, json.RawMessage(`{}`)); !remote.IsUnavailable(err) {
		t.Errorf("Push: expected unavailable, got %v", err)
	}
	if _, err := s.Update(ctx, testRef, "x", json.RawMessage(`{}`)); !remote.IsUnavailable(err) {
		t.Errorf("Update: expected unavailable, got %v", err)
	}
	if err := s.Delete(ctx, testRef, "x"); !remote.IsUnavailable(err) {
		t.Errorf("Delete: expected unavailable, got %v", err)
	}
	fn, _ := collect(t)
	if _, err := s.Subscribe(ctx, testRef, fn); !remote.IsUnavailable(err) {
		t.Errorf("Subscribe: expected unavailable, got %v", err)
	}

	s.SetOnline(true)
	if _, err := s.Push(ctx, testRef, json.RawMessage(`{}`)); err != nil {
		t.Errorf("expected success after reconnect, got %v", err)
	}
}

func TestStore_LatencyRespectsContext(t *testing.T) {
	s := New(Config{Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Push(ctx, testRef, json.RawMessage(`{}`))
	if !remote.IsUnavailable(err) {
		t.Fatalf("expected unavailable on deadline, got %v", err)
	}
}

func TestStore_SubscribeDeliversInitialAndChanges(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	if _, err := s.Push(ctx, testRef, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	fn, ch := collect(t)
	sub, err := s.Subscribe(ctx, testRef, fn)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	waitSnapshot(t, ch, 1)

	time.Sleep(2 * time.Millisecond)
	second, err := s.Push(ctx, testRef, json.RawMessage(`{"n":2}`))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	docs := waitSnapshot(t, ch, 2)
	if docs[0].ID != second.ID {
		t.Errorf("expected newest first, got %s", docs[0].ID)
	}
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	fn, ch := collect(t)
	sub, err := s.Subscribe(ctx, testRef, fn)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitSnapshot(t, ch, 0)

	sub.Unsubscribe()

	if _, err := s.Push(ctx, testRef, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	select {
	case docs := <-ch:
		t.Fatalf("unexpected snapshot after unsubscribe: %d docs", len(docs))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_Name(t *testing.T) {
	if got := New(Config{}).Name(); got != "memory" {
		t.Errorf("expected default name memory, got %q", got)
	}
	if got := New(Config{Name: "remote"}).Name(); got != "remote" {
		t.Errorf("expected remote, got %q", got)
	}
}
