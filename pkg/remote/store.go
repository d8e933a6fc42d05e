package remote

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Collection names under a user's partition.
const (
	CollectionTransactions = "transactions"
	CollectionSavings      = "savings"
)

// Ref addresses one collection inside one partition, e.g. users/<email>/transactions.
type Ref struct {
	Partition  string
	Collection string
}

// Path returns the ref as a slash separated document path.
func (r Ref) Path() string {
	return "users/" + r.Partition + "/" + r.Collection
}

// Document is a stored record as the remote store sees it. The store
// assigns ID and both timestamps; Data holds the caller's JSON object.
type Document struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

// SnapshotFunc receives the full contents of a collection, newest first.
type SnapshotFunc func(docs []Document)

// Subscription is a live change feed on a collection.
type Subscription interface {
	// Unsubscribe stops delivery. When it returns no further snapshots
	// are delivered. It must not be called from inside the SnapshotFunc.
	Unsubscribe()
}

// Store is a partitioned document store with change subscriptions.
type Store interface {
	// Push stores a new document and returns it with its assigned id and timestamps.
	Push(ctx context.Context, ref Ref, data json.RawMessage) (Document, error)

	// Update merges the top-level fields of partial into the document.
	// A field set to null is removed. It returns the stored document with
	// the update time the store assigned.
	Update(ctx context.Context, ref Ref, id string, partial json.RawMessage) (Document, error)

	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, ref Ref, id string) error

	// Subscribe delivers the collection's contents now and after every change.
	// ctx bounds only the setup; delivery runs until Unsubscribe.
	Subscribe(ctx context.Context, ref Ref, fn SnapshotFunc) (Subscription, error)

	// Name identifies the store in logs and metrics.
	Name() string

	// Close releases resources held by the store.
	Close() error
}

// SortNewestFirst orders documents by CreatedAt descending, then by id.
func SortNewestFirst(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID > docs[j].ID
	})
}

// MergeFields applies partial onto data, both JSON objects.
// Fields in partial replace those in data; null fields are removed.
func MergeFields(data, partial json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(partial, &patch); err != nil {
		return nil, err
	}

	for k, v := range patch {
		if string(v) == "null" {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}

	return json.Marshal(fields)
}
