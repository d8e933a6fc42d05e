package remote

import (
	"context"
	"encoding/json"
)

// UnavailableStore is the Store used when no remote is configured or the
// session is local-only. Every call fails with ErrRemoteUnavailable.
type UnavailableStore struct{}

var _ Store = UnavailableStore{}

func (UnavailableStore) Push(ctx context.Context, ref Ref, data json.RawMessage) (Document, error) {
	return Document{}, ErrRemoteUnavailable
}

func (UnavailableStore) Update(ctx context.Context, ref Ref, id string, partial json.RawMessage) (Document, error) {
	return Document{}, ErrRemoteUnavailable
}

func (UnavailableStore) Delete(ctx context.Context, ref Ref, id string) error {
	return ErrRemoteUnavailable
}

func (UnavailableStore) Subscribe(ctx context.Context, ref Ref, fn SnapshotFunc) (Subscription, error) {
	return nil, ErrRemoteUnavailable
}

func (UnavailableStore) Name() string { return "unavailable" }

func (UnavailableStore) Close() error { return nil }
