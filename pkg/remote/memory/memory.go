package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"finsync/pkg/remote"

	"github.com/google/uuid"
)

// DefaultMaxDocumentBytes mirrors the 1 MiB document limit of hosted document stores.
const DefaultMaxDocumentBytes = 1 << 20

// Store is an in-process remote.Store. It is the remote used by tests and
// by single-process deployments, and it can simulate outages.
type Store struct {
	mu          sync.Mutex
	collections map[remote.Ref]map[string]remote.Document
	subscribers map[remote.Ref][]*remote.Feed
	online      bool
	config      Config
	now         func() time.Time
}

// Config holds configuration for the in-memory remote store.
type Config struct {
	Name string `yaml:"name"`

	// MaxDocumentBytes is the largest accepted document (default 1 MiB).
	MaxDocumentBytes int `yaml:"max_document_bytes"`

	// Latency delays every write, to exercise timeouts.
	Latency time.Duration `yaml:"latency"`
}

var _ remote.Store = (*Store)(nil)

// New creates an empty, online store.
func New(config Config) *Store {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.MaxDocumentBytes <= 0 {
		config.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	return &Store{
		collections: make(map[remote.Ref]map[string]remote.Document),
		subscribers: make(map[remote.Ref][]*remote.Feed),
		online:      true,
		config:      config,
		now:         time.Now,
	}
}

// SetOnline toggles simulated connectivity. While offline every call
// fails with remote.ErrRemoteUnavailable and no snapshots are delivered.
// Going back online publishes fresh snapshots to every subscriber.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	var refs []remote.Ref
	if online {
		for ref := range s.subscribers {
			refs = append(refs, ref)
		}
	}
	s.mu.Unlock()

	for _, ref := range refs {
		s.publish(ref)
	}
}

// Push stores a new document under a fresh uuid.
func (s *Store) Push(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error) {
	if err := s.wait(ctx); err != nil {
		return remote.Document{}, err
	}
	if len(data) > s.config.MaxDocumentBytes {
		return remote.Document{}, remote.ErrPayloadTooLarge
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return remote.Document{}, remote.ErrRemoteUnavailable
	}
	now := s.now()
	doc := remote.Document{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Data:      slices.Clone(data),
	}
	s.collectionLocked(ref)[doc.ID] = doc
	s.mu.Unlock()

	s.publish(ref)
	return doc, nil
}

// Update merges partial into an existing document.
func (s *Store) Update(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error) {
	if err := s.wait(ctx); err != nil {
		return remote.Document{}, err
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return remote.Document{}, remote.ErrRemoteUnavailable
	}
	docs := s.collectionLocked(ref)
	doc, ok := docs[id]
	if !ok {
		s.mu.Unlock()
		return remote.Document{}, remote.ErrNotFound
	}
	merged, err := remote.MergeFields(doc.Data, partial)
	if err != nil {
		s.mu.Unlock()
		return remote.Document{}, err
	}
	if len(merged) > s.config.MaxDocumentBytes {
		s.mu.Unlock()
		return remote.Document{}, remote.ErrPayloadTooLarge
	}
	doc.Data = merged
	doc.UpdatedAt = s.now()
	docs[id] = doc
	s.mu.Unlock()

	s.publish(ref)
	return doc, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, ref remote.Ref, id string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return remote.ErrRemoteUnavailable
	}
	docs := s.collectionLocked(ref)
	_, existed := docs[id]
	delete(docs, id)
	s.mu.Unlock()

	if existed {
		s.publish(ref)
	}
	return nil
}

// Subscribe registers fn and immediately delivers the current contents.
func (s *Store) Subscribe(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return nil, remote.ErrRemoteUnavailable
	}

	var feed *remote.Feed
	feed = remote.NewFeed(fn, func() { s.removeFeed(ref, feed) })
	s.subscribers[ref] = append(s.subscribers[ref], feed)
	feed.Publish(s.snapshotLocked(ref))

	return feed, nil
}

// Documents returns the current contents of a collection, newest first.
func (s *Store) Documents(ref remote.Ref) []remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ref)
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.config.Name
}

// Close stops every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	var feeds []*remote.Feed
	for _, fs := range s.subscribers {
		feeds = append(feeds, fs...)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.Unsubscribe()
	}
	return nil
}

func (s *Store) wait(ctx context.Context) error {
	if s.config.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.config.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return remote.Unavailable(ctx.Err())
	}
}

func (s *Store) collectionLocked(ref remote.Ref) map[string]remote.Document {
	docs, ok := s.collections[ref]
	if !ok {
		docs = make(map[string]remote.Document)
		s.collections[ref] = docs
	}
	return docs
}

func (s *Store) snapshotLocked(ref remote.Ref) []remote.Document {
	docs := make([]remote.Document, 0, len(s.collections[ref]))
	for _, d := range s.collections[ref] {
		d.Data = slices.Clone(d.Data)
		docs = append(docs, d)
	}
	remote.SortNewestFirst(docs)
	return docs
}

func (s *Store) publish(ref remote.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return
	}
	for _, f := range s.subscribers[ref] {
		f.Publish(s.snapshotLocked(ref))
	}
}

func (s *Store) removeFeed(ref remote.Ref, feed *remote.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[ref] = slices.DeleteFunc(s.subscribers[ref], func(f *remote.Feed) bool { return f == feed })
}
