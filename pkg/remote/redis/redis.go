package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"finsync/pkg/logging"
	"finsync/pkg/remote"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is a remote.Store backed by Redis. Each document is a JSON string
// key, each collection a sorted set of ids scored by creation time, and
// every change is announced on a per-collection pub/sub channel.
type Store struct {
	client rueidis.Client
	name   string
	config Config
	logger *logging.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}

	// loads collapses concurrent snapshot reloads of one collection.
	loads singleflight.Group
}

// Config holds the Redis connection settings.
type Config struct {
	Name string `yaml:"name"`
	// Addr is the Redis server address for single node/sentinel mode.
	// For cluster mode, use ClusterAddrs instead.
	Addr string `yaml:"addr"`
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string `yaml:"cluster_addrs"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	// DB is the Redis database number (0-15).
	// Note: In cluster mode, only DB 0 is supported.
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxDocumentBytes bounds the encoded size of a single document.
	MaxDocumentBytes int `yaml:"max_document_bytes"`
	// Sentinel configuration for high availability
	SentinelMasterSet string   `yaml:"sentinel_master_set"`
	SentinelAddrs     []string `yaml:"sentinel_addrs"`
}

// DefaultConfig returns single node settings for a local server.
func DefaultConfig() Config {
	return Config{
		Name:             "Redis",
		Addr:             "localhost:6379",
		KeyPrefix:        "finsync:",
		DialTimeout:      5 * time.Second,
		WriteTimeout:     3 * time.Second,
		MaxDocumentBytes: 1 << 20,
	}
}

// New connects to Redis and verifies the connection with a PING.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "Redis"
	}
	if config.MaxDocumentBytes <= 0 {
		config.MaxDocumentBytes = 1 << 20
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	if len(config.ClusterAddrs) > 0 {
		initAddress = config.ClusterAddrs
	} else if len(config.SentinelAddrs) > 0 {
		initAddress = config.SentinelAddrs
	} else if config.Addr != "" {
		initAddress = []string{config.Addr}
	} else {
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}
	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, remote.Unavailable(fmt.Errorf("redis: failed to create client: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, remote.Unavailable(fmt.Errorf("redis: failed to ping server: %w", err))
	}

	return &Store{
		client: client,
		name:   config.Name,
		config: config,
		logger: logging.Global().Named("remote").Named("redis"),
		subs:   make(map[*subscription]struct{}),
	}, nil
}

var _ remote.Store = (*Store)(nil)

// slot keeps a collection's keys in one cluster hash slot.
func (s *Store) slot(ref remote.Ref) string {
	return s.config.KeyPrefix + "{" + ref.Partition + ":" + ref.Collection + "}"
}

func (s *Store) docKey(ref remote.Ref, id string) string {
	return s.slot(ref) + ":doc:" + id
}

func (s *Store) indexKey(ref remote.Ref) string {
	return s.slot(ref) + ":index"
}

func (s *Store) channel(ref remote.Ref) string {
	return s.slot(ref) + ":changes"
}

// Push stores a new document and announces the change.
func (s *Store) Push(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error) {
	now := time.Now().UTC()
	doc := remote.Document{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Data:      data,
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return remote.Document{}, fmt.Errorf("redis push: failed to marshal: %w", err)
	}
	if len(encoded) > s.config.MaxDocumentBytes {
		return remote.Document{}, remote.ErrPayloadTooLarge
	}

	cmds := rueidis.Commands{
		s.client.B().Set().Key(s.docKey(ref, doc.ID)).Value(string(encoded)).Build(),
		s.client.B().Zadd().Key(s.indexKey(ref)).ScoreMember().ScoreMember(float64(now.UnixMilli()), doc.ID).Build(),
		s.client.B().Publish().Channel(s.channel(ref)).Message(doc.ID).Build(),
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return remote.Document{}, remote.Unavailable(fmt.Errorf("redis push: %w", err))
		}
	}

	return doc, nil
}

// Update merges partial into the stored document. The read and the write
// are separate round trips; concurrent updates of one document are last
// writer wins.
func (s *Store) Update(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error) {
	doc, err := s.get(ctx, ref, id)
	if err != nil {
		return remote.Document{}, err
	}

	merged, err := remote.MergeFields(doc.Data, partial)
	if err != nil {
		return remote.Document{}, fmt.Errorf("redis update: %w", err)
	}
	doc.Data = merged
	doc.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(doc)
	if err != nil {
		return remote.Document{}, fmt.Errorf("redis update: failed to marshal: %w", err)
	}
	if len(encoded) > s.config.MaxDocumentBytes {
		return remote.Document{}, remote.ErrPayloadTooLarge
	}

	set := s.client.Do(ctx, s.client.B().Set().Key(s.docKey(ref, id)).Value(string(encoded)).Xx().Build())
	if err := set.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return remote.Document{}, remote.ErrNotFound
		}
		return remote.Document{}, remote.Unavailable(fmt.Errorf("redis update: %w", err))
	}

	if err := s.announce(ctx, ref, id); err != nil {
		return remote.Document{}, err
	}
	return doc, nil
}

// Delete removes the document and its index entry.
func (s *Store) Delete(ctx context.Context, ref remote.Ref, id string) error {
	cmds := rueidis.Commands{
		s.client.B().Del().Key(s.docKey(ref, id)).Build(),
		s.client.B().Zrem().Key(s.indexKey(ref)).Member(id).Build(),
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return remote.Unavailable(fmt.Errorf("redis delete: %w", err))
		}
	}

	return s.announce(ctx, ref, id)
}

func (s *Store) announce(ctx context.Context, ref remote.Ref, id string) error {
	cmd := s.client.B().Publish().Channel(s.channel(ref)).Message(id).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return remote.Unavailable(fmt.Errorf("redis publish: %w", err))
	}
	return nil
}

func (s *Store) get(ctx context.Context, ref remote.Ref, id string) (remote.Document, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.docKey(ref, id)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return remote.Document{}, remote.ErrNotFound
		}
		return remote.Document{}, remote.Unavailable(fmt.Errorf("redis get: %w", err))
	}

	data, err := resp.AsBytes()
	if err != nil {
		return remote.Document{}, fmt.Errorf("redis get: failed to read response: %w", err)
	}

	var doc remote.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return remote.Document{}, fmt.Errorf("redis get: failed to unmarshal: %w", err)
	}
	return doc, nil
}

// Documents loads every document in the collection, newest first.
func (s *Store) Documents(ctx context.Context, ref remote.Ref) ([]remote.Document, error) {
	resp := s.client.Do(ctx, s.client.B().Zrange().Key(s.indexKey(ref)).Min("0").Max("-1").Rev().Build())
	ids, err := resp.AsStrSlice()
	if err != nil {
		return nil, remote.Unavailable(fmt.Errorf("redis index: %w", err))
	}
	if len(ids) == 0 {
		return []remote.Document{}, nil
	}

	cmds := make(rueidis.Commands, len(ids))
	for i, id := range ids {
		cmds[i] = s.client.B().Get().Key(s.docKey(ref, id)).Build()
	}

	docs := make([]remote.Document, 0, len(ids))
	for i, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, remote.Unavailable(fmt.Errorf("redis get %s: %w", ids[i], err))
		}
		data, err := resp.AsBytes()
		if err != nil {
			return nil, fmt.Errorf("redis get %s: failed to read: %w", ids[i], err)
		}
		var doc remote.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}

	remote.SortNewestFirst(docs)
	return docs, nil
}

// reload reads the collection for a change message. Subscribers of the
// same collection that wake up together share one read.
func (s *Store) reload(ctx context.Context, ref remote.Ref) ([]remote.Document, error) {
	v, err, _ := s.loads.Do(ref.Path(), func() (interface{}, error) {
		return s.Documents(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return v.([]remote.Document), nil
}

type subscription struct {
	store  *Store
	conn   rueidis.DedicatedClient
	done   func()
	cancel context.CancelFunc
	feed   *remote.Feed
	once   sync.Once
}

// Subscribe listens on the collection's change channel on a dedicated
// connection. The initial snapshot is read after the channel subscription
// is confirmed so no change between the two is lost.
func (s *Store) Subscribe(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error) {
	conn, done := s.client.Dedicate()

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{store: s, conn: conn, done: done, cancel: cancel}
	sub.feed = remote.NewFeed(fn, nil)

	refresh := func() {
		docs, err := s.reload(readCtx, ref)
		if err != nil {
			if readCtx.Err() == nil {
				s.logger.Warn("snapshot reload failed", logging.Ref(ref.Path()), zap.Error(err))
			}
			return
		}
		sub.feed.Publish(docs)
	}

	wait := conn.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) { refresh() },
	})

	if err := conn.Do(ctx, conn.B().Subscribe().Channel(s.channel(ref)).Build()).Error(); err != nil {
		sub.close()
		return nil, remote.Unavailable(fmt.Errorf("redis subscribe: %w", err))
	}

	docs, err := s.Documents(ctx, ref)
	if err != nil {
		sub.close()
		return nil, err
	}
	sub.feed.Publish(docs)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		if err, ok := <-wait; ok && err != nil {
			s.logger.Warn("subscription connection lost", logging.Ref(ref.Path()), zap.Error(err))
		}
	}()

	return sub, nil
}

func (sub *subscription) Unsubscribe() {
	sub.close()

	sub.store.mu.Lock()
	delete(sub.store.subs, sub)
	sub.store.mu.Unlock()
}

func (sub *subscription) close() {
	sub.once.Do(func() {
		sub.cancel()
		sub.feed.Unsubscribe()
		sub.conn.SetPubSubHooks(rueidis.PubSubHooks{})
		sub.done()
	})
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return remote.Unavailable(fmt.Errorf("redis ping: %w", err))
	}
	return nil
}

// Close stops every subscription and closes the client.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*subscription]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	s.client.Close()
	return nil
}
