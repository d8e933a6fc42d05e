package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"finsync/pkg/logging"
	"finsync/pkg/remote"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	table         = "documents"
	notifyChannel = "finsync_changes"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	partition  TEXT        NOT NULL,
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (partition, collection, id)
)`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config holds the PostgreSQL connection settings.
type Config struct {
	Name string `yaml:"name"`
	DSN  string `yaml:"dsn"`

	// AutoMigrate creates the documents table on startup.
	AutoMigrate bool `yaml:"auto_migrate"`

	MaxDocumentBytes int `yaml:"max_document_bytes"`

	// Reconnect bounds for the LISTEN connection.
	MinReconnect time.Duration `yaml:"min_reconnect"`
	MaxReconnect time.Duration `yaml:"max_reconnect"`
}

// DefaultConfig returns settings for a local database.
func DefaultConfig() Config {
	return Config{
		Name:             "Postgres",
		DSN:              "postgres://localhost/finsync?sslmode=disable",
		AutoMigrate:      true,
		MaxDocumentBytes: 1 << 20,
		MinReconnect:     time.Second,
		MaxReconnect:     time.Minute,
	}
}

// Store is a remote.Store on a single jsonb table. Writes notify
// subscribers through LISTEN/NOTIFY.
type Store struct {
	db       *sql.DB
	listener *pq.Listener
	config   Config
	logger   *logging.Logger

	mu    sync.Mutex
	feeds map[remote.Ref][]*remote.Feed

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ remote.Store = (*Store)(nil)

type change struct {
	Partition  string `json:"p"`
	Collection string `json:"c"`
}

// New opens the database, optionally migrates it and starts listening for changes.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "Postgres"
	}
	if config.MaxDocumentBytes <= 0 {
		config.MaxDocumentBytes = 1 << 20
	}
	if config.MinReconnect <= 0 {
		config.MinReconnect = time.Second
	}
	if config.MaxReconnect <= 0 {
		config.MaxReconnect = time.Minute
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, remote.Unavailable(errors.Wrap(err, "cannot connect to database"))
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, remote.Unavailable(errors.Wrap(err, "cannot connect to database"))
	}
	if config.AutoMigrate {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "migrate documents table")
		}
	}

	logger := logging.Global().Named("remote").Named("postgres")

	listener := pq.NewListener(config.DSN, config.MinReconnect, config.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		db.Close()
		return nil, remote.Unavailable(errors.Wrap(err, "listen for changes"))
	}

	s := &Store{
		db:       db,
		listener: listener,
		config:   config,
		logger:   logger,
		feeds:    make(map[remote.Ref][]*remote.Feed),
		stop:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.dispatch()

	return s, nil
}

// now matches the microsecond precision of timestamptz, so a document
// returned by a write equals the one read back by subscribers.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Push inserts a new document.
func (s *Store) Push(ctx context.Context, ref remote.Ref, data json.RawMessage) (remote.Document, error) {
	if len(data) > s.config.MaxDocumentBytes {
		return remote.Document{}, remote.ErrPayloadTooLarge
	}

	ts := now()
	doc := remote.Document{ID: uuid.NewString(), CreatedAt: ts, UpdatedAt: ts, Data: data}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "push"))
	}
	defer s.rollback(tx)

	query := psql.Insert(table).
		Columns("partition", "collection", "id", "data", "created_at", "updated_at").
		Values(ref.Partition, ref.Collection, doc.ID, string(data), ts, ts)
	if _, err := query.RunWith(tx).ExecContext(ctx); err != nil {
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "push"))
	}
	if err := s.notify(ctx, tx, ref); err != nil {
		return remote.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "push"))
	}

	return doc, nil
}

// Update merges partial into the stored document under a row lock.
func (s *Store) Update(ctx context.Context, ref remote.Ref, id string, partial json.RawMessage) (remote.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "update"))
	}
	defer s.rollback(tx)

	doc := remote.Document{ID: id}
	var data []byte
	sel := psql.Select("data", "created_at").
		From(table).
		Where(sq.Eq{"partition": ref.Partition, "collection": ref.Collection, "id": id}).
		Suffix("FOR UPDATE")
	if err := sel.RunWith(tx).QueryRowContext(ctx).Scan(&data, &doc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return remote.Document{}, remote.ErrNotFound
		}
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "update"))
	}

	merged, err := remote.MergeFields(data, partial)
	if err != nil {
		return remote.Document{}, errors.Wrap(err, "update")
	}
	if len(merged) > s.config.MaxDocumentBytes {
		return remote.Document{}, remote.ErrPayloadTooLarge
	}
	doc.Data = merged
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = now()

	upd := psql.Update(table).
		Set("data", string(merged)).
		Set("updated_at", doc.UpdatedAt).
		Where(sq.Eq{"partition": ref.Partition, "collection": ref.Collection, "id": id})
	if _, err := upd.RunWith(tx).ExecContext(ctx); err != nil {
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "update"))
	}
	if err := s.notify(ctx, tx, ref); err != nil {
		return remote.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return remote.Document{}, remote.Unavailable(errors.Wrap(err, "update"))
	}
	return doc, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, ref remote.Ref, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Unavailable(errors.Wrap(err, "delete"))
	}
	defer s.rollback(tx)

	del := psql.Delete(table).
		Where(sq.Eq{"partition": ref.Partition, "collection": ref.Collection, "id": id})
	if _, err := del.RunWith(tx).ExecContext(ctx); err != nil {
		return remote.Unavailable(errors.Wrap(err, "delete"))
	}
	if err := s.notify(ctx, tx, ref); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return remote.Unavailable(errors.Wrap(err, "delete"))
	}
	return nil
}

// Documents loads a collection, newest first.
func (s *Store) Documents(ctx context.Context, ref remote.Ref) ([]remote.Document, error) {
	query := psql.Select("id", "data", "created_at", "updated_at").
		From(table).
		Where(sq.Eq{"partition": ref.Partition, "collection": ref.Collection}).
		OrderBy("created_at DESC", "id DESC")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, remote.Unavailable(errors.Wrap(err, "get documents"))
	}
	defer func() {
		if rowErr := rows.Close(); rowErr != nil {
			s.logger.Warn("error closing rows", zap.Error(rowErr))
		}
	}()

	docs := make([]remote.Document, 0)
	for rows.Next() {
		var doc remote.Document
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "get documents")
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, remote.Unavailable(errors.Wrap(err, "get documents"))
	}

	return docs, nil
}

// Subscribe registers fn for changes to ref and delivers the current contents.
func (s *Store) Subscribe(ctx context.Context, ref remote.Ref, fn remote.SnapshotFunc) (remote.Subscription, error) {
	var feed *remote.Feed
	feed = remote.NewFeed(fn, func() { s.removeFeed(ref, feed) })

	s.mu.Lock()
	s.feeds[ref] = append(s.feeds[ref], feed)
	s.mu.Unlock()

	docs, err := s.Documents(ctx, ref)
	if err != nil {
		feed.Unsubscribe()
		return nil, err
	}
	feed.Publish(docs)

	return feed, nil
}

func (s *Store) notify(ctx context.Context, tx *sql.Tx, ref remote.Ref) error {
	payload, err := json.Marshal(change{Partition: ref.Partition, Collection: ref.Collection})
	if err != nil {
		return errors.Wrap(err, "notify")
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload)); err != nil {
		return remote.Unavailable(errors.Wrap(err, "notify"))
	}
	return nil
}

func (s *Store) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Warn("error when transaction rollback", zap.Error(err))
	}
}

// dispatch reloads and publishes a collection for every notification.
// A nil notification means the listener reconnected and may have missed
// changes, so every subscribed collection is reloaded.
func (s *Store) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				s.mu.Lock()
				refs := make([]remote.Ref, 0, len(s.feeds))
				for ref := range s.feeds {
					refs = append(refs, ref)
				}
				s.mu.Unlock()
				for _, ref := range refs {
					s.reload(ref)
				}
				continue
			}

			var c change
			if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
				s.logger.Warn("ignoring malformed notification", zap.String("payload", n.Extra))
				continue
			}
			s.reload(remote.Ref{Partition: c.Partition, Collection: c.Collection})
		}
	}
}

func (s *Store) reload(ref remote.Ref) {
	s.mu.Lock()
	feeds := slices.Clone(s.feeds[ref])
	s.mu.Unlock()
	if len(feeds) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, err := s.Documents(ctx, ref)
	if err != nil {
		s.logger.Warn("snapshot reload failed", logging.Ref(ref.Path()), zap.Error(err))
		return
	}
	for _, f := range feeds {
		f.Publish(docs)
	}
}

func (s *Store) removeFeed(ref remote.Ref, feed *remote.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[ref] = slices.DeleteFunc(s.feeds[ref], func(f *remote.Feed) bool { return f == feed })
	if len(s.feeds[ref]) == 0 {
		delete(s.feeds, ref)
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.config.Name
}

// Close stops the listener, ends every subscription and closes the database.
func (s *Store) Close() error {
	close(s.stop)
	lerr := s.listener.Close()
	s.wg.Wait()

	s.mu.Lock()
	var feeds []*remote.Feed
	for _, fs := range s.feeds {
		feeds = append(feeds, fs...)
	}
	s.mu.Unlock()
	for _, f := range feeds {
		f.Unsubscribe()
	}

	dberr := s.db.Close()
	if lerr != nil {
		return errors.Wrap(lerr, "close listener")
	}
	return dberr
}
