package memcache

import (
	"context"
	"time"

	"finsync/pkg/kv"
	"finsync/pkg/logging"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is a kv.Backend on memcached. Useful when several API processes
// serve the same users and must share the local snapshot.
type Store struct {
	client *memcache.Client
	config Config
}

// Config holds configuration for the memcached store.
type Config struct {
	Name  string   `yaml:"name"`
	Hosts []string `yaml:"hosts"`
	// KeyPrefix namespaces keys on a shared server.
	KeyPrefix string `yaml:"key_prefix"`
	// Timeout is the socket read/write timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration for a local memcached.
func DefaultConfig() Config {
	return Config{
		Name:      "memcache",
		Hosts:     []string{"localhost:11211"},
		KeyPrefix: "finsync:",
		Timeout:   500 * time.Millisecond,
	}
}

// New connects to the configured hosts and pings them.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "memcache"
	}
	if len(config.Hosts) == 0 {
		return nil, errors.New("memcache: no hosts configured")
	}

	logger := logging.Global().Named("kv").Named(config.Name)
	logger.Info("memcached hosts", zap.Strings("hosts", config.Hosts))

	mc := memcache.New(config.Hosts...)
	if config.Timeout > 0 {
		mc.Timeout = config.Timeout
	}
	if err := mc.Ping(); err != nil {
		return nil, errors.Wrap(kv.ErrUnavailable, err.Error())
	}

	return &Store{client: mc, config: config}, nil
}

func (s *Store) fullKey(key string) (string, error) {
	full := s.config.KeyPrefix + key
	if err := kv.ValidateKey(full); err != nil {
		return "", err
	}
	return full, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return nil, err
	}

	item, err := s.client.Get(full)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "memcache get")
	}
	return item.Value, nil
}

// Set stores value under key with no expiration.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}

	err = s.client.Set(&memcache.Item{Key: full, Value: value})
	return errors.Wrap(err, "memcache set")
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}

	err = s.client.Delete(full)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return errors.Wrap(err, "memcache delete")
	}
	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.config.Name
}

// Close is a no-op; the client holds only idle pooled connections.
func (s *Store) Close() error {
	return nil
}
