// Package config loads the service configuration from a YAML file.
// Every section starts from the defaults of the package it configures, so
// a file only needs the values it changes.
package config

import (
	"fmt"
	"os"
	"time"

	"finsync/pkg/attachment"
	"finsync/pkg/kv/memcache"
	"finsync/pkg/kv/sqlite"
	"finsync/pkg/logging"
	"finsync/pkg/persist"
	"finsync/pkg/reconcile"
	"finsync/pkg/remote/memory"
	"finsync/pkg/remote/postgres"
	"finsync/pkg/remote/redis"
	"finsync/pkg/resilience"
	"finsync/pkg/session"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "FINSYNC_CONFIG"

// Local persistence backends.
const (
	LocalMemory   = "memory"
	LocalSQLite   = "sqlite"
	LocalMemcache = "memcache"
)

// Remote store backends. RemoteNone runs without a remote store.
const (
	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemoteRedis    = "redis"
	RemotePostgres = "postgres"
)

// Config is the root of the configuration file.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    logging.Config     `yaml:"logging"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Local      LocalConfig        `yaml:"local"`
	Remote     RemoteConfig       `yaml:"remote"`
	Sync       reconcile.Config   `yaml:"sync"`
	Attachment attachment.Options `yaml:"attachment"`
	Accounts   []session.Account  `yaml:"accounts"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LocalConfig selects and configures the local persistence backend.
type LocalConfig struct {
	Backend  string               `yaml:"backend"`
	SQLite   sqlite.Config        `yaml:"sqlite"`
	Memcache memcache.Config      `yaml:"memcache"`
	Mirror   persist.MirrorConfig `yaml:"mirror"`
}

// RemoteConfig selects and configures the remote document store.
type RemoteConfig struct {
	Backend    string                     `yaml:"backend"`
	Memory     memory.Config              `yaml:"memory"`
	Redis      redis.Config               `yaml:"redis"`
	Postgres   postgres.Config            `yaml:"postgres"`
	Resilience resilience.ResilientConfig `yaml:"resilience"`
}

// Default returns a self-contained configuration: in-memory remote,
// SQLite persistence and the demo accounts.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "finsync",
		},
		Local: LocalConfig{
			Backend:  LocalSQLite,
			SQLite:   sqlite.DefaultConfig(),
			Memcache: memcache.DefaultConfig(),
			Mirror: persist.MirrorConfig{
				QueueSize:    256,
				MaxWaitTime:  10 * time.Millisecond,
				WriteTimeout: 5 * time.Second,
			},
		},
		Remote: RemoteConfig{
			Backend:    RemoteMemory,
			Memory:     memory.Config{Name: "memory", MaxDocumentBytes: memory.DefaultMaxDocumentBytes},
			Redis:      redis.DefaultConfig(),
			Postgres:   postgres.DefaultConfig(),
			Resilience: resilience.DefaultResilientConfig(),
		},
		Sync:       reconcile.DefaultConfig(),
		Attachment: attachment.DefaultOptions(),
		Accounts:   session.DefaultAccounts(),
	}
}

// Load reads the file at path over the defaults. An empty path falls back
// to $FINSYNC_CONFIG; when that is unset too the defaults are returned.
// Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "reading config file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "parsing yaml")
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"FINSYNC_ADDR", &c.Server.Addr},
		{"FINSYNC_LOCAL_BACKEND", &c.Local.Backend},
		{"FINSYNC_SQLITE_PATH", &c.Local.SQLite.Path},
		{"FINSYNC_REMOTE_BACKEND", &c.Remote.Backend},
		{"FINSYNC_REDIS_ADDR", &c.Remote.Redis.Addr},
		{"FINSYNC_REDIS_PASSWORD", &c.Remote.Redis.Password},
		{"FINSYNC_POSTGRES_DSN", &c.Remote.Postgres.DSN},
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_FORMAT", &c.Logging.Format},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks the backend selections.
func (c Config) Validate() error {
	switch c.Local.Backend {
	case LocalMemory, LocalSQLite, LocalMemcache:
	default:
		return fmt.Errorf("config: unknown local backend %q", c.Local.Backend)
	}

	switch c.Remote.Backend {
	case RemoteNone, RemoteMemory, RemoteRedis:
	case RemotePostgres:
		if c.Remote.Postgres.DSN == "" {
			return errors.New("config: postgres remote requires a dsn")
		}
	default:
		return fmt.Errorf("config: unknown remote backend %q", c.Remote.Backend)
	}

	if c.Server.Addr == "" {
		return errors.New("config: server address is required")
	}
	return errors.Wrap(c.Logging.Validate(), "config")
}
