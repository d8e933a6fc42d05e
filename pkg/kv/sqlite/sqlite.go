package sqlite

import (
	"context"
	"time"

	"finsync/pkg/kv"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is the row layout of the key-value table.
type Entry struct {
	Key       string `gorm:"primaryKey;size:250"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName pins the table name regardless of gorm naming strategy.
func (Entry) TableName() string {
	return "kv_entries"
}

// Store is a kv.Backend backed by a SQLite file. It survives restarts,
// which makes it the durable local store for a single device.
type Store struct {
	db   *gorm.DB
	name string
}

// Config holds configuration for the SQLite store.
type Config struct {
	Name string `yaml:"name"`
	// Path is the database file. It is created if missing.
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration writing to finsync.db in the working directory.
func DefaultConfig() Config {
	return Config{
		Name: "sqlite",
		Path: "finsync.db",
	}
}

// New opens the database at config.Path and migrates the schema.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "sqlite"
	}

	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, errors.Wrap(err, "migrate kv schema")
	}

	return &Store{db: db, name: config.Name}, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := kv.ValidateKey(key); err != nil {
		return nil, err
	}

	var e Entry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite get")
	}
	return e.Value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	return errors.Wrap(err, "sqlite set")
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&Entry{}).Error
	return errors.Wrap(err, "sqlite delete")
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "sqlite close")
	}
	return sqlDB.Close()
}
