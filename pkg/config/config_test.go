package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(PathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, LocalSQLite, cfg.Local.Backend)
	assert.Equal(t, RemoteMemory, cfg.Remote.Backend)
	assert.Equal(t, 1_000_000, cfg.Sync.AttachmentThresholdBytes)
	assert.Len(t, cfg.Accounts, 3)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
local:
  backend: memory
remote:
  backend: redis
  redis:
    addr: "redis:6379"
  resilience:
    timeout: 2s
    circuit_breaker:
      timeout: 5s
sync:
  attachment_threshold_bytes: 500000
attachment:
  max_width: 640
accounts:
  - email: ops@example.com
    password: secret
    name: Ops
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout, "unset values keep defaults")
	assert.Equal(t, LocalMemory, cfg.Local.Backend)
	assert.Equal(t, "redis:6379", cfg.Remote.Redis.Addr)
	assert.Equal(t, "finsync:", cfg.Remote.Redis.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Remote.Resilience.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Remote.Resilience.CircuitBreakerConfig.Timeout)
	assert.Equal(t, uint32(3), cfg.Remote.Resilience.CircuitBreakerConfig.TripAfter, "unset values keep defaults")
	assert.Equal(t, 500000, cfg.Sync.AttachmentThresholdBytes)
	assert.Equal(t, 640, cfg.Attachment.MaxWidth)
	assert.Equal(t, 600, cfg.Attachment.MaxHeight)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "ops@example.com", cfg.Accounts[0].Email)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	t.Setenv(PathEnv, writeFile(t, "server:\n  addr: \":7070\"\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("FINSYNC_REMOTE_BACKEND", "postgres")
	t.Setenv("FINSYNC_POSTGRES_DSN", "postgres://localhost/finsync")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, RemotePostgres, cfg.Remote.Backend)
	assert.Equal(t, "postgres://localhost/finsync", cfg.Remote.Postgres.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "local:\n  backend: floppy\n"))
	assert.ErrorContains(t, err, "unknown local backend")

	_, err = Load(writeFile(t, "remote:\n  backend: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "unknown remote backend")

	_, err = Load(writeFile(t, "logging:\n  format: xml\n"))
	assert.ErrorContains(t, err, "unknown format")
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Default()
	cfg.Remote.Backend = RemotePostgres
	cfg.Remote.Postgres.DSN = ""
	assert.ErrorContains(t, cfg.Validate(), "dsn")
}
