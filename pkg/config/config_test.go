package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 5432, cfg.Postgres.Port)
	require.Equal(t, 100, cfg.Index.MaxDepth)
	require.Equal(t, 500, cfg.Index.FetchBatchSize)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addr: redis.internal:6380
postgres:
  database: findex_prod
index:
  maxDepth: 10
sqlite:
  entryPath: /var/lib/findex/entries.db
  chainPath: /var/lib/findex/chains.db
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	require.Equal(t, "findex_prod", cfg.Postgres.Database)
	require.Equal(t, 10, cfg.Index.MaxDepth)
	require.Equal(t, "/var/lib/findex/entries.db", cfg.SQLite.EntryPath)
	// Untouched sections keep their defaults.
	require.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FX_REDIS_ADDR", "env-redis:6379")
	t.Setenv("FX_POSTGRES_PORT", "5433")
	t.Setenv("FX_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	require.Equal(t, 5433, cfg.Postgres.Port)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	dsn := cfg.Postgres.DSN()
	require.Contains(t, dsn, "host=localhost")
	require.Contains(t, dsn, "dbname=findex")
	require.Contains(t, dsn, "sslmode=disable")
}
