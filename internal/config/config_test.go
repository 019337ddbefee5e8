package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24, cfg.Session.TTLHours)
	assert.Equal(t, "America/New_York", cfg.Insights.ReferenceTimezone)
	assert.Equal(t, 100, cfg.Insights.MinBaselineSends)
	assert.Equal(t, "content:default", cfg.Experiments.DefaultContentRef)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: 10.0.0.5
database:
  url: postgres://localhost/engage
insights:
  reference_timezone: UTC
  min_baseline_sends: 250
  cache_ttl_hours: 6
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/engage", cfg.Database.URL)
	assert.Equal(t, "UTC", cfg.Insights.ReferenceTimezone)
	assert.Equal(t, 250, cfg.Insights.MinBaselineSends)
	assert.Equal(t, float64(6), cfg.Insights.CacheTTL().Hours())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  url: postgres://file/db\n")

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SERVER_PORT", "3000")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 3000, cfg.Server.Port)
}
