package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harrier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, domain.DefaultScorerURL, cfg.Scorer.BaseURL)
	assert.Equal(t, 8, cfg.Batch.Workers)
}

func TestLoadProTier(t *testing.T) {
	cfg, err := load("", env(map[string]string{"HARRIER_TIER": "PRO"}))
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
}

func TestLoadFileOverlay(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
scorer:
  baseUrl: http://model:8000
batch:
  workers: 16
history:
  cacheTtl: 90s
`)

	t.Run("ExplicitPath", func(t *testing.T) {
		cfg, err := load(path, env(nil))
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
		assert.Equal(t, "http://model:8000", cfg.Scorer.BaseURL)
		assert.Equal(t, 16, cfg.Batch.Workers)
		assert.Equal(t, 90*time.Second, cfg.History.CacheTTL)
	})

	t.Run("PathFromEnv", func(t *testing.T) {
		cfg, err := load("", env(map[string]string{"HARRIER_CONFIG": path}))
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := load(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		_, err := load(writeFile(t, "server: [unclosed"), env(nil))
		assert.Error(t, err)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")

	cfg, err := load(path, env(map[string]string{
		"HARRIER_PORT":            "7070",
		"HARRIER_DEBUG":           "true",
		"HARRIER_SCORER_URL":      "http://scorer:9000",
		"HARRIER_SCORER_DISABLED": "1",
		"HARRIER_BATCH_WORKERS":   "4",
		"HARRIER_DB_PATH":         "/data/harrier.db",
		"HARRIER_POSTGRES_DSN":    "postgres://u:p@db/harrier",
		"HARRIER_REDIS_ADDR":      "redis:6379",
		"HARRIER_NATS_URL":        "nats://nats:4222",
		"HARRIER_ASYNC_WORKER":    "false",
		"HARRIER_CORS_ORIGINS":    "https://ops.example, ,https://dash.example",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://scorer:9000", cfg.Scorer.BaseURL)
	assert.True(t, cfg.Scorer.Disabled)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, "/data/harrier.db", cfg.Repository.SQLitePath)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "postgres://u:p@db/harrier", cfg.Repository.PostgresDSN)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.Equal(t, "nats://nats:4222", cfg.EventBus.NATSUrl)
	assert.False(t, cfg.Server.AsyncWorker)
	assert.Equal(t, []string{"https://ops.example", "https://dash.example"}, cfg.Server.CORSOrigins)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	_, err := load("", env(map[string]string{"HARRIER_PORT": "eighty"}))
	assert.ErrorContains(t, err, "HARRIER_PORT")

	_, err = load("", env(map[string]string{"HARRIER_DEBUG": "maybe"}))
	assert.ErrorContains(t, err, "HARRIER_DEBUG")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "repository.driver"},
		{"bad cache", func(c *domain.Config) { c.Cache.Type = "memcached" }, "cache.type"},
		{"bad bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }, "eventBus.type"},
		{"missing scorer", func(c *domain.Config) { c.Scorer.BaseURL = "" }, "scorer.baseUrl"},
		{"bad level", func(c *domain.Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, Validate(cfg), tt.want)
		})
	}

	t.Run("DisabledScorerNeedsNoURL", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Scorer.BaseURL = ""
		cfg.Scorer.Disabled = true
		assert.NoError(t, Validate(cfg))
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "batch_id", "b-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"batch_id":"b-1"`)

	buf.Reset()
	text := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	assert.True(t, text.Enabled(context.Background(), slog.LevelDebug))
	text.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
