// Package config loads Harrier configuration from an optional YAML file and
// HARRIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable Harrier reads.
const EnvPrefix = "HARRIER_"

// Load builds the configuration. The tier defaults come first (HARRIER_TIER
// selects pro), then the YAML file at path if it exists, then environment
// overrides. An empty path falls back to HARRIER_CONFIG.
func Load(path string) (*domain.Config, error) {
	return load(path, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func load(path string, lookup lookupFunc) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if tier, ok := lookup(EnvPrefix + "TIER"); ok && domain.Tier(strings.ToLower(tier)) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if path == "" {
		path, _ = lookup(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = b
		return nil
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = n
		return nil
	}

	var debug bool
	if err := boolean("DEBUG", &debug); err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	str("HOST", &cfg.Server.Host)
	if err := integer("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := boolean("ASYNC_WORKER", &cfg.Server.AsyncWorker); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Server.CORSOrigins = origins
	}

	str("SCORER_URL", &cfg.Scorer.BaseURL)
	if err := boolean("SCORER_DISABLED", &cfg.Scorer.Disabled); err != nil {
		return err
	}

	if err := integer("BATCH_WORKERS", &cfg.Batch.Workers); err != nil {
		return err
	}
	if err := boolean("HISTORY_ENABLED", &cfg.History.Enabled); err != nil {
		return err
	}

	str("DB_PATH", &cfg.Repository.SQLitePath)
	if v, ok := lookup(EnvPrefix + "POSTGRES_DSN"); ok && v != "" {
		cfg.Repository.Driver = "postgres"
		cfg.Repository.PostgresDSN = v
	}

	if v, ok := lookup(EnvPrefix + "REDIS_ADDR"); ok && v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	if v, ok := lookup(EnvPrefix + "NATS_URL"); ok && v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	str("NATS_TOKEN", &cfg.EventBus.NATSToken)

	return nil
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Batch.Workers < 0 {
		errs = append(errs, fmt.Errorf("batch.workers must not be negative"))
	}
	if !cfg.Scorer.Disabled && cfg.Scorer.BaseURL == "" {
		errs = append(errs, fmt.Errorf("scorer.baseUrl is required unless scorer.disabled is set"))
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not supported", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis", "":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not supported", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats", "":
	default:
		errs = append(errs, fmt.Errorf("eventBus.type %q is not supported", cfg.EventBus.Type))
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLevel maps a configured log level to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
