package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `yaml:"tier"`

	// Scoring pipeline
	Scorer  ScorerConfig  `yaml:"scorer"`
	Batch   BatchConfig   `yaml:"batch"`
	History HistoryConfig `yaml:"history"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds

	// MaxUploadBytes caps the size of an uploaded batch.
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`

	// AsyncWorker subscribes the batch worker to the event bus.
	AsyncWorker bool `yaml:"asyncWorker"`

	// CORSOrigins lists the dashboard origins allowed to call the API with
	// credentials. Empty allows any origin without credentials.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// ScorerConfig points at the remote fraud model.
type ScorerConfig struct {
	BaseURL string `yaml:"baseUrl"`

	// Disabled skips the remote model entirely; every transaction is scored by rules alone.
	Disabled bool `yaml:"disabled"`
}

// BatchConfig tunes the batch processor.
type BatchConfig struct {
	Workers       int `yaml:"workers"`
	ProgressEvery int `yaml:"progressEvery"`
}

// HistoryConfig tunes historical context lookups.
type HistoryConfig struct {
	// Enabled wires the repository-backed history provider.
	Enabled  bool          `yaml:"enabled"`
	CacheTTL time.Duration `yaml:"cacheTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultScorerURL is the model service used when none is configured.
const DefaultScorerURL = "http://localhost:8000"

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   120,
			MaxUploadBytes: 32 << 20,
			AsyncWorker:    true,
		},
		Tier: TierCommunity,
		Scorer: ScorerConfig{
			BaseURL: DefaultScorerURL,
		},
		Batch: BatchConfig{
			Workers:       8,
			ProgressEvery: 100,
		},
		History: HistoryConfig{
			Enabled:  true,
			CacheTTL: 5 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "harrier-workers",
	}
	return cfg
}
