// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// SaveBatch persists transactions and their scored results in one unit.
	// Either every row is written or none is. Rows are upserted by id.
	SaveBatch(ctx context.Context, batchID string, txs []Transaction, results []ScoredTransaction) error

	// Result queries
	GetResult(ctx context.Context, txID string) (*ScoredTransaction, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]ScoredTransaction, error)

	// History queries. Both return the most recent transfers first.
	ListOutgoing(ctx context.Context, senderID string, maxAmount decimal.Decimal, limit int) ([]PriorTransfer, error)
	ListIncoming(ctx context.Context, fromID, toID string, limit int) ([]PriorTransfer, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ResultFilter narrows a result listing.
type ResultFilter struct {
	// Query matches tx id, sender or receiver by substring.
	Query string

	// Verdict restricts results to one verdict when set.
	Verdict Verdict

	// Limit caps the number of rows. Zero means the repository default.
	Limit int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific. DSN wins over the individual fields when set.
	PostgresDSN      string `yaml:"postgresDsn"`
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
