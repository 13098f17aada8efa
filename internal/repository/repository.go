// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Result listing limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const upsertTransaction = `
	INSERT INTO transactions (
		id, batch_id, sender_id, receiver_id, amount, tx_type, beneficiary_type,
		description, timestamp, signals, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		batch_id = excluded.batch_id,
		sender_id = excluded.sender_id,
		receiver_id = excluded.receiver_id,
		amount = excluded.amount,
		tx_type = excluded.tx_type,
		beneficiary_type = excluded.beneficiary_type,
		description = excluded.description,
		timestamp = excluded.timestamp,
		signals = excluded.signals
`

const upsertScored = `
	INSERT INTO scored_transactions (
		tx_id, batch_id, sender_id, receiver_id, amount, rule_score, ml_score,
		risk_score, verdict, reason, mode, triggered_rules, scored_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tx_id) DO UPDATE SET
		batch_id = excluded.batch_id,
		sender_id = excluded.sender_id,
		receiver_id = excluded.receiver_id,
		amount = excluded.amount,
		rule_score = excluded.rule_score,
		ml_score = excluded.ml_score,
		risk_score = excluded.risk_score,
		verdict = excluded.verdict,
		reason = excluded.reason,
		mode = excluded.mode,
		triggered_rules = excluded.triggered_rules,
		scored_at = excluded.scored_at
`

// SaveBatch upserts transactions and results inside one SQL transaction.
// Nothing is written if any row fails.
func (r *SQLRepository) SaveBatch(ctx context.Context, batchID string, txs []domain.Transaction, results []domain.ScoredTransaction) (err error) {
	if batchID == "" {
		return fmt.Errorf("%w: batchID is required", ErrInvalidInput)
	}
	if len(txs) != len(results) {
		return fmt.Errorf("%w: %d transactions but %d results", ErrInvalidInput, len(txs), len(results))
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	txStmt, err := sqlTx.PrepareContext(ctx, r.rebind(upsertTransaction))
	if err != nil {
		return fmt.Errorf("failed to prepare transaction upsert: %w", err)
	}
	defer txStmt.Close()

	scoredStmt, err := sqlTx.PrepareContext(ctx, r.rebind(upsertScored))
	if err != nil {
		return fmt.Errorf("failed to prepare result upsert: %w", err)
	}
	defer scoredStmt.Close()

	now := r.now()
	for i := range txs {
		tx := &txs[i]
		if tx.ID == "" {
			return fmt.Errorf("%w: transaction at index %d has no id", ErrInvalidInput, i)
		}

		signals, err := json.Marshal(tx.Signals)
		if err != nil {
			return fmt.Errorf("failed to encode signals for %s: %w", tx.ID, err)
		}

		ts := tx.Timestamp
		if ts.IsZero() {
			ts = now
		}

		if _, err := txStmt.ExecContext(ctx,
			tx.ID, batchID, tx.SenderID, tx.ReceiverID, tx.Amount,
			string(tx.Type), string(tx.BeneficiaryType), tx.Description,
			ts.UTC(), string(signals), now,
		); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
		}

		res := &results[i]
		triggered, err := json.Marshal(nonNil(res.TriggeredRules))
		if err != nil {
			return fmt.Errorf("failed to encode triggered rules for %s: %w", res.TxID, err)
		}

		var ml sql.NullFloat64
		if res.MLScore != nil {
			ml = sql.NullFloat64{Float64: *res.MLScore, Valid: true}
		}

		if _, err := scoredStmt.ExecContext(ctx,
			res.TxID, batchID, res.SenderID, res.ReceiverID, res.Amount,
			res.RuleScore, ml, res.RiskScore,
			string(res.Verdict), res.Reason, string(res.Mode), string(triggered), now,
		); err != nil {
			return fmt.Errorf("failed to save result %s: %w", res.TxID, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", batchID, err)
	}
	return nil
}

const selectScored = `
	SELECT tx_id, sender_id, receiver_id, amount, rule_score, ml_score,
		   risk_score, verdict, reason, mode, triggered_rules
	FROM scored_transactions
`

// GetResult retrieves one scored transaction by transaction id.
func (r *SQLRepository) GetResult(ctx context.Context, txID string) (*domain.ScoredTransaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: txID is required", ErrInvalidInput)
	}

	row := r.db.QueryRowContext(ctx, r.rebind(selectScored+" WHERE tx_id = ?"), txID)
	res, err := scanScored(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListResults lists scored transactions, most recently scored first.
func (r *SQLRepository) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.ScoredTransaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var (
		where []string
		args  []any
	)
	if filter.Verdict != "" {
		where = append(where, "verdict = ?")
		args = append(args, string(filter.Verdict))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(tx_id) LIKE ? OR LOWER(sender_id) LIKE ? OR LOWER(receiver_id) LIKE ?)")
		args = append(args, like, like, like)
	}

	query := selectScored
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scored_at DESC, tx_id LIMIT " + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ScoredTransaction
	for rows.Next() {
		res, err := scanScored(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}

	return results, rows.Err()
}

// ListOutgoing returns the sender's stored transfers at or below maxAmount, most recent first.
func (r *SQLRepository) ListOutgoing(ctx context.Context, senderID string, maxAmount decimal.Decimal, limit int) ([]domain.PriorTransfer, error) {
	if senderID == "" {
		return nil, fmt.Errorf("%w: senderID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, amount, timestamp
		FROM transactions
		WHERE sender_id = ? AND amount <= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	return r.queryTransfers(ctx, query, senderID, maxAmount, positiveLimit(limit))
}

// ListIncoming returns stored transfers from fromID to toID, most recent first.
func (r *SQLRepository) ListIncoming(ctx context.Context, fromID, toID string, limit int) ([]domain.PriorTransfer, error) {
	if fromID == "" || toID == "" {
		return nil, fmt.Errorf("%w: fromID and toID are required", ErrInvalidInput)
	}

	query := `
		SELECT id, amount, timestamp
		FROM transactions
		WHERE sender_id = ? AND receiver_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	return r.queryTransfers(ctx, query, fromID, toID, positiveLimit(limit))
}

func (r *SQLRepository) queryTransfers(ctx context.Context, query string, args ...any) ([]domain.PriorTransfer, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.PriorTransfer
	for rows.Next() {
		var pt domain.PriorTransfer
		if err := rows.Scan(&pt.TxID, &pt.Amount, &pt.Timestamp); err != nil {
			return nil, err
		}
		pt.Timestamp = pt.Timestamp.UTC()
		transfers = append(transfers, pt)
	}

	return transfers, rows.Err()
}

// SaveRuleConfig stores an expression rule, replacing any rule with the same id.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" || rule.Name == "" {
		return fmt.Errorf("%w: rule id and name are required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := r.now()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, contribution, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			contribution = excluded.contribution,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, rule.Contribution, rule.Reason, enabled,
		now, now,
	)
	return err
}

const selectRuleConfig = `
	SELECT id, name, description, version, expression, contribution, reason, enabled, created_at, updated_at
	FROM rule_configs
`

// GetRuleConfig retrieves an expression rule by id.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectRuleConfig+" WHERE id = ?"), ruleID)
	cfg, err := scanRuleConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves every expression rule, enabled or not, ordered by name.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	rows, err := r.db.QueryContext(ctx, selectRuleConfig+" ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScored(s scanner) (*domain.ScoredTransaction, error) {
	var (
		res       domain.ScoredTransaction
		ml        sql.NullFloat64
		verdict   string
		mode      string
		triggered string
	)

	if err := s.Scan(
		&res.TxID, &res.SenderID, &res.ReceiverID, &res.Amount,
		&res.RuleScore, &ml, &res.RiskScore,
		&verdict, &res.Reason, &mode, &triggered,
	); err != nil {
		return nil, err
	}

	res.Verdict = domain.Verdict(verdict)
	res.Mode = domain.ScoringMode(mode)
	if ml.Valid {
		v := ml.Float64
		res.MLScore = &v
	}
	if triggered != "" {
		if err := json.Unmarshal([]byte(triggered), &res.TriggeredRules); err != nil {
			return nil, fmt.Errorf("failed to parse triggered rules for %s: %w", res.TxID, err)
		}
		if len(res.TriggeredRules) == 0 {
			res.TriggeredRules = nil
		}
	}

	return &res, nil
}

func scanRuleConfig(s scanner) (*domain.RuleConfig, error) {
	var (
		cfg         domain.RuleConfig
		description sql.NullString
		enabled     int
	)

	if err := s.Scan(
		&cfg.ID, &cfg.Name, &description, &cfg.Version, &cfg.Expression,
		&cfg.Contribution, &cfg.Reason, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

func positiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
