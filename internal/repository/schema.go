package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    amount NUMERIC NOT NULL,
    tx_type TEXT NOT NULL,
    beneficiary_type TEXT NOT NULL,
    description TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    signals TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_batch ON transactions(batch_id);
CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_pair ON transactions(sender_id, receiver_id, timestamp);
`

const schemaScoredTransactions = `
CREATE TABLE IF NOT EXISTS scored_transactions (
    tx_id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    amount NUMERIC NOT NULL,
    rule_score DOUBLE PRECISION NOT NULL,
    ml_score DOUBLE PRECISION,
    risk_score DOUBLE PRECISION NOT NULL,
    verdict TEXT NOT NULL,
    reason TEXT NOT NULL,
    mode TEXT NOT NULL,
    triggered_rules TEXT NOT NULL,
    scored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scored_batch ON scored_transactions(batch_id);
CREATE INDEX IF NOT EXISTS idx_scored_verdict ON scored_transactions(verdict, scored_at);
CREATE INDEX IF NOT EXISTS idx_scored_sender ON scored_transactions(sender_id);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    contribution INTEGER NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaScoredTransactions,
		schemaRuleConfigs,
	}
}
