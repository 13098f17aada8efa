//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPostgresRepo(ctx context.Context, t *testing.T) *SQLRepository {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("harrier"),
		postgres.WithUsername("harrier"),
		postgres.WithPassword("harrier"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := New(domain.RepositoryConfig{Driver: "postgres", PostgresDSN: dsn, MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	repo := newPostgresRepo(ctx, t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	txs, results := sampleBatch(base)
	require.NoError(t, repo.SaveBatch(ctx, "batch-1", txs, results))

	t.Run("GetResult", func(t *testing.T) {
		got, err := repo.GetResult(ctx, "tx-002")
		require.NoError(t, err)
		assert.Equal(t, domain.VerdictFraud, got.Verdict)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(4999)))
		assert.Nil(t, got.MLScore)
	})

	t.Run("ListResultsByQuery", func(t *testing.T) {
		got, err := repo.ListResults(ctx, domain.ResultFilter{Query: "shop", Verdict: domain.VerdictSafe})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "tx-001", got[0].TxID)
	})

	t.Run("History", func(t *testing.T) {
		out, err := repo.ListOutgoing(ctx, "alice@upi", decimal.NewFromInt(50), 10)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.True(t, out[0].Timestamp.Equal(base))

		in, err := repo.ListIncoming(ctx, "bob@upi", "alice@upi", 1)
		require.NoError(t, err)
		require.Len(t, in, 1)
	})

	t.Run("RuleConfigs", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID: "rule-1", Name: "night_collect", Version: "1",
			Expression: `tx_type == "collect"`, Contribution: 20, Reason: "collect", Enabled: true,
		}
		require.NoError(t, repo.SaveRuleConfig(ctx, rule))
		rule.Enabled = false
		require.NoError(t, repo.SaveRuleConfig(ctx, rule))

		got, err := repo.GetRuleConfig(ctx, "rule-1")
		require.NoError(t, err)
		assert.False(t, got.Enabled)
	})
}
