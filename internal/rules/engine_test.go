package rules

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(nil)
	require.NoError(t, err)
	return engine
}

// allRulesTx triggers grooming, ghost credit and refund scam at once.
func allRulesTx() (*domain.Transaction, *domain.HistoricalContext) {
	tx := &domain.Transaction{
		ID:              "tx-all",
		SenderID:        "victim@upi",
		ReceiverID:      "scammer@upi",
		Amount:          decimal.NewFromInt(5000),
		Type:            domain.TxTypeCollect,
		BeneficiaryType: domain.BeneficiaryIndividual,
		Description:     "refund of your prize",
	}
	return tx, microHistory(5, 10, 15)
}

func TestEngineCreation(t *testing.T) {
	engine := newTestEngine(t)
	assert.Equal(t, 3, engine.RulesCount())
	assert.Equal(t, []string{RuleGhostCredit, RuleGrooming, RuleRefundScam}, engine.Names())
}

func TestScoreClampsAtOne(t *testing.T) {
	engine := newTestEngine(t)
	tx, hist := allRulesTx()

	score, results := engine.Score(tx, hist)
	require.Len(t, results, 3)

	total := 0
	for _, r := range results {
		assert.True(t, r.Triggered, r.Rule)
		total += r.Contribution
	}
	assert.Equal(t, 270, total)
	assert.Equal(t, 1.0, score)
}

func TestScoreNoTriggers(t *testing.T) {
	engine := newTestEngine(t)
	tx := &domain.Transaction{ID: "tx-clean", Amount: decimal.NewFromInt(100), Type: domain.TxTypeNormal}

	score, results := engine.Score(tx, nil)
	assert.Zero(t, score)
	assert.Empty(t, Triggered(results))
	for _, r := range results {
		assert.Empty(t, r.Reason)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []domain.RuleResult
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []domain.RuleResult{{Rule: "a", RuleOutcome: domain.RuleOutcome{Triggered: true, Contribution: 75}}}, 0.75},
		{"untriggered ignored", []domain.RuleResult{
			{Rule: "a", RuleOutcome: domain.RuleOutcome{Triggered: false, Contribution: 90}},
			{Rule: "b", RuleOutcome: domain.RuleOutcome{Triggered: true, Contribution: 20}},
		}, 0.2},
		{"clamped", []domain.RuleResult{
			{Rule: "a", RuleOutcome: domain.RuleOutcome{Triggered: true, Contribution: 95}},
			{Rule: "b", RuleOutcome: domain.RuleOutcome{Triggered: true, Contribution: 100}},
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Aggregate(tt.results), 1e-9)
		})
	}
}

func TestPanickingRuleIsNotTriggered(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.register("boom", func(*domain.Transaction, *domain.HistoricalContext) domain.RuleOutcome {
		panic("boom")
	}))

	tx, hist := allRulesTx()
	score, results := engine.Score(tx, hist)

	require.Len(t, results, 4)
	assert.Equal(t, "boom", results[0].Rule)
	assert.False(t, results[0].Triggered)
	assert.Equal(t, 1.0, score)
}

func TestRegister(t *testing.T) {
	engine := newTestEngine(t)

	assert.Error(t, engine.register("", Grooming))
	assert.Error(t, engine.register("x", nil))

	require.NoError(t, engine.register("always", func(*domain.Transaction, *domain.HistoricalContext) domain.RuleOutcome {
		return domain.RuleOutcome{Triggered: true, Contribution: 10, Reason: "always"}
	}))
	assert.Equal(t, 4, engine.RulesCount())

	t.Run("ExpressionNameTaken", func(t *testing.T) {
		require.NoError(t, engine.ReloadRules([]*domain.RuleConfig{
			{Name: "screen_share", Expression: "is_screen_recording_on", Contribution: 10, Enabled: true},
		}))
		assert.Error(t, engine.register("screen_share", Grooming))
		assert.Equal(t, 5, engine.RulesCount())
	})
}

func TestLoadExpressionRule(t *testing.T) {
	engine := newTestEngine(t)

	rule := &domain.RuleConfig{
		ID:           "rule-screen-share",
		Name:         "screen_share_high_value",
		Expression:   `is_screen_recording_on && amount > 2000.0`,
		Contribution: 40,
		Reason:       "screen recording during high value payment",
		Enabled:      true,
	}
	require.NoError(t, engine.ReloadRules([]*domain.RuleConfig{rule}))
	assert.Equal(t, 4, engine.RulesCount())

	tx := &domain.Transaction{ID: "tx-1", Amount: decimal.NewFromInt(2500)}
	tx.Signals.ScreenRecordingOn = true

	score, results := engine.Score(tx, nil)
	assert.InDelta(t, 0.4, score, 1e-9)
	assert.Equal(t, []string{"screen_share_high_value"}, Triggered(results))

	tx.Signals.ScreenRecordingOn = false
	score, _ = engine.Score(tx, nil)
	assert.Zero(t, score)
}

func TestExpressionRuleHistoryVariables(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.ReloadRules([]*domain.RuleConfig{{
		Name:         "micro_burst",
		Expression:   `prior_micro_count >= 2 && !has_prior_incoming && description.lowerAscii().contains("kyc")`,
		Contribution: 30,
		Enabled:      true,
	}}))

	tx := &domain.Transaction{ID: "tx-1", Amount: decimal.NewFromInt(10), Description: "KYC update fee"}

	_, results := engine.Score(tx, microHistory(1, 2))
	assert.Contains(t, Triggered(results), "micro_burst")

	_, results = engine.Score(tx, nil)
	assert.NotContains(t, Triggered(results), "micro_burst")
}

func TestLoadInvalidRules(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name string
		cfg  *domain.RuleConfig
	}{
		{"nil", nil},
		{"syntax", &domain.RuleConfig{Name: "bad", Expression: "this is not valid CEL !!!", Enabled: true}},
		{"non bool", &domain.RuleConfig{Name: "num", Expression: "amount * 2.0", Enabled: true}},
		{"builtin name", &domain.RuleConfig{Name: RuleGrooming, Expression: "true", Enabled: true}},
		{"contribution range", &domain.RuleConfig{Name: "big", Expression: "true", Contribution: 101, Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, engine.ValidateRule(tt.cfg))
		})
	}
	assert.Equal(t, 3, engine.RulesCount())
}

func TestReloadRules(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.ReloadRules([]*domain.RuleConfig{
		{Name: "a", Expression: "amount > 1.0", Contribution: 10, Enabled: true},
		{Name: "b", Expression: "amount > 2.0", Contribution: 10, Enabled: false},
	}))
	assert.Equal(t, 4, engine.RulesCount())

	require.NoError(t, engine.ReloadRules([]*domain.RuleConfig{
		{Name: "c", Expression: "amount > 3.0", Contribution: 10, Enabled: true},
		{Name: "d", Expression: "amount > 4.0", Contribution: 10, Enabled: true},
	}))
	loaded := engine.GetLoadedRules()
	require.Len(t, loaded, 2)
	assert.Equal(t, "c", loaded[0].Name)
	assert.Equal(t, "d", loaded[1].Name)

	// A failing reload keeps the previous set.
	err := engine.ReloadRules([]*domain.RuleConfig{
		{Name: "e", Expression: "not valid !!!", Enabled: true},
	})
	assert.Error(t, err)
	assert.Len(t, engine.GetLoadedRules(), 2)
}

func TestEvaluationIsDeterministic(t *testing.T) {
	engine := newTestEngine(t)
	tx, hist := allRulesTx()

	first := engine.Evaluate(tx, hist)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, engine.Evaluate(tx, hist))
	}
}
