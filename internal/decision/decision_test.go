package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRules returns a constant rule score.
type fixedRules struct {
	score float64
	fired []string
}

func (f fixedRules) Score(*domain.Transaction, *domain.HistoricalContext) (float64, []domain.RuleResult) {
	results := make([]domain.RuleResult, 0, len(f.fired))
	for _, name := range f.fired {
		results = append(results, domain.RuleResult{
			Rule:        name,
			RuleOutcome: domain.RuleOutcome{Triggered: true, Contribution: 1, Reason: name},
		})
	}
	return f.score, results
}

type fixedScorer struct {
	prob  float64
	err   error
	calls int
}

func (f *fixedScorer) Predict(context.Context, *domain.Transaction) (float64, error) {
	f.calls++
	return f.prob, f.err
}

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-1",
		SenderID:   "alice@upi",
		ReceiverID: "bob@upi",
		Amount:     decimal.NewFromInt(500),
	}
}

var errDown = fmt.Errorf("%w: status 503", domain.ErrScorerUnavailable)

func TestHybridBlend(t *testing.T) {
	p := NewProcessor(fixedRules{score: 0.5}, &fixedScorer{prob: 0.835}, nil)

	res := p.Score(context.Background(), testTx(), nil)
	assert.Equal(t, domain.ModeHybrid, res.Mode)
	assert.Equal(t, 0.5, res.RuleScore)
	require.NotNil(t, res.MLScore)
	assert.Equal(t, 0.835, *res.MLScore)
	assert.Equal(t, 0.701, res.RiskScore)
	assert.Equal(t, domain.VerdictFraud, res.Verdict)
	assert.Equal(t, domain.ReasonHighRisk, res.Reason)
	assert.Equal(t, "tx-1", res.TxID)
	assert.Equal(t, "alice@upi", res.SenderID)
	assert.True(t, decimal.NewFromInt(500).Equal(res.Amount))
}

func TestHybridClean(t *testing.T) {
	p := NewProcessor(fixedRules{score: 0}, &fixedScorer{prob: 0.1}, nil)

	res := p.Score(context.Background(), testTx(), nil)
	assert.Equal(t, 0.06, res.RiskScore)
	assert.Equal(t, domain.VerdictSafe, res.Verdict)
	assert.Equal(t, domain.ReasonClean, res.Reason)
}

func TestOverride(t *testing.T) {
	t.Run("hybrid path", func(t *testing.T) {
		p := NewProcessor(fixedRules{score: 0.9}, &fixedScorer{prob: 0}, nil)
		res := p.Score(context.Background(), testTx(), nil)
		assert.Equal(t, 1.0, res.RiskScore)
		assert.Equal(t, domain.VerdictFraud, res.Verdict)
		assert.Equal(t, domain.ModeHybrid, res.Mode)
	})

	t.Run("scorer down", func(t *testing.T) {
		p := NewProcessor(fixedRules{score: 0.95}, &fixedScorer{err: errDown}, nil)
		res := p.Score(context.Background(), testTx(), nil)
		assert.Nil(t, res.MLScore)
		assert.Equal(t, 1.0, res.RiskScore)
		assert.Equal(t, domain.VerdictFraud, res.Verdict)
	})

	t.Run("just below", func(t *testing.T) {
		p := NewProcessor(fixedRules{score: 0.89}, &fixedScorer{prob: 0}, nil)
		res := p.Score(context.Background(), testTx(), nil)
		assert.Equal(t, 0.356, res.RiskScore)
		assert.Equal(t, domain.VerdictSafe, res.Verdict)
	})
}

func TestFallback(t *testing.T) {
	scorer := &fixedScorer{err: errDown}
	p := NewProcessor(fixedRules{score: 0.75, fired: []string{"grooming"}}, scorer, nil)

	res := p.Score(context.Background(), testTx(), nil)
	assert.Equal(t, 1, scorer.calls)
	assert.Nil(t, res.MLScore)
	assert.Equal(t, res.RuleScore, res.RiskScore)
	assert.Equal(t, 0.75, res.RiskScore)
	assert.Equal(t, domain.VerdictFraud, res.Verdict)
	assert.Equal(t, domain.ReasonScorerUnavailable, res.Reason)
	assert.Equal(t, domain.ModeFallback, res.Mode)
	assert.Equal(t, []string{"grooming"}, res.TriggeredRules)
}

func TestNilScorerFallsBack(t *testing.T) {
	p := NewProcessor(fixedRules{score: 0.2}, nil, nil)

	res := p.Score(context.Background(), testTx(), nil)
	assert.Nil(t, res.MLScore)
	assert.Equal(t, 0.2, res.RiskScore)
	assert.Equal(t, domain.VerdictSafe, res.Verdict)
	assert.Equal(t, domain.ModeFallback, res.Mode)
}

func TestClassifyBoundary(t *testing.T) {
	pol := DefaultPolicy()
	assert.Equal(t, domain.VerdictSafe, pol.Classify(0.700))
	assert.Equal(t, domain.VerdictFraud, pol.Classify(0.701))
	assert.Equal(t, domain.VerdictSafe, pol.Classify(0))
	assert.Equal(t, domain.VerdictFraud, pol.Classify(1))
}

func TestRuleOnly(t *testing.T) {
	pol := DefaultPolicy()

	res := pol.RuleOnly(testTx(), 0.7, nil, domain.ModeDegraded, domain.ReasonScorerError)
	assert.Equal(t, 0.7, res.RiskScore)
	assert.Equal(t, domain.VerdictSafe, res.Verdict)
	assert.Equal(t, domain.ReasonScorerError, res.Reason)
	assert.Equal(t, domain.ModeDegraded, res.Mode)
	assert.Nil(t, res.MLScore)
}

func TestRound3(t *testing.T) {
	assert.Equal(t, 0.701, Round3(0.7009999999))
	assert.Equal(t, 0.7, Round3(0.70049))
	assert.Equal(t, 0.123, Round3(0.1234))
	assert.Equal(t, 1.0, Round3(1))
}

func TestScoresStayInUnitInterval(t *testing.T) {
	for _, rs := range []float64{0, 0.25, 0.5, 0.75, 0.9, 1} {
		for _, ml := range []float64{0, 0.3, 0.7, 1} {
			p := NewProcessor(fixedRules{score: rs}, &fixedScorer{prob: ml}, nil)
			res := p.Score(context.Background(), testTx(), nil)
			assert.GreaterOrEqual(t, res.RiskScore, 0.0)
			assert.LessOrEqual(t, res.RiskScore, 1.0)
		}
	}
}

func TestDeterministicWithRealRules(t *testing.T) {
	engine, err := rules.NewEngine(nil)
	require.NoError(t, err)

	tx := testTx()
	tx.Type = domain.TxTypeCollect
	tx.Description = "Lottery prize refund"

	p := NewProcessor(engine, &fixedScorer{prob: 0.42}, nil)

	first, err := json.Marshal(p.Score(context.Background(), tx, nil))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(p.Score(context.Background(), tx, nil))
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(again))
	}
}
