// Package decision blends the rule score with the remote model probability
// and turns the result into a verdict.
package decision

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// RuleScorer produces the aggregated rule score for a transaction.
type RuleScorer interface {
	Score(tx *domain.Transaction, hist *domain.HistoricalContext) (float64, []domain.RuleResult)
}

// Policy holds the blending constants.
type Policy struct {
	// RuleWeight and MLWeight blend the two scores on the hybrid path.
	RuleWeight float64
	MLWeight   float64

	// OverrideAt is the rule score at or above which the final score is forced to 1.
	OverrideAt float64

	// AlertThreshold is the final score strictly above which a transaction is FRAUD.
	AlertThreshold float64
}

// DefaultPolicy returns the production blending constants.
func DefaultPolicy() Policy {
	return Policy{
		RuleWeight:     0.4,
		MLWeight:       0.6,
		OverrideAt:     0.9,
		AlertThreshold: 0.7,
	}
}

// Processor is the hybrid scoring orchestrator.
type Processor struct {
	rules  RuleScorer
	scorer domain.ProbabilityScorer
	policy Policy
	logger *slog.Logger
}

// NewProcessor creates a processor. A nil scorer scores every transaction by rules alone.
func NewProcessor(ruleScorer RuleScorer, scorer domain.ProbabilityScorer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		rules:  ruleScorer,
		scorer: scorer,
		policy: DefaultPolicy(),
		logger: logger,
	}
}

// Policy returns the blending constants in use.
func (p *Processor) Policy() Policy {
	return p.policy
}

// RuleScore evaluates rules only.
func (p *Processor) RuleScore(tx *domain.Transaction, hist *domain.HistoricalContext) (float64, []string) {
	score, results := p.rules.Score(tx, hist)
	return score, rules.Triggered(results)
}

// Score produces the scored result for one transaction. It never fails: when the
// remote scorer cannot answer, the result falls back to the rule score.
func (p *Processor) Score(ctx context.Context, tx *domain.Transaction, hist *domain.HistoricalContext) domain.ScoredTransaction {
	ruleScore, triggered := p.RuleScore(tx, hist)

	if p.scorer == nil {
		return p.policy.RuleOnly(tx, ruleScore, triggered, domain.ModeFallback, domain.ReasonScorerUnavailable)
	}

	ml, err := p.scorer.Predict(ctx, tx)
	if err != nil {
		p.logger.Warn("scorer unavailable, using rule score",
			"tx_id", tx.ID,
			"rule_score", ruleScore,
			"error", err,
		)
		return p.policy.RuleOnly(tx, ruleScore, triggered, domain.ModeFallback, domain.ReasonScorerUnavailable)
	}

	final := ruleScore*p.policy.RuleWeight + ml*p.policy.MLWeight
	if ruleScore >= p.policy.OverrideAt {
		final = 1.0
	}
	final = Round3(final)

	verdict := p.policy.Classify(final)
	reason := domain.ReasonClean
	if verdict == domain.VerdictFraud {
		reason = domain.ReasonHighRisk
	}

	mlScore := ml
	return domain.ScoredTransaction{
		TxID:           tx.ID,
		SenderID:       tx.SenderID,
		ReceiverID:     tx.ReceiverID,
		Amount:         tx.Amount,
		RuleScore:      ruleScore,
		MLScore:        &mlScore,
		RiskScore:      final,
		Verdict:        verdict,
		Reason:         reason,
		Mode:           domain.ModeHybrid,
		TriggeredRules: triggered,
	}
}

// RuleOnly builds a result from the rule score alone, with the model score absent.
// It serves both the scorer fallback and the degraded batch path.
func (pol Policy) RuleOnly(tx *domain.Transaction, ruleScore float64, triggered []string, mode domain.ScoringMode, reason string) domain.ScoredTransaction {
	final := ruleScore
	if ruleScore >= pol.OverrideAt {
		final = 1.0
	}
	final = Round3(final)

	return domain.ScoredTransaction{
		TxID:           tx.ID,
		SenderID:       tx.SenderID,
		ReceiverID:     tx.ReceiverID,
		Amount:         tx.Amount,
		RuleScore:      ruleScore,
		RiskScore:      final,
		Verdict:        pol.Classify(final),
		Reason:         reason,
		Mode:           mode,
		TriggeredRules: triggered,
	}
}

// Classify maps a final score to a verdict.
func (pol Policy) Classify(final float64) domain.Verdict {
	if final > pol.AlertThreshold {
		return domain.VerdictFraud
	}
	return domain.VerdictSafe
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
