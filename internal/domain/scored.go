package domain

import (
	"github.com/shopspring/decimal"
)

// Verdict is the final classification of a scored transaction.
type Verdict string

const (
	VerdictFraud Verdict = "FRAUD"
	VerdictSafe  Verdict = "SAFE"
)

// ScoringMode records which evidence a verdict rests on.
type ScoringMode string

const (
	// ModeHybrid means rule and model scores were blended.
	ModeHybrid ScoringMode = "hybrid"

	// ModeFallback means the model scorer was unavailable and rules alone decided.
	ModeFallback ScoringMode = "fallback"

	// ModeDegraded means scoring failed unexpectedly and the batch recomputed rules alone.
	ModeDegraded ScoringMode = "degraded"
)

// Reason strings attached to scored transactions.
const (
	ReasonHighRisk          = "high risk"
	ReasonClean             = "clean"
	ReasonScorerUnavailable = "scorer unavailable, rule-based fallback"
	ReasonScorerError       = "scorer error — rule-based scoring only"
)

// ScoredTransaction is the terminal, immutable output for one transaction.
type ScoredTransaction struct {
	TxID       string          `json:"txId"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Amount     decimal.Decimal `json:"amount"`

	RuleScore float64 `json:"ruleScore"`

	// MLScore is nil when the model score is absent.
	MLScore *float64 `json:"mlScore"`

	RiskScore float64     `json:"riskScore"`
	Verdict   Verdict     `json:"verdict"`
	Reason    string      `json:"reason"`
	Mode      ScoringMode `json:"mode"`

	// TriggeredRules lists the names of rules that fired, in evaluation order.
	TriggeredRules []string `json:"triggeredRules,omitempty"`
}

// IsFraud reports whether the transaction was classified as fraud.
func (s *ScoredTransaction) IsFraud() bool {
	return s.Verdict == VerdictFraud
}

// BatchSummary describes a processed batch.
type BatchSummary struct {
	BatchID    string `json:"batchId"`
	Count      int    `json:"count"`
	FraudCount int    `json:"fraudCount"`
	Fallbacks  int    `json:"fallbacks"`
	Degraded   int    `json:"degraded"`
	DurationMs int64  `json:"durationMs"`
}

// Summarize counts verdicts and scoring modes across results.
func Summarize(batchID string, results []ScoredTransaction) BatchSummary {
	s := BatchSummary{BatchID: batchID, Count: len(results)}
	for i := range results {
		if results[i].IsFraud() {
			s.FraudCount++
		}
		switch results[i].Mode {
		case ModeFallback:
			s.Fallbacks++
		case ModeDegraded:
			s.Degraded++
		}
	}
	return s
}
