package domain

import (
	"context"
	"errors"
)

// ErrScorerUnavailable is returned when the probabilistic scorer could not produce
// a probability after all attempts.
var ErrScorerUnavailable = errors.New("scorer unavailable")

// ProbabilityScorer produces a fraud probability in [0,1] for a transaction.
type ProbabilityScorer interface {
	Predict(ctx context.Context, tx *Transaction) (float64, error)
}

// HistoryProvider supplies historical context for a transaction.
// A nil context with a nil error means no history is known.
type HistoryProvider interface {
	HistoryFor(ctx context.Context, tx *Transaction) (*HistoricalContext, error)
}
