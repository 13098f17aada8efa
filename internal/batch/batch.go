// Package batch scores an ordered batch of transactions with bounded parallelism
// and hands the results to persistence in one unit.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Defaults for Options.
const (
	DefaultWorkers       = 8
	DefaultProgressEvery = 100
)

// TransactionScorer scores one transaction. decision.Processor implements it.
type TransactionScorer interface {
	Score(ctx context.Context, tx *domain.Transaction, hist *domain.HistoricalContext) domain.ScoredTransaction
	RuleScore(tx *domain.Transaction, hist *domain.HistoricalContext) (float64, []string)
	Policy() decision.Policy
}

// Store persists a scored batch. SaveBatch must be all-or-nothing.
type Store interface {
	SaveBatch(ctx context.Context, batchID string, txs []domain.Transaction, results []domain.ScoredTransaction) error
}

// Invalidator drops cached state derived from the given transactions.
type Invalidator interface {
	Invalidate(ctx context.Context, txs []domain.Transaction)
}

// Options configures a Processor.
type Options struct {
	Workers       int
	ProgressEvery int

	// History is optional. Without it grooming never fires and ghost credit
	// cannot see prior incoming transfers.
	History domain.HistoryProvider

	// Store is required by Run.
	Store Store

	// Invalidator is called after a successful save.
	Invalidator Invalidator

	Logger *slog.Logger
}

// Processor is the batch processor.
type Processor struct {
	scorer        TransactionScorer
	history       domain.HistoryProvider
	store         Store
	invalidator   Invalidator
	workers       int
	progressEvery int
	logger        *slog.Logger
}

// Result is the outcome of Run.
type Result struct {
	Summary domain.BatchSummary        `json:"summary"`
	Results []domain.ScoredTransaction `json:"results"`
}

// NewProcessor creates a batch processor.
func NewProcessor(scorer TransactionScorer, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.Logger.Warn("no history provider configured, grooming and prior-credit checks see no history")
	}

	return &Processor{
		scorer:        scorer,
		history:       opts.History,
		store:         opts.Store,
		invalidator:   opts.Invalidator,
		workers:       opts.Workers,
		progressEvery: opts.ProgressEvery,
		logger:        opts.Logger,
	}
}

// Process scores every transaction and returns exactly one result per input, in input order.
// It never fails: a transaction whose scoring panics yields a degraded rule-only result.
func (p *Processor) Process(ctx context.Context, txs []domain.Transaction) []domain.ScoredTransaction {
	results := make([]domain.ScoredTransaction, len(txs))
	if len(txs) == 0 {
		return results
	}

	var processed atomic.Int64
	total := len(txs)

	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	for i := range txs {
		g.Go(func() error {
			results[i] = p.scoreOne(ctx, &txs[i])
			metrics.ObserveScored(string(results[i].Verdict), string(results[i].Mode))

			if n := processed.Add(1); n%int64(p.progressEvery) == 0 {
				p.logger.Info("batch progress",
					"processed", n,
					"total", total,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Run assigns missing ids, scores the batch and persists it in one call.
// Persistence errors are returned as-is; the batch is not retried.
func (p *Processor) Run(ctx context.Context, batchID string, txs []domain.Transaction) (*Result, error) {
	if p.store == nil {
		return nil, fmt.Errorf("batch processor has no store")
	}
	if batchID == "" {
		batchID = uuid.New().String()
	}

	start := time.Now()
	txs = Prepare(txs, start)

	p.logger.Info("batch started",
		"batch_id", batchID,
		"count", len(txs),
	)

	results := p.Process(ctx, txs)

	if len(txs) > 0 {
		if err := p.store.SaveBatch(ctx, batchID, txs, results); err != nil {
			metrics.ObserveBatch("failed", time.Since(start))
			p.logger.Error("failed to persist batch",
				"batch_id", batchID,
				"count", len(txs),
				"error", err,
			)
			return nil, fmt.Errorf("failed to persist batch %s: %w", batchID, err)
		}
		if p.invalidator != nil {
			p.invalidator.Invalidate(ctx, txs)
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveBatch("ok", elapsed)

	summary := domain.Summarize(batchID, results)
	summary.DurationMs = elapsed.Milliseconds()

	p.logger.Info("batch completed",
		"batch_id", batchID,
		"count", summary.Count,
		"fraud", summary.FraudCount,
		"fallbacks", summary.Fallbacks,
		"degraded", summary.Degraded,
		"duration_ms", summary.DurationMs,
	)

	return &Result{Summary: summary, Results: results}, nil
}

// Prepare returns a copy of txs with missing ids and timestamps filled in.
func Prepare(txs []domain.Transaction, now time.Time) []domain.Transaction {
	out := slices.Clone(txs)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.New().String()
		}
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now.UTC()
		}
	}
	return out
}

func (p *Processor) scoreOne(ctx context.Context, tx *domain.Transaction) (res domain.ScoredTransaction) {
	var hist *domain.HistoricalContext

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scoring panicked, emitting degraded result",
				"tx_id", tx.ID,
				"panic", fmt.Sprint(r),
			)
			res = p.degraded(tx, hist)
		}
	}()

	hist = p.historyFor(ctx, tx)
	return p.scorer.Score(ctx, tx, hist)
}

// degraded recomputes the rule score alone. A panic here too leaves the rule score at zero.
func (p *Processor) degraded(tx *domain.Transaction, hist *domain.HistoricalContext) domain.ScoredTransaction {
	ruleScore, triggered := func() (score float64, names []string) {
		defer func() {
			if r := recover(); r != nil {
				score, names = 0, nil
			}
		}()
		return p.scorer.RuleScore(tx, hist)
	}()

	return p.scorer.Policy().RuleOnly(tx, ruleScore, triggered, domain.ModeDegraded, domain.ReasonScorerError)
}

func (p *Processor) historyFor(ctx context.Context, tx *domain.Transaction) *domain.HistoricalContext {
	if p.history == nil {
		return nil
	}
	hist, err := p.history.HistoryFor(ctx, tx)
	if err != nil {
		p.logger.Warn("history lookup failed, scoring without history",
			"tx_id", tx.ID,
			"error", err,
		)
		return nil
	}
	return hist
}
