// Package history builds per-transaction historical context from stored transfers.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/shopspring/decimal"
)

// DefaultLimit caps how many stored transfers are fetched per lookup.
const DefaultLimit = 100

// Store is the subset of the repository the provider reads from.
type Store interface {
	ListOutgoing(ctx context.Context, senderID string, maxAmount decimal.Decimal, limit int) ([]domain.PriorTransfer, error)
	ListIncoming(ctx context.Context, fromID, toID string, limit int) ([]domain.PriorTransfer, error)
}

// Provider implements domain.HistoryProvider over a Store with an optional cache.
type Provider struct {
	store  Store
	cache  domain.Cache
	ttl    time.Duration
	limit  int
	logger *slog.Logger
}

// NewProvider creates a history provider. cache may be nil.
func NewProvider(store Store, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		limit:  DefaultLimit,
		logger: logger,
	}
}

// HistoryFor returns the transfers that happened before tx. Only transfers strictly
// earlier than tx.Timestamp are considered, and tx itself is never part of its own history.
func (p *Provider) HistoryFor(ctx context.Context, tx *domain.Transaction) (*domain.HistoricalContext, error) {
	if tx.SenderID == "" {
		return nil, nil
	}

	outgoing, err := p.load(ctx, outgoingKey(tx.SenderID), func() ([]domain.PriorTransfer, error) {
		return p.store.ListOutgoing(ctx, tx.SenderID, rules.MicroTransferCeiling, p.limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load outgoing history: %w", err)
	}

	var incoming []domain.PriorTransfer
	if tx.ReceiverID != "" {
		incoming, err = p.load(ctx, incomingKey(tx.ReceiverID, tx.SenderID), func() ([]domain.PriorTransfer, error) {
			return p.store.ListIncoming(ctx, tx.ReceiverID, tx.SenderID, p.limit)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load incoming history: %w", err)
		}
	}

	hist := &domain.HistoricalContext{}
	for _, pt := range outgoing {
		if isPrior(pt, tx) {
			hist.PriorOutgoing = append(hist.PriorOutgoing, pt)
		}
	}
	for i := range incoming {
		if isPrior(incoming[i], tx) {
			last := incoming[i]
			hist.LastIncoming = &last
			break
		}
	}

	if len(hist.PriorOutgoing) == 0 && hist.LastIncoming == nil {
		return nil, nil
	}
	return hist, nil
}

// Invalidate drops cached history for every party touched by txs.
func (p *Provider) Invalidate(ctx context.Context, txs []domain.Transaction) {
	if p.cache == nil {
		return
	}

	seen := make(map[string]struct{})
	for i := range txs {
		for _, key := range []string{outgoingKey(txs[i].SenderID), incomingKey(txs[i].SenderID, txs[i].ReceiverID)} {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if err := p.cache.Delete(ctx, key); err != nil {
				p.logger.Warn("failed to invalidate history", "key", key, "error", err)
			}
		}
	}
}

func (p *Provider) load(ctx context.Context, key string, fetch func() ([]domain.PriorTransfer, error)) ([]domain.PriorTransfer, error) {
	if p.cache != nil {
		if data, err := p.cache.Get(ctx, key); err == nil && data != nil {
			var cached []domain.PriorTransfer
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	transfers, err := fetch()
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if data, err := json.Marshal(transfers); err == nil {
			if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
				p.logger.Debug("failed to cache history", "key", key, "error", err)
			}
		}
	}
	return transfers, nil
}

// isPrior reports whether pt happened before tx. A zero timestamp on tx
// accepts every stored transfer other than tx itself.
func isPrior(pt domain.PriorTransfer, tx *domain.Transaction) bool {
	if pt.TxID == tx.ID {
		return false
	}
	if tx.Timestamp.IsZero() {
		return true
	}
	return pt.Timestamp.Before(tx.Timestamp)
}

func outgoingKey(senderID string) string {
	return "hist:out:" + senderID
}

func incomingKey(fromID, toID string) string {
	return "hist:in:" + fromID + ":" + toID
}
