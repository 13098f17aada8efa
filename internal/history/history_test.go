package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	outgoing      map[string][]domain.PriorTransfer
	incoming      map[string][]domain.PriorTransfer
	outgoingCalls int
	err           error
}

func (f *fakeStore) ListOutgoing(_ context.Context, senderID string, _ decimal.Decimal, _ int) ([]domain.PriorTransfer, error) {
	f.outgoingCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outgoing[senderID], nil
}

func (f *fakeStore) ListIncoming(_ context.Context, fromID, toID string, _ int) ([]domain.PriorTransfer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.incoming[fromID+">"+toID], nil
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func transfer(id string, amount int64, minutesAgo int) domain.PriorTransfer {
	return domain.PriorTransfer{
		TxID:      id,
		Amount:    decimal.NewFromInt(amount),
		Timestamp: base.Add(-time.Duration(minutesAgo) * time.Minute),
	}
}

func currentTx() *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-now",
		SenderID:   "alice@upi",
		ReceiverID: "bob@upi",
		Amount:     decimal.NewFromInt(5000),
		Timestamp:  base,
	}
}

func TestHistoryFor(t *testing.T) {
	store := &fakeStore{
		outgoing: map[string][]domain.PriorTransfer{
			"alice@upi": {
				transfer("later", 10, -5), // after the current tx
				transfer("tx-now", 10, 0),
				transfer("m1", 10, 10),
				transfer("m2", 20, 20),
				transfer("m3", 30, 30),
			},
		},
		incoming: map[string][]domain.PriorTransfer{
			"bob@upi>alice@upi": {
				transfer("in-future", 100, -1),
				transfer("in-1", 100, 60),
				transfer("in-0", 200, 120),
			},
		},
	}

	p := NewProvider(store, nil, time.Minute, nil)
	hist, err := p.HistoryFor(context.Background(), currentTx())
	require.NoError(t, err)
	require.NotNil(t, hist)

	ids := make([]string, 0, len(hist.PriorOutgoing))
	for _, pt := range hist.PriorOutgoing {
		ids = append(ids, pt.TxID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	require.NotNil(t, hist.LastIncoming)
	assert.Equal(t, "in-1", hist.LastIncoming.TxID)
}

func TestHistoryForEmpty(t *testing.T) {
	p := NewProvider(&fakeStore{}, nil, time.Minute, nil)

	hist, err := p.HistoryFor(context.Background(), currentTx())
	require.NoError(t, err)
	assert.Nil(t, hist)

	hist, err = p.HistoryFor(context.Background(), &domain.Transaction{ID: "anon"})
	require.NoError(t, err)
	assert.Nil(t, hist)
}

func TestHistoryForStoreError(t *testing.T) {
	p := NewProvider(&fakeStore{err: errors.New("db down")}, nil, time.Minute, nil)

	_, err := p.HistoryFor(context.Background(), currentTx())
	assert.ErrorContains(t, err, "db down")
}

func TestHistoryCacheAndInvalidate(t *testing.T) {
	store := &fakeStore{
		outgoing: map[string][]domain.PriorTransfer{
			"alice@upi": {transfer("m1", 10, 10)},
		},
	}
	c := cache.NewLRUCache(100)
	p := NewProvider(store, c, time.Minute, nil)
	ctx := context.Background()

	_, err := p.HistoryFor(ctx, currentTx())
	require.NoError(t, err)
	_, err = p.HistoryFor(ctx, currentTx())
	require.NoError(t, err)
	assert.Equal(t, 1, store.outgoingCalls, "second lookup is served from cache")

	p.Invalidate(ctx, []domain.Transaction{*currentTx()})

	_, err = p.HistoryFor(ctx, currentTx())
	require.NoError(t, err)
	assert.Equal(t, 2, store.outgoingCalls)
}
