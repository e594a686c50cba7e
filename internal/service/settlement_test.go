package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/crossarb/internal/domain"
)

type memPositions struct {
	mu        sync.Mutex
	positions map[string]domain.ArbitragePosition
}

func newMemPositions() *memPositions {
	return &memPositions{positions: make(map[string]domain.ArbitragePosition)}
}

func (m *memPositions) Create(ctx context.Context, p domain.ArbitragePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.positions[p.ID] = p
	return nil
}

func (m *memPositions) Update(ctx context.Context, p domain.ArbitragePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	m.positions[p.ID] = p
	return nil
}

func (m *memPositions) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	m.positions[id] = p
	return nil
}

func (m *memPositions) GetByID(ctx context.Context, id string) (domain.ArbitragePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return domain.ArbitragePosition{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.ArbitragePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArbitragePosition
	for _, p := range m.positions {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositions) ListRecent(ctx context.Context, limit int) ([]domain.ArbitragePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArbitragePosition
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPositions) SumRealizedPnL(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, p := range m.positions {
		if p.Status.Terminal() {
			sum = sum.Add(p.RealizedPnL)
		}
	}
	return sum, nil
}

type captureRecorder struct {
	mu      sync.Mutex
	settled []domain.ArbitragePosition
}

func (r *captureRecorder) RecordSettlement(pos domain.ArbitragePosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, pos)
}

type captureSink struct {
	mu  sync.Mutex
	sum decimal.Decimal
}

func (s *captureSink) AddRealizedPnL(ctx context.Context, pnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum = s.sum.Add(pnl)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func completePosition(t *testing.T, id string) domain.ArbitragePosition {
	t.Helper()
	pos := domain.NewPosition(id, "pair-1",
		domain.LegFill{
			MarketID: "m1", TokenID: "t1",
			Size: dec(t, "100"), Cost: dec(t, "55"), AvgPrice: dec(t, "0.55"),
		},
		domain.LegFill{
			MarketID: "m2", TokenID: "t2",
			Size: dec(t, "100"), Cost: dec(t, "40"), AvgPrice: dec(t, "0.40"),
		},
		time.Now().UTC(),
	)
	pos.Status = domain.PositionStatusComplete
	return pos
}

func newTestService(t *testing.T, store *memPositions, rec *captureRecorder, sink *captureSink) *SettlementService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewSettlementService(store, rec, sink, nil, nil, nil, dec(t, "0.02"), logger)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestMarkSettlingRequiresComplete(t *testing.T) {
	store := newMemPositions()
	svc := newTestService(t, store, &captureRecorder{}, &captureSink{})
	ctx := context.Background()

	pos := completePosition(t, "p1")
	require.NoError(t, store.Create(ctx, pos))

	require.NoError(t, svc.MarkSettling(ctx, "p1"))
	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusSettling, got.Status)

	// Already settling: a second transition is rejected.
	require.Error(t, svc.MarkSettling(ctx, "p1"))
}

func TestSettleFixesRealizedPnL(t *testing.T) {
	store := newMemPositions()
	rec := &captureRecorder{}
	sink := &captureSink{}
	svc := newTestService(t, store, rec, sink)
	ctx := context.Background()

	pos := completePosition(t, "p1")
	pos.Status = domain.PositionStatusSettling
	require.NoError(t, store.Create(ctx, pos))

	n, err := svc.Settle(ctx, domain.PairResolution{
		PairID: "pair-1", WinningLeg: 1, ResolvedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusSettled, got.Status)
	require.NotNil(t, got.SettledAt)

	// payout 100, fee 2, cost 95: pnl = 3.
	require.True(t, got.RealizedPnL.Equal(dec(t, "3")),
		"realized pnl %s", got.RealizedPnL)

	require.Len(t, rec.settled, 1)
	require.True(t, sink.sum.Equal(dec(t, "3")))
}

func TestSettleSweepsCompletePositions(t *testing.T) {
	store := newMemPositions()
	svc := newTestService(t, store, &captureRecorder{}, &captureSink{})
	ctx := context.Background()

	// Resolution arrives before MarkSettling ran.
	require.NoError(t, store.Create(ctx, completePosition(t, "p1")))

	n, err := svc.Settle(ctx, domain.PairResolution{
		PairID: "pair-1", WinningLeg: 2, ResolvedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusSettled, got.Status)
}

func TestSettleIgnoresOtherPairs(t *testing.T) {
	store := newMemPositions()
	svc := newTestService(t, store, &captureRecorder{}, &captureSink{})
	ctx := context.Background()

	pos := completePosition(t, "p1")
	pos.PairID = "other-pair"
	require.NoError(t, store.Create(ctx, pos))

	n, err := svc.Settle(ctx, domain.PairResolution{
		PairID: "pair-1", WinningLeg: 1, ResolvedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusComplete, got.Status)
}
