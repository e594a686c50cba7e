package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/crossarb/internal/domain"
	"github.com/quantfall/crossarb/internal/metrics"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVenue scripts per-order behavior through onSubmit and counts calls.
type fakeVenue struct {
	mu          sync.Mutex
	balance     decimal.Decimal
	onSubmit    func(spec domain.OrderSpec) domain.OrderResult
	submitErr   error
	submitted   [][]domain.OrderSpec
	waitResults map[string]domain.OrderResult // overrides for WaitForTerminal
	pollResults map[string]domain.OrderResult // overrides for GetOrderStatus
	results     map[string]domain.OrderResult
	cancelled   []string
	nextID      int
}

func newFakeVenue(balance string) *fakeVenue {
	v := &fakeVenue{
		balance:     dec(balance),
		waitResults: make(map[string]domain.OrderResult),
		pollResults: make(map[string]domain.OrderResult),
		results:     make(map[string]domain.OrderResult),
	}
	v.onSubmit = v.fillAtLimit
	return v
}

func (v *fakeVenue) fillAtLimit(spec domain.OrderSpec) domain.OrderResult {
	return domain.OrderResult{
		TokenID:      spec.TokenID,
		Status:       domain.OrderStatusFilled,
		FilledSize:   spec.Size,
		AvgFillPrice: spec.Price,
	}
}

func (v *fakeVenue) SubmitOrdersBatch(_ context.Context, orders []domain.OrderSpec) ([]domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitted = append(v.submitted, orders)
	if v.submitErr != nil {
		return nil, v.submitErr
	}
	out := make([]domain.OrderResult, 0, len(orders))
	for _, spec := range orders {
		res := v.onSubmit(spec)
		v.nextID++
		res.OrderID = res.TokenID + "-" + string(rune('0'+v.nextID))
		v.results[res.OrderID] = res
		out = append(out, res)
	}
	return out, nil
}

func (v *fakeVenue) WaitForTerminal(_ context.Context, orderID string, _ time.Duration) (domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if res, ok := v.waitResults[orderID]; ok {
		return res, nil
	}
	return v.results[orderID], nil
}

func (v *fakeVenue) GetOrderStatus(_ context.Context, orderID string) (domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if res, ok := v.pollResults[orderID]; ok {
		return res, nil
	}
	res, ok := v.results[orderID]
	if !ok {
		return domain.OrderResult{}, domain.ErrNotFound
	}
	return res, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) GetBalance(context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, nil
}

func (v *fakeVenue) GetPositions(context.Context) ([]VenuePosition, error) {
	return nil, nil
}

func (v *fakeVenue) submitCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.submitted)
}

// memPositions is an in-memory PositionStore.
type memPositions struct {
	mu        sync.Mutex
	positions map[string]domain.ArbitragePosition
}

func newMemPositions() *memPositions {
	return &memPositions{positions: make(map[string]domain.ArbitragePosition)}
}

func (s *memPositions) Create(_ context.Context, pos domain.ArbitragePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *memPositions) Update(_ context.Context, pos domain.ArbitragePosition) error {
	return s.Create(context.Background(), pos)
}

func (s *memPositions) UpdateStatus(_ context.Context, id string, status domain.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.Status = status
	s.positions[id] = pos
	return nil
}

func (s *memPositions) GetByID(_ context.Context, id string) (domain.ArbitragePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ArbitragePosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositions) ListByStatus(_ context.Context, status domain.PositionStatus, _ domain.ListOpts) ([]domain.ArbitragePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ArbitragePosition
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListRecent(_ context.Context, _ int) ([]domain.ArbitragePosition, error) {
	return nil, nil
}

func (s *memPositions) SumRealizedPnL(_ context.Context, _ time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.RiskSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]domain.RiskSession)}
}

func (s *memSessions) Load(_ context.Context, day string) (domain.RiskSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[day]
	if !ok {
		return domain.RiskSession{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *memSessions) Save(_ context.Context, sess domain.RiskSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Day] = sess
	return nil
}

type capturingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *capturingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func testOpportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		Pair: domain.MarketPair{
			ID:   "pair",
			Leg1: domain.PairLeg{MarketID: "m1", TokenID: "t1"},
			Leg2: domain.PairLeg{MarketID: "m2", TokenID: "t2"},
		},
		Leg1WorstFill: dec("0.55"),
		Leg2WorstFill: dec("0.40"),
		PairCost:      dec("0.95"),
		NetProfit:     dec("0.02"),
		Size:          dec("100"),
		Investment:    dec("95"),
		Payout:        dec("100"),
	}
}

func fastConfig() Config {
	cfg := DefaultExecutorConfig()
	cfg.Cooldown = 0
	cfg.OrderTimeout = 10 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.PollAttempts = 2
	return cfg
}

func TestExecuteSuccess(t *testing.T) {
	venue := newFakeVenue("500")
	store := newMemPositions()
	ex := New(fastConfig(), Deps{Venue: venue, Positions: store, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	require.NotNil(t, out.Position)
	require.Equal(t, domain.PositionStatusComplete, out.Position.Status)
	require.True(t, out.Position.PairCost.Equal(dec("0.95")))
	require.True(t, out.Position.GuaranteedPayout.Equal(dec("100")))
	require.True(t, out.Position.Imbalance.IsZero())

	// One batch, both legs in it.
	require.Equal(t, 1, venue.submitCount())
	require.Len(t, venue.submitted[0], 2)
	require.Equal(t, domain.OrderTypeFOK, venue.submitted[0][0].Type)

	stored, err := store.GetByID(context.Background(), out.Position.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusComplete, stored.Status)
}

func TestGateFailureSubmitsNothing(t *testing.T) {
	venue := newFakeVenue("500")
	cfg := fastConfig()
	cfg.MaxDailyLoss = decimal.Zero // loss floor at zero: always breached
	ex := New(cfg, Deps{Venue: venue, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeRejected, out.Kind)
	require.Equal(t, domain.RejectDailyLoss, out.Reason)
	require.Zero(t, venue.submitCount(), "no order may leave when a gate fails")
	require.False(t, out.Attempted())
}

func TestCooldownGate(t *testing.T) {
	venue := newFakeVenue("500")
	cfg := fastConfig()
	cfg.Cooldown = time.Hour
	ex := New(cfg, Deps{Venue: venue, Logger: discard()})

	first := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeSuccess, first.Kind)

	second := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeRejected, second.Kind)
	require.Equal(t, domain.RejectCooldown, second.Reason)
	require.Equal(t, 1, venue.submitCount())
}

func TestBalanceMarginGate(t *testing.T) {
	// Investment 95 at margin 1.20 needs 114; 100 is not enough.
	venue := newFakeVenue("100")
	ex := New(fastConfig(), Deps{Venue: venue, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeRejected, out.Kind)
	require.Equal(t, domain.RejectInsufficientBalance, out.Reason)
	require.Zero(t, venue.submitCount())
}

func TestPartialFillUnwound(t *testing.T) {
	venue := newFakeVenue("500")
	store := newMemPositions()
	venue.onSubmit = func(spec domain.OrderSpec) domain.OrderResult {
		if spec.TokenID == "t2" && spec.Side == domain.OrderSideBuy {
			return domain.OrderResult{TokenID: spec.TokenID, Status: domain.OrderStatusRejected}
		}
		return venue.fillAtLimit(spec)
	}
	ex := New(fastConfig(), Deps{Venue: venue, Positions: store, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomePartialFillUnwound, out.Kind)
	require.NotNil(t, out.StrandedLeg)
	require.Equal(t, "t1", out.StrandedLeg.TokenID)

	// Exactly one unwind batch after the paired batch, selling the filled
	// amount fill-and-kill.
	require.Equal(t, 2, venue.submitCount())
	unwind := venue.submitted[1]
	require.Len(t, unwind, 1)
	require.Equal(t, domain.OrderSideSell, unwind[0].Side)
	require.Equal(t, domain.OrderTypeFAK, unwind[0].Type)
	require.True(t, unwind[0].Size.Equal(dec("100")))

	// No Complete position may exist; the unwound record carries the loss.
	complete, err := store.ListByStatus(context.Background(), domain.PositionStatusComplete, domain.ListOpts{})
	require.NoError(t, err)
	require.Empty(t, complete)
	unwound, err := store.ListByStatus(context.Background(), domain.PositionStatusUnwound, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, unwound, 1)
	require.True(t, unwound[0].RealizedPnL.IsNegative())
	require.True(t, ex.DailyPnL().IsNegative())
	require.False(t, ex.Halted())
}

func TestUnwoundLossEntersProfitSample(t *testing.T) {
	venue := newFakeVenue("500")
	store := newMemPositions()
	tracker := metrics.NewTracker(metrics.DefaultMetricsConfig())
	venue.onSubmit = func(spec domain.OrderSpec) domain.OrderResult {
		if spec.TokenID == "t2" && spec.Side == domain.OrderSideBuy {
			return domain.OrderResult{TokenID: spec.TokenID, Status: domain.OrderStatusRejected}
		}
		return venue.fillAtLimit(spec)
	}
	ex := New(fastConfig(), Deps{Venue: venue, Positions: store, Recorder: tracker, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomePartialFillUnwound, out.Kind)

	// Leg t1 filled 100 shares at 0.55 (cost 55) and the unwind sold them
	// at the 0.01 floor (proceeds 1). The settlement sweep never revisits
	// unwound positions, so the -54 must reach the tracker right here.
	sum := tracker.Summary()
	require.Equal(t, 1, sum.SettledTrades)
	require.True(t, sum.TotalPnL.Equal(dec("-54")), "total pnl %s", sum.TotalPnL)
	require.Equal(t, 1, sum.PartialFills)
	require.False(t, sum.ProductionReady)
}

func TestPartialFillUnwindFailedHaltsExecutor(t *testing.T) {
	venue := newFakeVenue("500")
	alerter := &capturingAlerter{}
	venue.onSubmit = func(spec domain.OrderSpec) domain.OrderResult {
		switch {
		case spec.TokenID == "t2" && spec.Side == domain.OrderSideBuy:
			return domain.OrderResult{TokenID: spec.TokenID, Status: domain.OrderStatusRejected}
		case spec.Side == domain.OrderSideSell:
			return domain.OrderResult{TokenID: spec.TokenID, Status: domain.OrderStatusRejected}
		}
		return venue.fillAtLimit(spec)
	}
	ex := New(fastConfig(), Deps{Venue: venue, Alerter: alerter, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomePartialFillUnwindFailed, out.Kind)
	require.ErrorIs(t, out.Err, domain.ErrUnwindFailed)
	require.True(t, ex.Halted())
	require.Equal(t, []string{"unwind_failed"}, alerter.events)

	// Halted executor refuses further trades until operator reset.
	next := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeRejected, next.Kind)
	require.Equal(t, domain.RejectHalted, next.Reason)

	ex.ResetBreaker(context.Background())
	require.False(t, ex.Halted())
	venue.onSubmit = venue.fillAtLimit
	require.Equal(t, domain.OutcomeSuccess, ex.Execute(context.Background(), testOpportunity()).Kind)
}

func TestBothRejectedArmsCircuitBreaker(t *testing.T) {
	venue := newFakeVenue("500")
	venue.onSubmit = func(spec domain.OrderSpec) domain.OrderResult {
		return domain.OrderResult{TokenID: spec.TokenID, Status: domain.OrderStatusRejected}
	}
	cfg := fastConfig()
	cfg.MaxConsecutiveFailures = 3
	cfg.FailurePause = time.Hour
	ex := New(cfg, Deps{Venue: venue, Logger: discard()})

	for i := 0; i < 3; i++ {
		out := ex.Execute(context.Background(), testOpportunity())
		require.Equal(t, domain.OutcomeBothRejected, out.Kind)
	}

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeRejected, out.Kind)
	require.Equal(t, domain.RejectCircuitOpen, out.Reason)
	require.Equal(t, 3, venue.submitCount())

	// Success after reset clears the count.
	ex.ResetBreaker(context.Background())
	venue.onSubmit = venue.fillAtLimit
	require.Equal(t, domain.OutcomeSuccess, ex.Execute(context.Background(), testOpportunity()).Kind)
}

func TestSubmitTransportErrorIsAPIError(t *testing.T) {
	venue := newFakeVenue("500")
	venue.submitErr = errors.New("connection reset")
	ex := New(fastConfig(), Deps{Venue: venue, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeAPIError, out.Kind)
	require.Error(t, out.Err)
	require.True(t, out.Attempted())
}

func TestTimeoutResolvedByExplicitPoll(t *testing.T) {
	venue := newFakeVenue("500")
	venue.onSubmit = func(spec domain.OrderSpec) domain.OrderResult {
		// Orders come back pending; the wait also reports pending.
		return domain.OrderResult{TokenID: spec.TokenID, Status: domain.OrderStatusPending, FilledSize: spec.Size, AvgFillPrice: spec.Price}
	}
	cfg := fastConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollAttempts = 200
	ex := New(cfg, Deps{Venue: venue, Logger: discard()})

	// Scripted: first poll already shows both filled.
	done := make(chan domain.ExecutionOutcome, 1)
	go func() {
		done <- ex.Execute(context.Background(), testOpportunity())
	}()

	// Flip every submitted order to filled shortly after submission so the
	// explicit poll observes it.
	require.Eventually(t, func() bool {
		venue.mu.Lock()
		defer venue.mu.Unlock()
		if len(venue.results) < 2 {
			return false
		}
		for id, res := range venue.results {
			res.Status = domain.OrderStatusFilled
			venue.pollResults[id] = res
		}
		return true
	}, time.Second, time.Millisecond)

	out := <-done
	require.Equal(t, domain.OutcomeSuccess, out.Kind)
}

func TestSessionRestore(t *testing.T) {
	sessions := newMemSessions()
	day := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, sessions.Save(context.Background(), domain.RiskSession{
		Day:                 day,
		RealizedPnL:         dec("-60"),
		ConsecutiveFailures: 1,
		Halted:              false,
	}))

	venue := newFakeVenue("500")
	ex := New(fastConfig(), Deps{Venue: venue, Sessions: sessions, Logger: discard()})
	require.NoError(t, ex.RestoreSession(context.Background()))

	// Restored -60 breaches the default 50 daily loss floor.
	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeRejected, out.Kind)
	require.Equal(t, domain.RejectDailyLoss, out.Reason)
	require.Zero(t, venue.submitCount())
}

func TestPaperVenueRoundTrip(t *testing.T) {
	venue := NewPaperVenue(dec("500"), discard())
	ex := New(fastConfig(), Deps{Venue: venue, Logger: discard()})

	out := ex.Execute(context.Background(), testOpportunity())
	require.Equal(t, domain.OutcomeSuccess, out.Kind)

	balance, err := venue.GetBalance(context.Background())
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("405")), "balance %s", balance) // 500 - 95

	holdings, err := venue.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 2)
}
