package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/crossarb/internal/domain"
)

// Config holds the executor's risk and timing parameters.
type Config struct {
	// Cooldown is the minimum spacing between execution attempts.
	Cooldown time.Duration
	// MaxDailyLoss is the realized-loss floor; once the session P&L is at
	// or below its negation, further attempts are rejected.
	MaxDailyLoss decimal.Decimal
	// MaxConsecutiveFailures arms the circuit breaker.
	MaxConsecutiveFailures int
	// FailurePause is how long the breaker holds after arming.
	FailurePause time.Duration
	// BalanceMargin multiplies required investment for the balance gate.
	// Must exceed 1.0 to absorb movement between simulation and fill.
	BalanceMargin decimal.Decimal
	// OrderTimeout bounds each leg's wait for a terminal status.
	OrderTimeout time.Duration
	// PollInterval and PollAttempts govern explicit status polling after a
	// wait times out.
	PollInterval time.Duration
	PollAttempts int
	// MaxImbalance is the hard cap on the share-count difference between
	// legs of a live position.
	MaxImbalance decimal.Decimal
	// UnwindPriceFloor is the worst acceptable price for the emergency
	// exit sell of a stranded leg.
	UnwindPriceFloor decimal.Decimal
}

// DefaultExecutorConfig returns the standard risk parameters.
func DefaultExecutorConfig() Config {
	return Config{
		Cooldown:               5 * time.Second,
		MaxDailyLoss:           decimal.NewFromInt(50),
		MaxConsecutiveFailures: 3,
		FailurePause:           60 * time.Second,
		BalanceMargin:          decimal.NewFromFloat(1.20),
		OrderTimeout:           3 * time.Second,
		PollInterval:           250 * time.Millisecond,
		PollAttempts:           4,
		MaxImbalance:           decimal.NewFromInt(50),
		UnwindPriceFloor:       decimal.NewFromFloat(0.01),
	}
}

// OutcomeRecorder folds execution outcomes into aggregate statistics.
// Satisfied by metrics.Tracker.
type OutcomeRecorder interface {
	RecordOutcome(out domain.ExecutionOutcome)
	// RecordSettlement takes terminal positions whose realized P&L is
	// final. The executor calls it for unwound positions: they never pass
	// through the settlement sweep, so their loss enters the profit sample
	// here or not at all.
	RecordSettlement(pos domain.ArbitragePosition)
}

// Deps are the executor's collaborators. Venue is required; everything
// else may be nil.
type Deps struct {
	Venue     Venue
	Positions domain.PositionStore
	Sessions  domain.SessionStore
	Bus       domain.SignalBus
	Alerter   Alerter
	Recorder  OutcomeRecorder
	Logger    *slog.Logger
}

// PairedExecutor owns the per-session risk state (daily P&L, failure
// counter, last-attempt time) and runs one execution attempt at a time.
// All risk counters are single-writer: nothing else mutates them.
type PairedExecutor struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	brk         *breaker
	dailyPnL    decimal.Decimal
	lastAttempt time.Time
	halted      bool

	logger *slog.Logger
}

// New creates a PairedExecutor. Call RestoreSession before the first
// Execute when a SessionStore is configured.
func New(cfg Config, deps Deps) *PairedExecutor {
	return &PairedExecutor{
		cfg:    cfg,
		deps:   deps,
		brk:    newBreaker(cfg.MaxConsecutiveFailures, cfg.FailurePause),
		logger: deps.Logger.With(slog.String("component", "paired_executor")),
	}
}

// Execute runs one attempt for the candidate: risk gates, batched
// submission, concurrent await of both legs, and reconciliation. It always
// returns a value from the closed outcome set, never an unstructured error.
func (e *PairedExecutor) Execute(ctx context.Context, opp domain.ArbitrageOpportunity) domain.ExecutionOutcome {
	started := time.Now().UTC()
	out := e.attempt(ctx, opp, started)
	out.AttemptedAt = started
	e.afterAttempt(ctx, opp, out)
	return out
}

func (e *PairedExecutor) attempt(ctx context.Context, opp domain.ArbitrageOpportunity, started time.Time) domain.ExecutionOutcome {
	if reason, ok := e.checkGates(started); !ok {
		e.logger.Info("attempt rejected by gate", slog.String("reason", string(reason)))
		return domain.ExecutionOutcome{Kind: domain.OutcomeRejected, Reason: reason}
	}

	// Balance gate needs venue I/O, so it runs outside the state lock.
	balance, err := e.deps.Venue.GetBalance(ctx)
	if err != nil {
		return domain.ExecutionOutcome{Kind: domain.OutcomeAPIError, Err: fmt.Errorf("executor: get balance: %w", err)}
	}
	required := opp.Investment.Mul(e.cfg.BalanceMargin)
	if balance.LessThan(required) {
		e.logger.Warn("balance below required margin",
			slog.String("balance", balance.String()),
			slog.String("required", required.String()),
		)
		return domain.ExecutionOutcome{Kind: domain.OutcomeRejected, Reason: domain.RejectInsufficientBalance}
	}

	e.mu.Lock()
	e.lastAttempt = started
	e.mu.Unlock()

	// Both legs leave together as fill-or-kill: a leg either fills
	// completely or not at all. Partial single-leg fills are prevented by
	// construction, not corrected after the fact.
	specs := []domain.OrderSpec{
		{TokenID: opp.Pair.Leg1.TokenID, Side: domain.OrderSideBuy, Type: domain.OrderTypeFOK, Price: opp.Leg1WorstFill, Size: opp.Size},
		{TokenID: opp.Pair.Leg2.TokenID, Side: domain.OrderSideBuy, Type: domain.OrderTypeFOK, Price: opp.Leg2WorstFill, Size: opp.Size},
	}
	results, err := e.deps.Venue.SubmitOrdersBatch(ctx, specs)
	if err != nil {
		// Transport failure before any fill is confirmed. Never blindly
		// resubmitted: a filled order retried is a double execution.
		e.recordFailure(started)
		return domain.ExecutionOutcome{Kind: domain.OutcomeAPIError, Err: fmt.Errorf("executor: submit batch: %w", err)}
	}
	if len(results) != len(specs) {
		e.recordFailure(started)
		return domain.ExecutionOutcome{Kind: domain.OutcomeAPIError, Err: fmt.Errorf("executor: submit batch: got %d results for %d orders", len(results), len(specs))}
	}

	// Join over both legs: both awaits complete before reconciliation.
	finals := make([]domain.OrderResult, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			finals[i] = e.awaitTerminal(gctx, results[i])
			return nil
		})
	}
	_ = g.Wait()

	return e.reconcile(ctx, opp, specs, finals, started)
}

// checkGates evaluates the pre-submission gates under the state lock.
func (e *PairedExecutor) checkGates(now time.Time) (domain.RejectReason, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.halted:
		return domain.RejectHalted, false
	case !e.brk.Allow(now):
		return domain.RejectCircuitOpen, false
	case !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < e.cfg.Cooldown:
		return domain.RejectCooldown, false
	case e.dailyPnL.LessThanOrEqual(e.cfg.MaxDailyLoss.Neg()):
		return domain.RejectDailyLoss, false
	}
	return "", true
}

// awaitTerminal waits for a leg's terminal status. A timeout means "status
// unknown", resolved by explicit polling; as a last resort the order is
// cancelled and its final status re-read, since it may have filled despite
// a delayed acknowledgment.
func (e *PairedExecutor) awaitTerminal(ctx context.Context, initial domain.OrderResult) domain.OrderResult {
	if initial.Status.Terminal() {
		return initial
	}
	log := e.logger.With(slog.String("order_id", initial.OrderID))

	res, err := e.deps.Venue.WaitForTerminal(ctx, initial.OrderID, e.cfg.OrderTimeout)
	if err == nil && res.Status.Terminal() {
		return res
	}
	if err != nil {
		log.Warn("wait for terminal failed, polling status", slog.String("error", err.Error()))
	}

	for i := 0; i < e.cfg.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return e.finalStatus(initial)
		case <-time.After(e.cfg.PollInterval):
		}
		res, err = e.deps.Venue.GetOrderStatus(ctx, initial.OrderID)
		if err == nil && res.Status.Terminal() {
			return res
		}
	}

	// Still unresolved: cancel best-effort, then trust the last word.
	if err := e.deps.Venue.CancelOrder(ctx, initial.OrderID); err != nil {
		log.Warn("cancel failed", slog.String("error", err.Error()))
	}
	return e.finalStatus(initial)
}

func (e *PairedExecutor) finalStatus(initial domain.OrderResult) domain.OrderResult {
	res, err := e.deps.Venue.GetOrderStatus(context.Background(), initial.OrderID)
	if err != nil {
		initial.Status = domain.OrderStatusUnknown
		return initial
	}
	return res
}

// reconcile enumerates the three reachable outcomes explicitly.
func (e *PairedExecutor) reconcile(ctx context.Context, opp domain.ArbitrageOpportunity, specs []domain.OrderSpec, finals []domain.OrderResult, started time.Time) domain.ExecutionOutcome {
	filled1, filled2 := finals[0].Filled(), finals[1].Filled()
	latency := time.Since(started)

	switch {
	case filled1 && filled2:
		return e.onBothFilled(ctx, opp, finals, started, latency)
	case filled1 != filled2:
		idx := 0
		if filled2 {
			idx = 1
		}
		return e.onOneFilled(ctx, opp, specs[idx], finals[idx], started, latency)
	default:
		e.recordFailure(time.Now())
		e.logger.Info("both legs rejected",
			slog.String("leg1_status", string(finals[0].Status)),
			slog.String("leg2_status", string(finals[1].Status)),
		)
		return domain.ExecutionOutcome{Kind: domain.OutcomeBothRejected, Latency: latency}
	}
}

func (e *PairedExecutor) onBothFilled(ctx context.Context, opp domain.ArbitrageOpportunity, finals []domain.OrderResult, started time.Time, latency time.Duration) domain.ExecutionOutcome {
	leg1 := legFill(opp.Pair.Leg1, finals[0])
	leg2 := legFill(opp.Pair.Leg2, finals[1])
	pos := domain.NewPosition(uuid.New().String(), opp.Pair.ID, leg1, leg2, started)
	pos.Status = domain.PositionStatusComplete

	if !pos.ImbalanceWithin(e.cfg.MaxImbalance) {
		// Should be unreachable with fill-or-kill legs of equal size.
		e.logger.Error("imbalance cap exceeded on complete position",
			slog.String("position_id", pos.ID),
			slog.String("imbalance", pos.Imbalance.String()),
		)
	}

	if e.deps.Positions != nil {
		if err := e.deps.Positions.Create(ctx, pos); err != nil {
			e.logger.Error("persist position failed", slog.String("position_id", pos.ID), slog.String("error", err.Error()))
		}
	}

	e.mu.Lock()
	e.brk.Success()
	e.mu.Unlock()

	e.logger.Info("both legs filled",
		slog.String("position_id", pos.ID),
		slog.String("pair_cost", pos.PairCost.String()),
		slog.Duration("latency", latency),
	)
	return domain.ExecutionOutcome{Kind: domain.OutcomeSuccess, Position: &pos, Latency: latency}
}

// onOneFilled handles the single most dangerous state in the system: a
// naked, uncapped-risk leg. It is closed immediately with an aggressive
// fill-and-kill sell at the configured floor price.
func (e *PairedExecutor) onOneFilled(ctx context.Context, opp domain.ArbitrageOpportunity, spec domain.OrderSpec, fill domain.OrderResult, started time.Time, latency time.Duration) domain.ExecutionOutcome {
	pairLeg := opp.Pair.Leg1
	if spec.TokenID == opp.Pair.Leg2.TokenID {
		pairLeg = opp.Pair.Leg2
	}
	stranded := legFill(pairLeg, fill)

	e.logger.Warn("exactly one leg filled, unwinding",
		slog.String("token", stranded.TokenID),
		slog.String("size", stranded.Size.String()),
		slog.String("cost", stranded.Cost.String()),
	)

	proceeds, err := e.unwind(ctx, stranded)
	if err != nil {
		// The exit path itself is unreliable. Halt new trades until an
		// operator intervenes; retrying indefinitely compounds exposure.
		e.mu.Lock()
		e.halted = true
		e.brk.Trip()
		e.mu.Unlock()
		e.escalateUnwindFailure(ctx, stranded, err)
		return domain.ExecutionOutcome{
			Kind:        domain.OutcomePartialFillUnwindFailed,
			StrandedLeg: &stranded,
			Err:         fmt.Errorf("executor: %w: %w", domain.ErrUnwindFailed, err),
			Latency:     latency,
		}
	}

	loss := proceeds.Sub(stranded.Cost) // negative in practice
	now := time.Now().UTC()
	e.mu.Lock()
	e.dailyPnL = e.dailyPnL.Add(loss)
	e.brk.Failure(now)
	e.mu.Unlock()

	e.persistUnwound(ctx, opp, stranded, loss, started, now)

	e.logger.Warn("stranded leg unwound",
		slog.String("proceeds", proceeds.String()),
		slog.String("realized", loss.String()),
	)
	return domain.ExecutionOutcome{Kind: domain.OutcomePartialFillUnwound, StrandedLeg: &stranded, Latency: latency}
}

// unwind sells the stranded leg with fill-and-kill at the floor price and
// returns the proceeds. Any unsold remainder is a failed unwind.
func (e *PairedExecutor) unwind(ctx context.Context, stranded domain.LegFill) (decimal.Decimal, error) {
	spec := domain.OrderSpec{
		TokenID: stranded.TokenID,
		Side:    domain.OrderSideSell,
		Type:    domain.OrderTypeFAK,
		Price:   e.cfg.UnwindPriceFloor,
		Size:    stranded.Size,
	}
	results, err := e.deps.Venue.SubmitOrdersBatch(ctx, []domain.OrderSpec{spec})
	if err != nil {
		return decimal.Zero, fmt.Errorf("submit unwind: %w", err)
	}
	if len(results) != 1 {
		return decimal.Zero, fmt.Errorf("submit unwind: got %d results", len(results))
	}
	final := e.awaitTerminal(ctx, results[0])
	if final.FilledSize.LessThan(stranded.Size) {
		return decimal.Zero, fmt.Errorf("unwind filled %s of %s", final.FilledSize, stranded.Size)
	}
	return final.AvgFillPrice.Mul(final.FilledSize), nil
}

func (e *PairedExecutor) persistUnwound(ctx context.Context, opp domain.ArbitrageOpportunity, stranded domain.LegFill, loss decimal.Decimal, started, settled time.Time) {
	pos := domain.ArbitragePosition{
		ID:          uuid.New().String(),
		PairID:      opp.Pair.ID,
		Leg1:        stranded,
		RealizedPnL: loss,
		Status:      domain.PositionStatusUnwound,
		OpenedAt:    started,
		SettledAt:   &settled,
	}
	pos.Recompute()
	if e.deps.Recorder != nil {
		e.deps.Recorder.RecordSettlement(pos)
	}
	if e.deps.Positions == nil {
		return
	}
	if err := e.deps.Positions.Create(ctx, pos); err != nil {
		e.logger.Error("persist unwound position failed", slog.String("error", err.Error()))
	}
}

func (e *PairedExecutor) escalateUnwindFailure(ctx context.Context, stranded domain.LegFill, cause error) {
	e.logger.Error("unwind failed, executor halted",
		slog.String("token", stranded.TokenID),
		slog.String("size", stranded.Size.String()),
		slog.String("error", cause.Error()),
	)
	if e.deps.Alerter == nil {
		return
	}
	msg := fmt.Sprintf("Stranded leg %s (%s shares) could not be closed: %v. Trading halted until manual reset.",
		stranded.TokenID, stranded.Size, cause)
	if err := e.deps.Alerter.Notify(ctx, "unwind_failed", "URGENT: unwind failed", msg); err != nil {
		e.logger.Error("unwind escalation delivery failed", slog.String("error", err.Error()))
	}
}

func (e *PairedExecutor) recordFailure(now time.Time) {
	e.mu.Lock()
	e.brk.Failure(now)
	e.mu.Unlock()
}

// afterAttempt records, publishes, and persists the attempt's aftermath.
func (e *PairedExecutor) afterAttempt(ctx context.Context, opp domain.ArbitrageOpportunity, out domain.ExecutionOutcome) {
	if e.deps.Recorder != nil {
		e.deps.Recorder.RecordOutcome(out)
	}
	if e.deps.Bus != nil {
		if payload, err := json.Marshal(domain.NewOutcomeEvent(opp.Pair.ID, out)); err == nil {
			if err := e.deps.Bus.Publish(ctx, domain.ChannelOutcomes, payload); err != nil {
				e.logger.Warn("publish outcome failed", slog.String("error", err.Error()))
			}
			if out.Attempted() {
				if err := e.deps.Bus.StreamAppend(ctx, domain.StreamExecutions, payload); err != nil {
					e.logger.Warn("append execution stream failed", slog.String("error", err.Error()))
				}
			}
		}
	}
	if err := e.saveSession(ctx); err != nil {
		e.logger.Warn("persist risk session failed", slog.String("error", err.Error()))
	}
}

// AddRealizedPnL folds settlement P&L into the daily accumulator. Called by
// the settlement service; the executor remains the only writer of the
// session counters.
func (e *PairedExecutor) AddRealizedPnL(ctx context.Context, pnl decimal.Decimal) {
	e.mu.Lock()
	e.dailyPnL = e.dailyPnL.Add(pnl)
	e.mu.Unlock()
	if err := e.saveSession(ctx); err != nil {
		e.logger.Warn("persist risk session failed", slog.String("error", err.Error()))
	}
}

// RestoreSession loads today's risk session so a restart cannot reset the
// daily loss accumulator or the failure counter.
func (e *PairedExecutor) RestoreSession(ctx context.Context) error {
	if e.deps.Sessions == nil {
		return nil
	}
	day := time.Now().UTC().Format("2006-01-02")
	s, err := e.deps.Sessions.Load(ctx, day)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("executor: restore session: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyPnL = s.RealizedPnL
	e.lastAttempt = s.LastAttemptAt
	e.halted = s.Halted
	e.brk.failures = s.ConsecutiveFailures
	if s.ConsecutiveFailures >= e.cfg.MaxConsecutiveFailures {
		e.brk.pausedUntil = time.Now().Add(e.cfg.FailurePause)
	}
	e.logger.Info("risk session restored",
		slog.String("day", day),
		slog.String("daily_pnl", s.RealizedPnL.String()),
		slog.Int("consecutive_failures", s.ConsecutiveFailures),
		slog.Bool("halted", s.Halted),
	)
	return nil
}

func (e *PairedExecutor) saveSession(ctx context.Context) error {
	if e.deps.Sessions == nil {
		return nil
	}
	e.mu.Lock()
	s := domain.RiskSession{
		Day:                 time.Now().UTC().Format("2006-01-02"),
		RealizedPnL:         e.dailyPnL,
		ConsecutiveFailures: e.brk.Failures(),
		LastAttemptAt:       e.lastAttempt,
		Halted:              e.halted,
		UpdatedAt:           time.Now().UTC(),
	}
	e.mu.Unlock()
	return e.deps.Sessions.Save(ctx, s)
}

// ResetBreaker clears the halt and the circuit breaker. Operator action
// after an unwind failure has been investigated.
func (e *PairedExecutor) ResetBreaker(ctx context.Context) {
	e.mu.Lock()
	e.halted = false
	e.brk.Reset()
	e.mu.Unlock()
	e.logger.Info("circuit breaker reset")
	if err := e.saveSession(ctx); err != nil {
		e.logger.Warn("persist risk session failed", slog.String("error", err.Error()))
	}
}

// Halted reports whether the executor refuses new trades pending reset.
func (e *PairedExecutor) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// DailyPnL returns the session's realized P&L.
func (e *PairedExecutor) DailyPnL() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dailyPnL
}

func legFill(pl domain.PairLeg, res domain.OrderResult) domain.LegFill {
	return domain.LegFill{
		MarketID: pl.MarketID,
		TokenID:  pl.TokenID,
		Size:     res.FilledSize,
		Cost:     res.AvgFillPrice.Mul(res.FilledSize),
		AvgPrice: res.AvgFillPrice,
	}
}
