package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/book"
	"github.com/quantfall/crossarb/internal/domain"
)

// Trader executes a candidate. Implemented by the paired executor; the
// runner depends only on this abstraction.
type Trader interface {
	Execute(ctx context.Context, opp domain.ArbitrageOpportunity) domain.ExecutionOutcome
}

// RunnerConfig configures the detection loop.
type RunnerConfig struct {
	Pair        domain.MarketPair
	Size        decimal.Decimal
	Interval    time.Duration // evaluation cadence
	MaxBookAge  time.Duration // skip evaluation when either leg is staler
	AutoExecute bool
}

// Runner drives the detect loop for one market pair: on each tick it takes
// a consistent snapshot of both legs, runs detection, publishes candidates
// on the signal bus, and hands them to the trader when auto-execute is on.
// It never blocks book ingestion; snapshots are clones.
type Runner struct {
	cfg      RunnerConfig
	detector *Detector
	books    *book.Registry
	bus      domain.SignalBus
	trader   Trader
	logger   *slog.Logger
}

// NewRunner wires a detection loop. bus and trader may be nil; detection
// then only logs.
func NewRunner(cfg RunnerConfig, d *Detector, books *book.Registry, bus domain.SignalBus, trader Trader, logger *slog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.MaxBookAge <= 0 {
		cfg.MaxBookAge = 5 * time.Second
	}
	return &Runner{
		cfg:      cfg,
		detector: d,
		books:    books,
		bus:      bus,
		trader:   trader,
		logger:   logger.With(slog.String("component", "detector_runner"), slog.String("pair", cfg.Pair.ID)),
	}
}

// Run evaluates on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("detector runner started",
		slog.String("size", r.cfg.Size.String()),
		slog.Bool("auto_execute", r.cfg.AutoExecute),
	)
	defer r.logger.Info("detector runner stopped")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.evaluate(ctx)
		}
	}
}

func (r *Runner) evaluate(ctx context.Context) {
	tok1, tok2 := r.cfg.Pair.TokenIDs()
	b1, b2, ok := r.books.GetPair(tok1, tok2)
	if !ok {
		return
	}
	cutoff := time.Now().Add(-r.cfg.MaxBookAge)
	if b1.UpdatedAt.Before(cutoff) || b2.UpdatedAt.Before(cutoff) {
		r.logger.Debug("skipping evaluation, stale book")
		return
	}
	if !r.detector.PairCostProfitable(b1, b2) {
		return
	}

	opp := r.detector.Detect(r.cfg.Pair, b1, b2, r.cfg.Size)
	if opp == nil {
		return
	}

	r.logger.Info("opportunity",
		slog.String("pair_cost", opp.PairCost.String()),
		slog.String("net_profit", opp.NetProfit.String()),
		slog.String("total_profit", opp.TotalProfit().String()),
		slog.Float64("risk_score", opp.RiskScore),
	)

	if r.bus != nil {
		if err := r.publish(ctx, *opp); err != nil {
			r.logger.Warn("publish opportunity failed", slog.String("error", err.Error()))
		}
	}

	if r.cfg.AutoExecute && r.trader != nil {
		out := r.trader.Execute(ctx, *opp)
		r.logger.Info("execution outcome",
			slog.String("kind", string(out.Kind)),
			slog.String("reason", string(out.Reason)),
			slog.Duration("latency", out.Latency),
		)
	}
}

func (r *Runner) publish(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	payload, err := json.Marshal(domain.NewOpportunityEvent(opp))
	if err != nil {
		return fmt.Errorf("detector: marshal event: %w", err)
	}
	return r.bus.Publish(ctx, domain.ChannelOpportunities, payload)
}
