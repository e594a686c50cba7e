// Package detector converts two live order books into sized, fee-adjusted,
// risk-scored paired-trade candidates.
package detector

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/book"
	"github.com/quantfall/crossarb/internal/domain"
)

// Config holds the detection thresholds. All money thresholds are exact
// decimals so the pair-cost comparison cannot be corrupted by rounding.
type Config struct {
	// TargetPairCost is the rejection threshold: pair cost at or above it
	// produces no candidate.
	TargetPairCost decimal.Decimal
	// MinProfit is the minimum net profit per share after fees and costs.
	MinProfit decimal.Decimal
	// MaxPositionSize caps the per-leg share count of any candidate.
	MaxPositionSize decimal.Decimal
	// FeeRate is the payout-side fee rate charged on settlement value.
	FeeRate decimal.Decimal
	// TxnCost is the fixed per-transaction cost, charged once per leg.
	TxnCost decimal.Decimal
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TargetPairCost:  decimal.NewFromFloat(0.97),
		MinProfit:       decimal.NewFromFloat(0.005),
		MaxPositionSize: decimal.NewFromInt(1000),
		FeeRate:         decimal.NewFromFloat(0.02),
		TxnCost:         decimal.NewFromFloat(0.007),
	}
}

// Detector scores candidate paired trades from book snapshots. Stateless
// apart from its thresholds; safe for concurrent use.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a detector with the given thresholds.
func New(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Detect simulates buying size shares on each leg and returns a candidate
// when the conservative pair cost clears every threshold. A nil result
// means no opportunity; by construction no returned candidate ever has
// PairCost >= 1.
func (d *Detector) Detect(pair domain.MarketPair, book1, book2 *book.Book, size decimal.Decimal) *domain.ArbitrageOpportunity {
	size = decimal.Min(size, d.cfg.MaxPositionSize)
	if !size.IsPositive() {
		return nil
	}

	sim1, ok := book1.SimulateFill(domain.OrderSideBuy, size)
	if !ok || !sim1.SufficientDepth {
		return nil
	}
	sim2, ok := book2.SimulateFill(domain.OrderSideBuy, size)
	if !ok || !sim2.SufficientDepth {
		return nil
	}

	// Worst-case fill prices, not top-of-book: the conservative cost that
	// survives execution.
	pairCost := sim1.WorstPrice.Add(sim2.WorstPrice)
	if pairCost.GreaterThanOrEqual(d.cfg.TargetPairCost) {
		return nil
	}

	one := decimal.NewFromInt(1)
	gross := one.Sub(pairCost)
	fee := d.expectedFee(pairCost)
	net := gross.Sub(fee).Sub(d.cfg.TxnCost.Mul(decimal.NewFromInt(2)))
	if net.LessThan(d.cfg.MinProfit) {
		return nil
	}

	opp := &domain.ArbitrageOpportunity{
		Pair:          pair,
		Leg1WorstFill: sim1.WorstPrice,
		Leg2WorstFill: sim2.WorstPrice,
		PairCost:      pairCost,
		GrossProfit:   gross,
		ExpectedFee:   fee,
		NetProfit:     net,
		ROIPercent:    net.Div(pairCost).Mul(decimal.NewFromInt(100)),
		Size:          size,
		Investment:    pairCost.Mul(size),
		Payout:        size,
		Leg1Depth:     book1.TotalDepth(domain.OrderSideBuy),
		Leg2Depth:     book2.TotalDepth(domain.OrderSideBuy),
		DetectedAt:    time.Now().UTC(),
	}
	opp.RiskScore = d.riskScore(sim1, sim2, pairCost, opp.Leg1Depth, opp.Leg2Depth)

	d.logger.Debug("opportunity detected",
		slog.String("pair", pair.ID),
		slog.String("pair_cost", pairCost.String()),
		slog.String("net_profit", net.String()),
		slog.String("size", size.String()),
		slog.Float64("risk_score", opp.RiskScore),
	)
	return opp
}

// DetectAtSizes evaluates a ladder of candidate sizes and returns every
// viable candidate, best total profit first. Larger sizes walk deeper into
// the book and may price themselves out.
func (d *Detector) DetectAtSizes(pair domain.MarketPair, book1, book2 *book.Book, sizes []decimal.Decimal) []domain.ArbitrageOpportunity {
	var out []domain.ArbitrageOpportunity
	for _, size := range sizes {
		if opp := d.Detect(pair, book1, book2, size); opp != nil {
			out = append(out, *opp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalProfit().GreaterThan(out[j].TotalProfit())
	})
	return out
}

// PairCostProfitable is a cheap pre-check on top-of-book prices before any
// depth walk. It can false-positive (depth may be worse) but never rules
// out a viable pair.
func (d *Detector) PairCostProfitable(book1, book2 *book.Book) bool {
	ask1, ok1 := book1.BestAsk()
	ask2, ok2 := book2.BestAsk()
	if !ok1 || !ok2 {
		return false
	}
	return ask1.Add(ask2).LessThan(d.cfg.TargetPairCost)
}

// BreakEvenPairCost returns the pair cost at which net profit is exactly
// zero under the configured fee model.
func (d *Detector) BreakEvenPairCost() decimal.Decimal {
	// Solve 1 - c - feeRate/2*(2 - c) - 2*txn = 0 for c.
	one := decimal.NewFromInt(1)
	half := d.cfg.FeeRate.Div(decimal.NewFromInt(2))
	num := one.Sub(d.cfg.FeeRate).Sub(d.cfg.TxnCost.Mul(decimal.NewFromInt(2)))
	den := one.Sub(half)
	return num.Div(den)
}

// expectedFee is the payout-side fee on expected settlement value. Exactly
// one leg pays out 1 per share; the losing leg still settles worthless, so
// the expected fee base is (2 - pairCost) scaled by half the fee rate.
func (d *Detector) expectedFee(pairCost decimal.Decimal) decimal.Decimal {
	two := decimal.NewFromInt(2)
	return d.cfg.FeeRate.Div(two).Mul(two.Sub(pairCost))
}

// riskScore combines three capped penalties and clamps to [0,1]. Advisory
// only: it informs sizing and logging, never gates execution.
func (d *Detector) riskScore(sim1, sim2 book.FillSimulation, pairCost, depth1, depth2 decimal.Decimal) float64 {
	score := 0.0

	// Slippage: gap between best and worst touched price across both legs.
	slip1, _ := sim1.WorstPrice.Sub(sim1.BestPrice).Float64()
	slip2, _ := sim2.WorstPrice.Sub(sim2.BestPrice).Float64()
	slip := (slip1 + slip2) * 10
	if slip > 0.3 {
		slip = 0.3
	}
	if slip > 0 {
		score += slip
	}

	// Thin margin: how close pair cost sits to the rejection threshold.
	margin, _ := d.cfg.TargetPairCost.Sub(pairCost).Float64()
	switch {
	case margin < 0.01:
		score += 0.3
	case margin < 0.02:
		score += 0.15
	}

	// Depth imbalance: shallower leg's depth relative to the deeper leg's.
	d1, _ := depth1.Float64()
	d2, _ := depth2.Float64()
	if d1 > 0 && d2 > 0 {
		ratio := d1 / d2
		if ratio > 1 {
			ratio = 1 / ratio
		}
		switch {
		case ratio < 0.5:
			score += 0.2
		case ratio < 0.8:
			score += 0.1
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}
