package metrics

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// Validation gate defaults. A strategy with a positive observed mean but a
// small, noisy sample is indistinguishable from a stopped clock; these
// encode "don't scale capital on noise".
const (
	DefaultMinSampleSize    = 41
	DefaultMinFillRateLower = 0.60
	DefaultMaxProfitPValue  = 0.10
	DefaultZ                = 1.96
)

// Config holds the production-readiness thresholds.
type Config struct {
	MinSampleSize    int
	MinFillRateLower float64
	MaxProfitPValue  float64
	Z                float64
	MaxAbsImbalance  decimal.Decimal
}

// DefaultMetricsConfig returns the documented gate thresholds.
func DefaultMetricsConfig() Config {
	return Config{
		MinSampleSize:    DefaultMinSampleSize,
		MinFillRateLower: DefaultMinFillRateLower,
		MaxProfitPValue:  DefaultMaxProfitPValue,
		Z:                DefaultZ,
		MaxAbsImbalance:  decimal.NewFromInt(50),
	}
}

// ValidationSummary is a read-only snapshot of the aggregate statistics.
type ValidationSummary struct {
	WindowsObserved       int             `json:"windows_observed"`
	OpportunitiesDetected int             `json:"opportunities_detected"`
	Attempts              int             `json:"attempts"`
	BothFilled            int             `json:"both_filled"`
	PartialFills          int             `json:"partial_fills"`
	SettledTrades         int             `json:"settled_trades"`
	TotalPnL              decimal.Decimal `json:"total_pnl"`
	MeanProfit            float64         `json:"mean_profit"`
	FillRate              float64         `json:"fill_rate"`
	FillRateCILower       float64         `json:"fill_rate_ci_lower"`
	FillRateCIUpper       float64         `json:"fill_rate_ci_upper"`
	ProfitTStat           float64         `json:"profit_t_stat"`
	ProfitPValue          float64         `json:"profit_p_value"`
	MaxImbalance          decimal.Decimal `json:"max_imbalance"`
	AvgLatencyMS          float64         `json:"avg_latency_ms"`
	ProductionReady       bool            `json:"production_ready"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Tracker accumulates execution and settlement outcomes. All derived
// statistics are recomputed from the accumulated state on read. Safe for
// concurrent append by the executor and read fan-out by reporters.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	windowsObserved       int
	opportunitiesDetected int
	attempts              int
	bothFilled            int
	partialFills          int

	profits      []float64 // realized net profit per settled trade
	totalPnL     decimal.Decimal
	maxImbalance decimal.Decimal

	latencyCount int
	latencyMean  float64 // Welford running mean, milliseconds
}

// NewTracker returns an empty tracker with the given gate thresholds.
func NewTracker(cfg Config) *Tracker {
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = DefaultMinSampleSize
	}
	if cfg.Z <= 0 {
		cfg.Z = DefaultZ
	}
	return &Tracker{cfg: cfg}
}

// RecordWindow notes that one settlement window was observed.
func (t *Tracker) RecordWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windowsObserved++
}

// RecordOpportunity notes that a candidate was detected.
func (t *Tracker) RecordOpportunity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opportunitiesDetected++
}

// RecordOutcome folds one execution attempt into the counters. Gate
// rejections are not attempts: no orders left the process.
func (t *Tracker) RecordOutcome(out domain.ExecutionOutcome) {
	if !out.Attempted() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	switch out.Kind {
	case domain.OutcomeSuccess:
		t.bothFilled++
		t.recordLatency(out.Latency)
		if out.Position != nil {
			t.recordImbalance(out.Position.Imbalance)
		}
	case domain.OutcomePartialFillUnwound, domain.OutcomePartialFillUnwindFailed:
		t.partialFills++
	}
}

// RecordSettlement folds a terminal position's realized P&L into the profit
// sample. Unwound positions count too: their loss is part of strategy
// performance.
func (t *Tracker) RecordSettlement(pos domain.ArbitragePosition) {
	if !pos.Status.Terminal() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pnl, _ := pos.RealizedPnL.Float64()
	t.profits = append(t.profits, pnl)
	t.totalPnL = t.totalPnL.Add(pos.RealizedPnL)
	t.recordImbalance(pos.Imbalance)
}

func (t *Tracker) recordImbalance(imb decimal.Decimal) {
	if imb.Abs().GreaterThan(t.maxImbalance) {
		t.maxImbalance = imb.Abs()
	}
}

func (t *Tracker) recordLatency(d time.Duration) {
	t.latencyCount++
	ms := float64(d.Milliseconds())
	t.latencyMean += (ms - t.latencyMean) / float64(t.latencyCount)
}

// FillRateCI returns the Wilson interval over (both-legs-filled, attempts).
func (t *Tracker) FillRateCI() (lower, upper float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return WilsonCI(t.bothFilled, t.attempts, t.cfg.Z)
}

// ProfitSignificance returns the one-sample t statistic and p-value over
// realized net profit per settled trade.
func (t *Tracker) ProfitSignificance() (tStat, pValue float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ProfitTTest(t.profits)
}

// ProductionReady reports whether the strategy clears every statistical
// gate: enough samples, fill-rate lower bound above the floor, profit
// significance, imbalance within the cap, and positive total P&L.
func (t *Tracker) ProductionReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.productionReadyLocked()
}

func (t *Tracker) productionReadyLocked() bool {
	if t.attempts < t.cfg.MinSampleSize {
		return false
	}
	lower, _ := WilsonCI(t.bothFilled, t.attempts, t.cfg.Z)
	if lower <= t.cfg.MinFillRateLower {
		return false
	}
	_, p := ProfitTTest(t.profits)
	if p >= t.cfg.MaxProfitPValue {
		return false
	}
	if t.cfg.MaxAbsImbalance.IsPositive() && t.maxImbalance.GreaterThan(t.cfg.MaxAbsImbalance) {
		return false
	}
	return t.totalPnL.IsPositive()
}

// Summary returns a consistent snapshot of every aggregate statistic.
func (t *Tracker) Summary() ValidationSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := ValidationSummary{
		WindowsObserved:       t.windowsObserved,
		OpportunitiesDetected: t.opportunitiesDetected,
		Attempts:              t.attempts,
		BothFilled:            t.bothFilled,
		PartialFills:          t.partialFills,
		SettledTrades:         len(t.profits),
		TotalPnL:              t.totalPnL,
		MaxImbalance:          t.maxImbalance,
		AvgLatencyMS:          t.latencyMean,
		ProductionReady:       t.productionReadyLocked(),
		UpdatedAt:             time.Now().UTC(),
	}
	if t.attempts > 0 {
		s.FillRate = float64(t.bothFilled) / float64(t.attempts)
	}
	s.FillRateCILower, s.FillRateCIUpper = WilsonCI(t.bothFilled, t.attempts, t.cfg.Z)
	s.ProfitTStat, s.ProfitPValue = ProfitTTest(t.profits)
	if n := len(t.profits); n > 0 {
		sum := 0.0
		for _, p := range t.profits {
			sum += p
		}
		s.MeanProfit = sum / float64(n)
	}
	return s
}
