package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/crossarb/internal/domain"
)

func TestWilsonCIBasics(t *testing.T) {
	lower, upper := WilsonCI(0, 0, DefaultZ)
	require.Zero(t, lower)
	require.Zero(t, upper)

	lower, upper = WilsonCI(50, 100, DefaultZ)
	require.InDelta(t, 0.5, (lower+upper)/2, 0.01)
	require.Greater(t, lower, 0.40)
	require.Less(t, upper, 0.60)

	// Extreme rates stay inside [0,1], unlike the normal approximation.
	lower, upper = WilsonCI(0, 5, DefaultZ)
	require.GreaterOrEqual(t, lower, 0.0)
	lower, upper = WilsonCI(5, 5, DefaultZ)
	require.LessOrEqual(t, upper, 1.0)
	require.Less(t, lower, 1.0, "small all-success sample must not claim certainty")
}

func TestWilsonLowerMonotonicInSuccesses(t *testing.T) {
	prev := -1.0
	for successes := 0; successes <= 50; successes++ {
		lower, _ := WilsonCI(successes, 50, DefaultZ)
		require.GreaterOrEqual(t, lower, prev, "successes=%d", successes)
		prev = lower
	}
}

func TestWilsonWidensAsTrialsShrink(t *testing.T) {
	// Same 80% rate, fewer trials: the interval must widen.
	l1, u1 := WilsonCI(80, 100, DefaultZ)
	l2, u2 := WilsonCI(8, 10, DefaultZ)
	require.Greater(t, u2-l2, u1-l1)
}

func TestProfitTTest(t *testing.T) {
	_, p := ProfitTTest(nil)
	require.Equal(t, 1.0, p)
	_, p = ProfitTTest([]float64{0.5})
	require.Equal(t, 1.0, p)
	_, p = ProfitTTest([]float64{0.5, 0.5, 0.5})
	require.Equal(t, 1.0, p, "zero variance has no test")

	consistent := make([]float64, 50)
	for i := range consistent {
		consistent[i] = 0.02 + 0.001*float64(i%3)
	}
	tStat, p := ProfitTTest(consistent)
	require.Greater(t, tStat, 2.0)
	require.Less(t, p, 0.01)

	noisy := []float64{0.5, -0.48, 0.51, -0.52, 0.49, -0.47}
	_, p = ProfitTTest(noisy)
	require.Greater(t, p, 0.10)
}

func settledPosition(pnl string, imbalance string) domain.ArbitragePosition {
	now := time.Now().UTC()
	return domain.ArbitragePosition{
		ID:          "p",
		RealizedPnL: decimal.RequireFromString(pnl),
		Imbalance:   decimal.RequireFromString(imbalance),
		Status:      domain.PositionStatusSettled,
		SettledAt:   &now,
	}
}

func successOutcome(imbalance string) domain.ExecutionOutcome {
	pos := settledPosition("0", imbalance)
	return domain.ExecutionOutcome{
		Kind:     domain.OutcomeSuccess,
		Position: &pos,
		Latency:  120 * time.Millisecond,
	}
}

func TestProductionReadyRequiresMinimumSample(t *testing.T) {
	tr := NewTracker(DefaultMetricsConfig())

	// 40 perfect attempts with strongly significant profit: still one shy
	// of the minimum sample.
	for i := 0; i < DefaultMinSampleSize-1; i++ {
		tr.RecordOutcome(successOutcome("0"))
		tr.RecordSettlement(settledPosition("2.0", "0"))
		tr.RecordSettlement(settledPosition("2.1", "0"))
	}
	require.False(t, tr.ProductionReady())

	tr.RecordOutcome(successOutcome("0"))
	require.True(t, tr.ProductionReady())
}

func TestProductionReadyRequiresFillRateFloor(t *testing.T) {
	tr := NewTracker(DefaultMetricsConfig())
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			tr.RecordOutcome(successOutcome("0"))
		} else {
			tr.RecordOutcome(domain.ExecutionOutcome{Kind: domain.OutcomeBothRejected})
		}
		tr.RecordSettlement(settledPosition("2.0", "0"))
		tr.RecordSettlement(settledPosition("2.1", "0"))
	}
	// 50% fill rate cannot clear a 0.60 lower bound.
	require.False(t, tr.ProductionReady())
}

func TestProductionReadyRequiresProfitSignificanceAndPositivePnL(t *testing.T) {
	cfg := DefaultMetricsConfig()

	losing := NewTracker(cfg)
	for i := 0; i < 60; i++ {
		losing.RecordOutcome(successOutcome("0"))
		losing.RecordSettlement(settledPosition("-1.0", "0"))
		losing.RecordSettlement(settledPosition("-1.1", "0"))
	}
	require.False(t, losing.ProductionReady())

	noisy := NewTracker(cfg)
	for i := 0; i < 60; i++ {
		noisy.RecordOutcome(successOutcome("0"))
		if i%2 == 0 {
			noisy.RecordSettlement(settledPosition("5.0", "0"))
		} else {
			noisy.RecordSettlement(settledPosition("-4.9", "0"))
		}
	}
	require.False(t, noisy.ProductionReady(), "positive but insignificant mean must not pass")
}

func TestProductionReadyRejectsExcessImbalance(t *testing.T) {
	cfg := DefaultMetricsConfig()
	cfg.MaxAbsImbalance = decimal.NewFromInt(10)
	tr := NewTracker(cfg)
	for i := 0; i < 60; i++ {
		tr.RecordOutcome(successOutcome("0"))
		tr.RecordSettlement(settledPosition("2.0", "0"))
		tr.RecordSettlement(settledPosition("2.1", "0"))
	}
	require.True(t, tr.ProductionReady())

	tr.RecordSettlement(settledPosition("2.0", "25"))
	require.False(t, tr.ProductionReady())
}

func TestRejectionsAreNotAttempts(t *testing.T) {
	tr := NewTracker(DefaultMetricsConfig())
	tr.RecordOutcome(domain.ExecutionOutcome{Kind: domain.OutcomeRejected, Reason: domain.RejectCooldown})
	require.Zero(t, tr.Summary().Attempts)
}

func TestSummary(t *testing.T) {
	tr := NewTracker(DefaultMetricsConfig())
	tr.RecordWindow()
	tr.RecordOpportunity()
	tr.RecordOutcome(successOutcome("1"))
	tr.RecordOutcome(domain.ExecutionOutcome{Kind: domain.OutcomePartialFillUnwound})
	tr.RecordSettlement(settledPosition("1.5", "1"))

	s := tr.Summary()
	require.Equal(t, 1, s.WindowsObserved)
	require.Equal(t, 1, s.OpportunitiesDetected)
	require.Equal(t, 2, s.Attempts)
	require.Equal(t, 1, s.BothFilled)
	require.Equal(t, 1, s.PartialFills)
	require.Equal(t, 1, s.SettledTrades)
	require.InDelta(t, 0.5, s.FillRate, 1e-9)
	require.True(t, s.TotalPnL.Equal(decimal.RequireFromString("1.5")))
	require.False(t, s.ProductionReady)
	require.InDelta(t, 120, s.AvgLatencyMS, 1e-9)
}
