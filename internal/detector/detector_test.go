package detector

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/crossarb/internal/book"
	"github.com/quantfall/crossarb/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bookWithAsks(tok string, levels ...[2]string) *book.Book {
	b := book.New(tok)
	asks := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		asks = append(asks, domain.PriceLevel{Price: dec(l[0]), Size: dec(l[1])})
	}
	b.ApplySnapshot(nil, asks, time.Now())
	return b
}

func testPair() domain.MarketPair {
	return domain.MarketPair{
		ID:   "btc-eth-15m",
		Leg1: domain.PairLeg{MarketID: "m1", TokenID: "t1", Asset: "BTC", Direction: domain.LegDirectionUp},
		Leg2: domain.PairLeg{MarketID: "m2", TokenID: "t2", Asset: "ETH", Direction: domain.LegDirectionDown},
	}
}

func TestDetectProducesCandidate(t *testing.T) {
	// Worst fills 0.55 and 0.40: pair cost 0.95 under the 0.97 threshold.
	// Fee rate zero and txn cost 0.015 pin net profit at exactly 0.02.
	cfg := Config{
		TargetPairCost:  dec("0.97"),
		MinProfit:       dec("0.005"),
		MaxPositionSize: dec("1000"),
		FeeRate:         decimal.Zero,
		TxnCost:         dec("0.015"),
	}
	d := New(cfg, discard())

	b1 := bookWithAsks("t1", [2]string{"0.55", "200"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "200"})

	opp := d.Detect(testPair(), b1, b2, dec("100"))
	require.NotNil(t, opp)
	require.True(t, opp.PairCost.Equal(dec("0.95")))
	require.True(t, opp.PairCost.Equal(opp.Leg1WorstFill.Add(opp.Leg2WorstFill)))
	require.True(t, opp.NetProfit.Equal(dec("0.02")), "net %s", opp.NetProfit)
	require.True(t, opp.Size.Equal(dec("100")))
	require.True(t, opp.Investment.Equal(dec("95")))
	require.True(t, opp.Payout.Equal(dec("100")))
	require.True(t, opp.PairCost.LessThan(decimal.NewFromInt(1)))
	require.GreaterOrEqual(t, opp.RiskScore, 0.0)
	require.LessOrEqual(t, opp.RiskScore, 1.0)
}

func TestDetectRejectsThinNetProfit(t *testing.T) {
	// Same books, txn cost tuned so net profit is 0.002: below the floor.
	cfg := Config{
		TargetPairCost:  dec("0.97"),
		MinProfit:       dec("0.005"),
		MaxPositionSize: dec("1000"),
		FeeRate:         decimal.Zero,
		TxnCost:         dec("0.024"),
	}
	d := New(cfg, discard())

	b1 := bookWithAsks("t1", [2]string{"0.55", "200"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "200"})

	require.Nil(t, d.Detect(testPair(), b1, b2, dec("100")))
}

func TestDetectRejectsPairCostAtThreshold(t *testing.T) {
	d := New(DefaultConfig(), discard())

	b1 := bookWithAsks("t1", [2]string{"0.57", "200"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "200"})

	// 0.97 is not strictly below the threshold.
	require.Nil(t, d.Detect(testPair(), b1, b2, dec("100")))
}

func TestDetectRejectsInsufficientDepth(t *testing.T) {
	d := New(DefaultConfig(), discard())

	b1 := bookWithAsks("t1", [2]string{"0.40", "50"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "500"})

	require.Nil(t, d.Detect(testPair(), b1, b2, dec("100")), "shallow leg must reject")
	require.Nil(t, d.Detect(testPair(), book.New("t1"), b2, dec("100")), "empty leg must reject")
}

func TestDetectUsesWorstCaseFill(t *testing.T) {
	d := New(DefaultConfig(), discard())

	// Top of book looks great at 0.30, but filling 100 walks to 0.50.
	b1 := bookWithAsks("t1", [2]string{"0.30", "10"}, [2]string{"0.50", "200"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "200"})

	opp := d.Detect(testPair(), b1, b2, dec("100"))
	require.NotNil(t, opp)
	require.True(t, opp.Leg1WorstFill.Equal(dec("0.50")))
	require.True(t, opp.PairCost.Equal(dec("0.90")))
}

func TestDetectCapsSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionSize = dec("75")
	d := New(cfg, discard())

	b1 := bookWithAsks("t1", [2]string{"0.40", "500"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "500"})

	opp := d.Detect(testPair(), b1, b2, dec("300"))
	require.NotNil(t, opp)
	require.True(t, opp.Size.Equal(dec("75")))
}

func TestDetectAtSizesSortsByTotalProfit(t *testing.T) {
	d := New(DefaultConfig(), discard())

	b1 := bookWithAsks("t1", [2]string{"0.40", "50"}, [2]string{"0.45", "500"})
	b2 := bookWithAsks("t2", [2]string{"0.40", "500"})

	opps := d.DetectAtSizes(testPair(), b1, b2, []decimal.Decimal{dec("25"), dec("200")})
	require.Len(t, opps, 2)
	require.True(t, opps[0].TotalProfit().GreaterThanOrEqual(opps[1].TotalProfit()))
}

func TestRiskScoreBands(t *testing.T) {
	d := New(DefaultConfig(), discard())

	// Deep, flat books close to even pricing: low risk.
	calm1 := bookWithAsks("t1", [2]string{"0.40", "1000"})
	calm2 := bookWithAsks("t2", [2]string{"0.40", "1000"})
	calm := d.Detect(testPair(), calm1, calm2, dec("100"))
	require.NotNil(t, calm)

	// Thin margin plus slippage plus lopsided depth: high risk.
	edgy1 := bookWithAsks("t1", [2]string{"0.50", "50"}, [2]string{"0.55", "60"})
	edgy2 := bookWithAsks("t2", [2]string{"0.40", "2000"})
	edgy := d.Detect(testPair(), edgy1, edgy2, dec("100"))
	require.NotNil(t, edgy)

	require.Greater(t, edgy.RiskScore, calm.RiskScore)
	require.LessOrEqual(t, edgy.RiskScore, 1.0)
}

func TestPairCostProfitable(t *testing.T) {
	d := New(DefaultConfig(), discard())

	cheap1 := bookWithAsks("t1", [2]string{"0.45", "10"})
	cheap2 := bookWithAsks("t2", [2]string{"0.45", "10"})
	require.True(t, d.PairCostProfitable(cheap1, cheap2))

	rich2 := bookWithAsks("t2", [2]string{"0.60", "10"})
	require.False(t, d.PairCostProfitable(cheap1, rich2))
	require.False(t, d.PairCostProfitable(cheap1, book.New("t2")))
}

func TestBreakEvenPairCost(t *testing.T) {
	d := New(DefaultConfig(), discard())

	be := d.BreakEvenPairCost()
	require.True(t, be.LessThan(decimal.NewFromInt(1)))

	// At the break-even cost, net profit computes to exactly zero.
	one := decimal.NewFromInt(1)
	gross := one.Sub(be)
	fee := dec("0.01").Mul(decimal.NewFromInt(2).Sub(be))
	net := gross.Sub(fee).Sub(dec("0.014"))
	require.True(t, net.Round(12).IsZero(), "net at break-even: %s", net)
}
