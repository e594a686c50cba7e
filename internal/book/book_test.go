package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/crossarb/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, size string) domain.PriceLevel {
	return domain.PriceLevel{Price: dec(price), Size: dec(size)}
}

func TestApplySnapshotReplacesPriorState(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot(
		[]domain.PriceLevel{lvl("0.30", "10")},
		[]domain.PriceLevel{lvl("0.50", "10"), lvl("0.60", "5")},
		time.Now(),
	)
	b.ApplySnapshot(
		[]domain.PriceLevel{lvl("0.35", "20")},
		[]domain.PriceLevel{lvl("0.55", "8")},
		time.Now(),
	)

	require.Len(t, b.Levels(domain.BookSideBid), 1)
	require.Len(t, b.Levels(domain.BookSideAsk), 1)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	require.True(t, ask.Equal(dec("0.55")))
}

func TestApplySnapshotDropsNonPositiveLevelsAndSorts(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot(
		[]domain.PriceLevel{lvl("0.20", "5"), lvl("0.30", "0"), lvl("0.25", "7")},
		[]domain.PriceLevel{lvl("0.60", "4"), lvl("0.50", "9"), lvl("0.70", "-1")},
		time.Now(),
	)

	bids := b.Levels(domain.BookSideBid)
	require.Len(t, bids, 2)
	require.True(t, bids[0].Price.Equal(dec("0.25"))) // descending

	asks := b.Levels(domain.BookSideAsk)
	require.Len(t, asks, 1)
	require.True(t, asks[0].Price.Equal(dec("0.50"))) // ascending, 0.70 dropped
}

func TestApplyDeltaUpsertAndRemove(t *testing.T) {
	b := New("tok")
	now := time.Now()
	b.ApplyDelta(domain.BookSideAsk, dec("0.50"), dec("10"), now)
	b.ApplyDelta(domain.BookSideAsk, dec("0.45"), dec("5"), now)
	b.ApplyDelta(domain.BookSideAsk, dec("0.50"), dec("20"), now) // update in place

	asks := b.Levels(domain.BookSideAsk)
	require.Len(t, asks, 2)
	require.True(t, asks[0].Price.Equal(dec("0.45")))
	require.True(t, asks[1].Size.Equal(dec("20")))

	// Size zero removes the level.
	b.ApplyDelta(domain.BookSideAsk, dec("0.45"), decimal.Zero, now)
	asks = b.Levels(domain.BookSideAsk)
	require.Len(t, asks, 1)
	require.True(t, asks[0].Price.Equal(dec("0.50")))

	// Removing an absent level is a no-op.
	b.ApplyDelta(domain.BookSideBid, dec("0.10"), decimal.Zero, now)
	require.Empty(t, b.Levels(domain.BookSideBid))
}

func TestSimulateFillWalksDepth(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot(nil, []domain.PriceLevel{
		lvl("0.40", "50"),
		lvl("0.45", "100"),
	}, time.Now())

	sim, ok := b.SimulateFill(domain.OrderSideBuy, dec("120"))
	require.True(t, ok)
	require.True(t, sim.Filled.Equal(dec("120")), "filled %s", sim.Filled)
	require.True(t, sim.WorstPrice.Equal(dec("0.45")))
	require.True(t, sim.BestPrice.Equal(dec("0.40")))
	require.True(t, sim.SufficientDepth)

	// 50*0.40 + 70*0.45 = 51.50
	require.True(t, sim.TotalCost.Equal(dec("51.50")), "cost %s", sim.TotalCost)
	require.True(t, sim.VWAP.Equal(dec("51.50").Div(dec("120"))))
}

func TestSimulateFillInsufficientDepth(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot(nil, []domain.PriceLevel{lvl("0.40", "50")}, time.Now())

	sim, ok := b.SimulateFill(domain.OrderSideBuy, dec("80"))
	require.True(t, ok)
	require.True(t, sim.Filled.Equal(dec("50")))
	require.False(t, sim.SufficientDepth)
}

func TestSimulateFillCannotSimulate(t *testing.T) {
	b := New("tok")

	_, ok := b.SimulateFill(domain.OrderSideBuy, dec("10"))
	require.False(t, ok, "empty side must not simulate")

	b.ApplySnapshot(nil, []domain.PriceLevel{lvl("0.40", "50")}, time.Now())
	_, ok = b.SimulateFill(domain.OrderSideBuy, decimal.Zero)
	require.False(t, ok, "non-positive target must not simulate")
	_, ok = b.SimulateFill(domain.OrderSideBuy, dec("-5"))
	require.False(t, ok)
}

func TestSimulateFillIdempotentAndNonMutating(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot(
		[]domain.PriceLevel{lvl("0.35", "30")},
		[]domain.PriceLevel{lvl("0.40", "50"), lvl("0.45", "100")},
		time.Now(),
	)

	first, ok := b.SimulateFill(domain.OrderSideBuy, dec("120"))
	require.True(t, ok)
	second, ok := b.SimulateFill(domain.OrderSideBuy, dec("120"))
	require.True(t, ok)
	require.Equal(t, first, second)

	require.Len(t, b.Levels(domain.BookSideAsk), 2)
	require.True(t, b.Levels(domain.BookSideAsk)[0].Size.Equal(dec("50")))
}

func TestSimulateFillSellSideWalksBids(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot([]domain.PriceLevel{
		lvl("0.60", "40"),
		lvl("0.55", "60"),
	}, nil, time.Now())

	sim, ok := b.SimulateFill(domain.OrderSideSell, dec("100"))
	require.True(t, ok)
	require.True(t, sim.Filled.Equal(dec("100")))
	require.True(t, sim.BestPrice.Equal(dec("0.60")))
	require.True(t, sim.WorstPrice.Equal(dec("0.55")))
}

func TestCrossedBookTolerated(t *testing.T) {
	b := New("tok")
	b.ApplySnapshot(
		[]domain.PriceLevel{lvl("0.55", "10")},
		[]domain.PriceLevel{lvl("0.50", "10")},
		time.Now(),
	)

	spread, ok := b.Spread()
	require.True(t, ok)
	require.True(t, spread.IsNegative())

	sim, ok := b.SimulateFill(domain.OrderSideBuy, dec("5"))
	require.True(t, ok)
	require.True(t, sim.SufficientDepth)
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.ApplySnapshot(domain.BookUpdate{
		TokenID:   "tok",
		Asks:      []domain.PriceLevel{lvl("0.40", "50")},
		Timestamp: time.Now(),
	})

	snap, ok := r.Get("tok")
	require.True(t, ok)

	// Later writes must not bleed into an already-taken snapshot.
	r.ApplyDelta(domain.BookDelta{
		TokenID: "tok",
		Side:    domain.BookSideAsk,
		Price:   dec("0.40"),
		Size:    decimal.Zero,
	})

	require.Len(t, snap.Levels(domain.BookSideAsk), 1)

	live, ok := r.Get("tok")
	require.True(t, ok)
	require.Empty(t, live.Levels(domain.BookSideAsk))
}

func TestRegistryGetPair(t *testing.T) {
	r := NewRegistry()
	r.ApplySnapshot(domain.BookUpdate{TokenID: "a", Asks: []domain.PriceLevel{lvl("0.40", "10")}})

	_, _, ok := r.GetPair("a", "b")
	require.False(t, ok)

	r.ApplySnapshot(domain.BookUpdate{TokenID: "b", Asks: []domain.PriceLevel{lvl("0.50", "10")}})
	b1, b2, ok := r.GetPair("a", "b")
	require.True(t, ok)
	require.Equal(t, "a", b1.TokenID)
	require.Equal(t, "b", b2.TokenID)
}

func TestStaleTokens(t *testing.T) {
	r := NewRegistry()
	old := time.Now().Add(-time.Minute)
	r.ApplySnapshot(domain.BookUpdate{TokenID: "old", Timestamp: old})
	r.ApplySnapshot(domain.BookUpdate{TokenID: "fresh", Timestamp: time.Now()})

	stale := r.StaleTokens(time.Now().Add(-10 * time.Second))
	require.Equal(t, []string{"old"}, stale)
}
