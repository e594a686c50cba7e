// Package book holds the per-token price-level model and the depth-walking
// fill simulator. Books are pure data structures with no I/O; the feed owns
// all mutation and the detector reads consistent copies via the Registry.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// Book is the live price-level state for one outcome token. Bids are kept
// sorted descending, asks ascending. Crossed books are tolerated: a
// transient best-bid above best-ask is market noise, not an error.
//
// Book is not safe for concurrent use; the Registry enforces the
// single-writer discipline.
type Book struct {
	TokenID   string
	bids      []domain.PriceLevel // sorted descending by price
	asks      []domain.PriceLevel // sorted ascending by price
	UpdatedAt time.Time
}

// FillSimulation is the result of walking book depth for a target size.
// Produced fresh per call and never mutated.
type FillSimulation struct {
	Filled          decimal.Decimal
	TotalCost       decimal.Decimal
	VWAP            decimal.Decimal
	WorstPrice      decimal.Decimal
	BestPrice       decimal.Decimal
	SufficientDepth bool
}

// New returns an empty book for the given token.
func New(tokenID string) *Book {
	return &Book{TokenID: tokenID}
}

// ApplySnapshot replaces both sides wholesale. Levels with non-positive
// size or price are dropped; surviving levels are re-sorted.
func (b *Book) ApplySnapshot(bids, asks []domain.PriceLevel, ts time.Time) {
	b.bids = sanitize(bids)
	b.asks = sanitize(asks)
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price.GreaterThan(b.bids[j].Price) })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price.LessThan(b.asks[j].Price) })
	b.UpdatedAt = ts
}

// ApplyDelta upserts a single level. Size zero or below removes the level.
func (b *Book) ApplyDelta(side domain.BookSide, price, size decimal.Decimal, ts time.Time) {
	if !price.IsPositive() {
		return
	}
	switch side {
	case domain.BookSideBid:
		b.bids = upsert(b.bids, price, size, func(a, c decimal.Decimal) bool { return a.GreaterThan(c) })
	case domain.BookSideAsk:
		b.asks = upsert(b.asks, price, size, func(a, c decimal.Decimal) bool { return a.LessThan(c) })
	}
	b.UpdatedAt = ts
}

// BestBid returns the top resting bid, or ok=false when the side is empty.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].Price, true
}

// BestAsk returns the top resting ask, or ok=false when the side is empty.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].Price, true
}

// Spread returns best-ask minus best-bid. ok=false when either side is
// empty. The result can be negative while the book is crossed.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns the midpoint of best bid and ask, ok=false when either
// side is empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// SimulateFill walks price levels from best outward, accumulating size until
// target is met or the walked side is exhausted. Buying walks asks, selling
// walks bids. ok=false signals "cannot simulate": empty side or non-positive
// target, which is distinct from a zero fill. The book is never mutated.
func (b *Book) SimulateFill(side domain.OrderSide, target decimal.Decimal) (FillSimulation, bool) {
	var levels []domain.PriceLevel
	switch side {
	case domain.OrderSideBuy:
		levels = b.asks
	case domain.OrderSideSell:
		levels = b.bids
	}
	if len(levels) == 0 || !target.IsPositive() {
		return FillSimulation{}, false
	}

	var sim FillSimulation
	sim.BestPrice = levels[0].Price
	remaining := target
	for _, lvl := range levels {
		take := decimal.Min(remaining, lvl.Size)
		sim.Filled = sim.Filled.Add(take)
		sim.TotalCost = sim.TotalCost.Add(take.Mul(lvl.Price))
		sim.WorstPrice = lvl.Price
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			break
		}
	}
	if sim.Filled.IsPositive() {
		sim.VWAP = sim.TotalCost.Div(sim.Filled)
	}
	sim.SufficientDepth = sim.Filled.GreaterThanOrEqual(target)
	return sim, true
}

// DepthAt sums the resting size at or better than the given price on one
// side: asks at or below for buys, bids at or above for sells.
func (b *Book) DepthAt(side domain.OrderSide, price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	switch side {
	case domain.OrderSideBuy:
		for _, lvl := range b.asks {
			if lvl.Price.GreaterThan(price) {
				break
			}
			total = total.Add(lvl.Size)
		}
	case domain.OrderSideSell:
		for _, lvl := range b.bids {
			if lvl.Price.LessThan(price) {
				break
			}
			total = total.Add(lvl.Size)
		}
	}
	return total
}

// TotalDepth sums all resting size on one side.
func (b *Book) TotalDepth(side domain.OrderSide) decimal.Decimal {
	var levels []domain.PriceLevel
	if side == domain.OrderSideBuy {
		levels = b.asks
	} else {
		levels = b.bids
	}
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
	}
	return total
}

// Levels returns a copy of one side's levels, best first.
func (b *Book) Levels(side domain.BookSide) []domain.PriceLevel {
	var src []domain.PriceLevel
	if side == domain.BookSideBid {
		src = b.bids
	} else {
		src = b.asks
	}
	out := make([]domain.PriceLevel, len(src))
	copy(out, src)
	return out
}

// Empty reports whether both sides have no levels.
func (b *Book) Empty() bool {
	return len(b.bids) == 0 && len(b.asks) == 0
}

// Clone returns an independent copy safe to read after the original
// continues mutating.
func (b *Book) Clone() *Book {
	c := &Book{TokenID: b.TokenID, UpdatedAt: b.UpdatedAt}
	c.bids = make([]domain.PriceLevel, len(b.bids))
	copy(c.bids, b.bids)
	c.asks = make([]domain.PriceLevel, len(b.asks))
	copy(c.asks, b.asks)
	return c
}

// Snapshot projects the book onto its wire form.
func (b *Book) Snapshot() domain.BookUpdate {
	return domain.BookUpdate{
		TokenID:   b.TokenID,
		Bids:      b.Levels(domain.BookSideBid),
		Asks:      b.Levels(domain.BookSideAsk),
		Timestamp: b.UpdatedAt,
	}
}

func sanitize(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price.IsPositive() && lvl.Size.IsPositive() {
			out = append(out, lvl)
		}
	}
	return out
}

// upsert replaces or inserts a level keeping the slice sorted by better().
// Non-positive size removes the level.
func upsert(levels []domain.PriceLevel, price, size decimal.Decimal, better func(a, b decimal.Decimal) bool) []domain.PriceLevel {
	idx := -1
	for i, lvl := range levels {
		if lvl.Price.Equal(price) {
			idx = i
			break
		}
	}
	if !size.IsPositive() {
		if idx >= 0 {
			return append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}
	if idx >= 0 {
		levels[idx].Size = size
		return levels
	}
	pos := len(levels)
	for i, lvl := range levels {
		if better(price, lvl.Price) {
			pos = i
			break
		}
	}
	levels = append(levels, domain.PriceLevel{})
	copy(levels[pos+1:], levels[pos:])
	levels[pos] = domain.PriceLevel{Price: price, Size: size}
	return levels
}
