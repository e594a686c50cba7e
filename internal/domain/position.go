package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks the lifecycle of a paired position.
type PositionStatus string

const (
	// PositionStatusBuilding means one or both legs are still accumulating.
	PositionStatusBuilding PositionStatus = "building"
	// PositionStatusComplete means both legs filled within imbalance tolerance.
	PositionStatusComplete PositionStatus = "complete"
	// PositionStatusSettling means the underlying markets resolved and payout is pending.
	PositionStatusSettling PositionStatus = "settling"
	// PositionStatusSettled is terminal; realized P&L is fixed.
	PositionStatusSettled PositionStatus = "settled"
	// PositionStatusUnwound is a terminal sibling of Settled: one leg was
	// forcibly closed after the other failed to fill.
	PositionStatusUnwound PositionStatus = "unwound"
)

// Terminal reports whether the status is final.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusSettled || s == PositionStatusUnwound
}

// LegFill records the executed state of one leg of a paired position.
type LegFill struct {
	MarketID string
	TokenID  string
	Size     decimal.Decimal
	Cost     decimal.Decimal
	AvgPrice decimal.Decimal
}

// ArbitragePosition is the durable record of an attempted or completed
// paired trade.
type ArbitragePosition struct {
	ID               string
	PairID           string
	Leg1             LegFill
	Leg2             LegFill
	PairCost         decimal.Decimal // leg1 avg + leg2 avg
	GuaranteedPayout decimal.Decimal // min(leg1 size, leg2 size)
	Imbalance        decimal.Decimal // leg1 size - leg2 size
	RealizedPnL      decimal.Decimal // fixed once Settled or Unwound
	Status           PositionStatus
	OpenedAt         time.Time
	SettledAt        *time.Time
}

// NewPosition builds a position from two leg fills, deriving pair cost,
// guaranteed payout, and imbalance.
func NewPosition(id, pairID string, leg1, leg2 LegFill, openedAt time.Time) ArbitragePosition {
	p := ArbitragePosition{
		ID:       id,
		PairID:   pairID,
		Leg1:     leg1,
		Leg2:     leg2,
		Status:   PositionStatusBuilding,
		OpenedAt: openedAt,
	}
	p.Recompute()
	return p
}

// Recompute refreshes the derived fields from the current leg fills.
func (p *ArbitragePosition) Recompute() {
	p.PairCost = p.Leg1.AvgPrice.Add(p.Leg2.AvgPrice)
	p.GuaranteedPayout = decimal.Min(p.Leg1.Size, p.Leg2.Size)
	p.Imbalance = p.Leg1.Size.Sub(p.Leg2.Size)
}

// TotalCost is the capital spent across both legs.
func (p ArbitragePosition) TotalCost() decimal.Decimal {
	return p.Leg1.Cost.Add(p.Leg2.Cost)
}

// GuaranteedProfit is the locked-in profit before fees: the guaranteed
// payout minus total cost. Negative when the position is imbalanced badly.
func (p ArbitragePosition) GuaranteedProfit() decimal.Decimal {
	return p.GuaranteedPayout.Sub(p.TotalCost())
}

// ImbalanceWithin reports whether the absolute share-count difference
// between the legs is within the given cap.
func (p ArbitragePosition) ImbalanceWithin(cap decimal.Decimal) bool {
	return p.Imbalance.Abs().LessThanOrEqual(cap)
}

// WinningLeg returns the leg that paid out, given a resolution.
func (p ArbitragePosition) WinningLeg(res PairResolution) LegFill {
	if res.WinningLeg == 1 {
		return p.Leg1
	}
	return p.Leg2
}
