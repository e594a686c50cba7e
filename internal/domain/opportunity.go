package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbitrageOpportunity is a sized, fee-adjusted trade candidate derived from
// a consistent snapshot of both legs' books. Immutable once returned by the
// detector; only executed-upon candidates produce durable records.
//
// Prices are the worst-case fill prices from depth simulation, not
// top-of-book, so PairCost is the conservative executable cost.
type ArbitrageOpportunity struct {
	Pair          MarketPair
	Leg1WorstFill decimal.Decimal
	Leg2WorstFill decimal.Decimal
	PairCost      decimal.Decimal // Leg1WorstFill + Leg2WorstFill, always < 1
	GrossProfit   decimal.Decimal // per share: 1 - PairCost
	ExpectedFee   decimal.Decimal // per share, payout-side fee on settlement value
	NetProfit     decimal.Decimal // per share, after fee and per-leg txn costs
	ROIPercent    decimal.Decimal // NetProfit / PairCost * 100
	Size          decimal.Decimal // shares per leg
	Investment    decimal.Decimal // PairCost * Size
	Payout        decimal.Decimal // guaranteed payout at settlement: Size
	Leg1Depth     decimal.Decimal // available buy-side depth on leg 1
	Leg2Depth     decimal.Decimal
	RiskScore     float64 // [0,1] advisory heuristic, never gates execution
	DetectedAt    time.Time
}

// TotalProfit is the net profit across the whole recommended size.
func (o ArbitrageOpportunity) TotalProfit() decimal.Decimal {
	return o.NetProfit.Mul(o.Size)
}
