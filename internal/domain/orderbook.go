package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookSide identifies one side of an orderbook.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookUpdate is a full snapshot of bids and asks for an outcome token.
// It replaces all prior book state for that token.
type BookUpdate struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BookDelta is an incremental single-level update. Size zero (or negative)
// removes the level.
type BookDelta struct {
	TokenID   string
	Side      BookSide
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}

// TopOfBook is the best resting price on each side of a token's book.
// Either side may be absent when the book is one-sided.
type TopOfBook struct {
	TokenID   string
	BestBid   decimal.Decimal
	HasBid    bool
	BestAsk   decimal.Decimal
	HasAsk    bool
	Timestamp time.Time
}
