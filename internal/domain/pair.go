package domain

import (
	"fmt"
	"time"
)

// LegDirection is the outcome bought on one market of a pair.
type LegDirection string

const (
	LegDirectionUp   LegDirection = "up"
	LegDirectionDown LegDirection = "down"
)

// Opposite returns the other direction.
func (d LegDirection) Opposite() LegDirection {
	if d == LegDirectionUp {
		return LegDirectionDown
	}
	return LegDirectionUp
}

// PairLeg identifies the outcome token bought on one of the two markets.
type PairLeg struct {
	MarketID  string
	TokenID   string
	Asset     string // underlying symbol, e.g. "BTC"
	Direction LegDirection
}

// MarketPair is one paired-arbitrage instrument: two correlated
// binary-outcome markets where exactly one leg settles at 1 per share.
type MarketPair struct {
	ID       string
	Leg1     PairLeg
	Leg2     PairLeg
	WindowID string // settlement window the two markets share
	Expiry   time.Time
}

// Key returns a stable identifier derived from the two legs, used where no
// explicit ID was assigned.
func (p MarketPair) Key() string {
	return fmt.Sprintf("%s-%s:%s-%s", p.Leg1.Asset, p.Leg1.Direction, p.Leg2.Asset, p.Leg2.Direction)
}

// TokenIDs returns both legs' outcome-token IDs, leg1 first.
func (p MarketPair) TokenIDs() (string, string) {
	return p.Leg1.TokenID, p.Leg2.TokenID
}

// PairCombinations enumerates the direction combinations worth monitoring
// for two correlated markets. For positively correlated underlyings the
// opposing combinations (up/down, down/up) hedge each other.
func PairCombinations() [][2]LegDirection {
	return [][2]LegDirection{
		{LegDirectionUp, LegDirectionDown},
		{LegDirectionDown, LegDirectionUp},
	}
}

// PairResolution reports how a pair's settlement window resolved. Exactly one
// winning leg pays 1 per share.
type PairResolution struct {
	PairID     string
	WinningLeg int // 1 or 2
	ResolvedAt time.Time
}
