package feed

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// wsCommand is the JSON command sent to the venue feed endpoint.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Assets  []string `json:"assets_ids"`
}

// wireLevel is a single price level on the wire. Venues quote prices and
// sizes as decimal strings.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookMessage is a full book snapshot for one token.
type bookMessage struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

// priceChangeMessage is an incremental single-level update.
type priceChangeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// parseLevels converts wire levels into domain levels, dropping entries that
// fail to parse rather than poisoning the whole snapshot.
func parseLevels(in []wireLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// parseTimestamp accepts RFC3339 or unix-millisecond timestamps, falling
// back to now for anything unparseable.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	var ms int64
	if _, err := fmt.Sscan(s, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}

// toBookUpdate converts a snapshot message to the domain type.
func (m *bookMessage) toBookUpdate() domain.BookUpdate {
	return domain.BookUpdate{
		TokenID:   m.AssetID,
		Bids:      parseLevels(m.Bids),
		Asks:      parseLevels(m.Asks),
		Timestamp: parseTimestamp(m.Timestamp),
	}
}

// toBookDelta converts a price change message to the domain type. Sides on
// the wire are either bid/ask or BUY/SELL depending on the venue.
func (m *priceChangeMessage) toBookDelta() (domain.BookDelta, error) {
	var side domain.BookSide
	switch m.Side {
	case "bid", "bids", "BUY", "buy":
		side = domain.BookSideBid
	case "ask", "asks", "SELL", "sell":
		side = domain.BookSideAsk
	default:
		return domain.BookDelta{}, fmt.Errorf("feed: unknown side %q", m.Side)
	}

	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return domain.BookDelta{}, fmt.Errorf("feed: parse price %q: %w", m.Price, err)
	}
	size, err := decimal.NewFromString(m.Size)
	if err != nil {
		return domain.BookDelta{}, fmt.Errorf("feed: parse size %q: %w", m.Size, err)
	}

	return domain.BookDelta{
		TokenID:   m.AssetID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: parseTimestamp(m.Timestamp),
	}, nil
}
