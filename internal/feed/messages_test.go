package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantfall/crossarb/internal/domain"
)

func TestBookMessageToUpdate(t *testing.T) {
	raw := `{
		"event_type": "book",
		"asset_id": "tok-up",
		"bids": [{"price": "0.55", "size": "120"}, {"price": "0.54", "size": "300"}],
		"asks": [{"price": "0.56", "size": "90"}],
		"timestamp": "1756400000000"
	}`

	var msg bookMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	update := msg.toBookUpdate()
	require.Equal(t, "tok-up", update.TokenID)
	require.Len(t, update.Bids, 2)
	require.Len(t, update.Asks, 1)
	require.Equal(t, "0.55", update.Bids[0].Price.String())
	require.Equal(t, "120", update.Bids[0].Size.String())
	require.Equal(t, time.UnixMilli(1756400000000).UTC(), update.Timestamp)
}

func TestParseLevelsDropsUnparseableEntries(t *testing.T) {
	levels := parseLevels([]wireLevel{
		{Price: "0.42", Size: "10"},
		{Price: "not-a-number", Size: "10"},
		{Price: "0.43", Size: ""},
	})
	require.Len(t, levels, 1)
	require.Equal(t, "0.42", levels[0].Price.String())
}

func TestPriceChangeSideNormalization(t *testing.T) {
	cases := []struct {
		wire string
		want domain.BookSide
	}{
		{"bid", domain.BookSideBid},
		{"bids", domain.BookSideBid},
		{"BUY", domain.BookSideBid},
		{"ask", domain.BookSideAsk},
		{"SELL", domain.BookSideAsk},
	}
	for _, tc := range cases {
		msg := priceChangeMessage{
			AssetID: "tok-up",
			Side:    tc.wire,
			Price:   "0.51",
			Size:    "25",
		}
		delta, err := msg.toBookDelta()
		require.NoError(t, err, "side %q", tc.wire)
		require.Equal(t, tc.want, delta.Side, "side %q", tc.wire)
	}

	bad := priceChangeMessage{AssetID: "tok-up", Side: "sideways", Price: "0.5", Size: "1"}
	_, err := bad.toBookDelta()
	require.Error(t, err)
}

func TestParseTimestampFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	got := parseTimestamp("garbage")
	require.False(t, got.Before(before.Add(-time.Second)))

	rfc := parseTimestamp("2026-08-29T12:00:00Z")
	require.Equal(t, 2026, rfc.Year())
}
