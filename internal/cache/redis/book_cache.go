package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes.
// Prices and sizes are stored as decimal strings so the exact values survive
// the round trip; the sorted-set score is only used for ordering.
//
// Key schema:
//
//	book:{tokenID}:bids     - sorted set of bid price strings (score = price)
//	book:{tokenID}:asks     - sorted set of ask price strings (score = price)
//	book:{tokenID}:bid:size - hash mapping price string -> size string
//	book:{tokenID}:ask:size - hash mapping price string -> size string
//	book:{tokenID}:top      - hash with "bid", "ask", and "ts" fields
//	book:{tokenID}:meta     - hash with "ts" field (snapshot timestamp)
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.rdb}
}

func bookBidsKey(tokenID string) string    { return "book:" + tokenID + ":bids" }
func bookAsksKey(tokenID string) string    { return "book:" + tokenID + ":asks" }
func bookBidSizeKey(tokenID string) string { return "book:" + tokenID + ":bid:size" }
func bookAskSizeKey(tokenID string) string { return "book:" + tokenID + ":ask:size" }
func bookTopKey(tokenID string) string     { return "book:" + tokenID + ":top" }
func bookMetaKey(tokenID string) string    { return "book:" + tokenID + ":meta" }

// SetSnapshot atomically replaces the cached book for a token. It clears
// existing data and repopulates both sides and the metadata hash in one
// transaction.
func (bc *BookCache) SetSnapshot(ctx context.Context, tokenID string, update domain.BookUpdate) error {
	bidsKey := bookBidsKey(tokenID)
	asksKey := bookAsksKey(tokenID)
	bidSizeKey := bookBidSizeKey(tokenID)
	askSizeKey := bookAskSizeKey(tokenID)
	metaKey := bookMetaKey(tokenID)

	pipe := bc.rdb.TxPipeline()

	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	for _, lvl := range update.Bids {
		priceStr := lvl.Price.String()
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: priceStr})
		pipe.HSet(ctx, bidSizeKey, priceStr, lvl.Size.String())
	}

	for _, lvl := range update.Asks {
		priceStr := lvl.Price.String()
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: priceStr})
		pipe.HSet(ctx, askSizeKey, priceStr, lvl.Size.String())
	}

	ts := update.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(ts.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", tokenID, err)
	}
	return nil
}

// GetSnapshot reconstructs a full BookUpdate from Redis. It returns
// domain.ErrNotFound if no snapshot data exists for the token.
func (bc *BookCache) GetSnapshot(ctx context.Context, tokenID string) (domain.BookUpdate, error) {
	pipe := bc.rdb.Pipeline()

	// Bids descending, asks ascending.
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(tokenID), 0, -1)
	asksCmd := pipe.ZRange(ctx, bookAsksKey(tokenID), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(tokenID))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(tokenID))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(tokenID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.BookUpdate{}, fmt.Errorf("redis: get book snapshot %s: %w", tokenID, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.BookUpdate{}, domain.ErrNotFound
	}

	update := domain.BookUpdate{TokenID: tokenID}

	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			update.Timestamp = time.Unix(0, tsNano).UTC()
		}
	}

	bidSizes, _ := bidSizeCmd.Result()
	bidMembers, _ := bidsCmd.Result()
	update.Bids = buildLevels(bidMembers, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	askMembers, _ := asksCmd.Result()
	update.Asks = buildLevels(askMembers, askSizes)

	return update, nil
}

// buildLevels reassembles price levels from sorted-set members and the size
// hash, parsing the stored decimal strings exactly. Levels whose price or
// size no longer parses are skipped.
func buildLevels(members []string, sizes map[string]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(members))
	for _, priceStr := range members {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		sizeStr, ok := sizes[priceStr]
		if !ok {
			continue
		}
		size, err := decimal.NewFromString(sizeStr)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// SetTop publishes the best bid and ask for a token. Absent sides are
// removed from the hash so readers do not see stale prices.
func (bc *BookCache) SetTop(ctx context.Context, top domain.TopOfBook) error {
	key := bookTopKey(top.TokenID)

	pipe := bc.rdb.TxPipeline()
	if top.HasBid {
		pipe.HSet(ctx, key, "bid", top.BestBid.String())
	} else {
		pipe.HDel(ctx, key, "bid")
	}
	if top.HasAsk {
		pipe.HSet(ctx, key, "ask", top.BestAsk.String())
	} else {
		pipe.HDel(ctx, key, "ask")
	}
	ts := top.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	pipe.HSet(ctx, key, "ts", strconv.FormatInt(ts.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set top of book %s: %w", top.TokenID, err)
	}
	return nil
}

// GetTop retrieves the best bid and ask for a token. It returns
// domain.ErrNotFound if no top-of-book data exists.
func (bc *BookCache) GetTop(ctx context.Context, tokenID string) (domain.TopOfBook, error) {
	vals, err := bc.rdb.HGetAll(ctx, bookTopKey(tokenID)).Result()
	if err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: get top of book %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return domain.TopOfBook{}, domain.ErrNotFound
	}

	top := domain.TopOfBook{TokenID: tokenID}
	if bidStr, ok := vals["bid"]; ok {
		if bid, err := decimal.NewFromString(bidStr); err == nil {
			top.BestBid = bid
			top.HasBid = true
		}
	}
	if askStr, ok := vals["ask"]; ok {
		if ask, err := decimal.NewFromString(askStr); err == nil {
			top.BestAsk = ask
			top.HasAsk = true
		}
	}
	if tsStr, ok := vals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			top.Timestamp = time.Unix(0, tsNano).UTC()
		}
	}
	return top, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
