package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// Registry owns the live books, one per subscribed outcome token. The feed
// goroutine is the only writer; readers get independent clones so the
// detector never observes a book mid-mutation.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewRegistry returns an empty registry. Books are created lazily on the
// first update for a token.
func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*Book)}
}

// ApplySnapshot replaces the named token's book from a full update.
func (r *Registry) ApplySnapshot(u domain.BookUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[u.TokenID]
	if !ok {
		b = New(u.TokenID)
		r.books[u.TokenID] = b
	}
	b.ApplySnapshot(u.Bids, u.Asks, u.Timestamp)
}

// ApplyDelta applies an incremental level update. Deltas for tokens without
// a prior snapshot create the book, matching venue feeds that omit an
// initial snapshot for quiet markets.
func (r *Registry) ApplyDelta(d domain.BookDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[d.TokenID]
	if !ok {
		b = New(d.TokenID)
		r.books[d.TokenID] = b
	}
	b.ApplyDelta(d.Side, d.Price, d.Size, d.Timestamp)
}

// Get returns an independent clone of the token's book, or ok=false when
// the token was never seen.
func (r *Registry) Get(tokenID string) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[tokenID]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// GetPair returns clones of both legs' books, ok=false unless both exist.
func (r *Registry) GetPair(token1, token2 string) (*Book, *Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b1, ok1 := r.books[token1]
	b2, ok2 := r.books[token2]
	if !ok1 || !ok2 {
		return nil, nil, false
	}
	return b1.Clone(), b2.Clone(), true
}

// Drop removes a token's book, typically when its market resolves.
func (r *Registry) Drop(tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, tokenID)
}

// Tokens returns the token IDs with a live book.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for id := range r.books {
		out = append(out, id)
	}
	return out
}

// StaleTokens returns the tokens whose book has not been updated since the
// cutoff. The detector skips pairs with a stale leg.
func (r *Registry) StaleTokens(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, b := range r.books {
		if b.UpdatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Top returns the named token's top-of-book, ok=false when unknown.
func (r *Registry) Top(tokenID string) (domain.TopOfBook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[tokenID]
	if !ok {
		return domain.TopOfBook{}, false
	}
	top := domain.TopOfBook{TokenID: tokenID, Timestamp: b.UpdatedAt}
	if bid, ok := b.BestBid(); ok {
		top.BestBid, top.HasBid = bid, true
	} else {
		top.BestBid = decimal.Zero
	}
	if ask, ok := b.BestAsk(); ok {
		top.BestAsk, top.HasAsk = ask, true
	} else {
		top.BestAsk = decimal.Zero
	}
	return top, true
}
