package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// PaperVenue is a deterministic in-process Venue for paper trading and
// tests. Buys fill instantly at their limit price, sells at the midpoint
// between the limit and the position's average cost, and balance and
// holdings are tracked like a real account.
type PaperVenue struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	holdings  map[string]VenuePosition
	orders    map[string]domain.OrderResult
	rejectAll bool
	logger    *slog.Logger
}

// NewPaperVenue creates a paper venue seeded with the given balance.
func NewPaperVenue(balance decimal.Decimal, logger *slog.Logger) *PaperVenue {
	return &PaperVenue{
		balance:  balance,
		holdings: make(map[string]VenuePosition),
		orders:   make(map[string]domain.OrderResult),
		logger:   logger.With(slog.String("component", "paper_venue")),
	}
}

// SetRejectAll makes every subsequent order reject, simulating a venue
// outage for drills.
func (v *PaperVenue) SetRejectAll(reject bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectAll = reject
}

// SubmitOrdersBatch fills or rejects every order synchronously.
func (v *PaperVenue) SubmitOrdersBatch(ctx context.Context, orders []domain.OrderSpec) ([]domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	results := make([]domain.OrderResult, 0, len(orders))
	for _, spec := range orders {
		results = append(results, v.fill(spec))
	}
	return results, nil
}

func (v *PaperVenue) fill(spec domain.OrderSpec) domain.OrderResult {
	res := domain.OrderResult{
		OrderID:   uuid.New().String(),
		TokenID:   spec.TokenID,
		UpdatedAt: time.Now().UTC(),
	}
	defer func() { v.orders[res.OrderID] = res }()

	if v.rejectAll {
		res.Status = domain.OrderStatusRejected
		res.Message = "paper venue rejecting all orders"
		return res
	}

	switch spec.Side {
	case domain.OrderSideBuy:
		cost := spec.Price.Mul(spec.Size)
		if cost.GreaterThan(v.balance) {
			res.Status = domain.OrderStatusRejected
			res.Message = "insufficient paper balance"
			return res
		}
		v.balance = v.balance.Sub(cost)
		h := v.holdings[spec.TokenID]
		newSize := h.Size.Add(spec.Size)
		h.AvgPrice = h.AvgPrice.Mul(h.Size).Add(cost).Div(newSize)
		h.Size = newSize
		h.TokenID = spec.TokenID
		v.holdings[spec.TokenID] = h
		res.Status = domain.OrderStatusFilled
		res.FilledSize = spec.Size
		res.AvgFillPrice = spec.Price

	case domain.OrderSideSell:
		h := v.holdings[spec.TokenID]
		if h.Size.LessThan(spec.Size) {
			res.Status = domain.OrderStatusRejected
			res.Message = "insufficient paper holdings"
			return res
		}
		// An aggressive exit trades through the book: assume it clears
		// halfway between cost basis and the floor, a pessimistic-enough
		// paper fill.
		px := h.AvgPrice.Add(spec.Price).Div(decimal.NewFromInt(2))
		proceeds := px.Mul(spec.Size)
		v.balance = v.balance.Add(proceeds)
		h.Size = h.Size.Sub(spec.Size)
		v.holdings[spec.TokenID] = h
		res.Status = domain.OrderStatusFilled
		res.FilledSize = spec.Size
		res.AvgFillPrice = px
	}
	return res
}

// WaitForTerminal returns immediately: paper orders are always terminal.
func (v *PaperVenue) WaitForTerminal(ctx context.Context, orderID string, timeout time.Duration) (domain.OrderResult, error) {
	return v.GetOrderStatus(ctx, orderID)
}

// GetOrderStatus returns the recorded result for the order.
func (v *PaperVenue) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	res, ok := v.orders[orderID]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("paper venue: order %s: %w", orderID, domain.ErrNotFound)
	}
	return res, nil
}

// CancelOrder is a no-op: paper orders never rest.
func (v *PaperVenue) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

// GetBalance returns the remaining paper balance.
func (v *PaperVenue) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, nil
}

// GetPositions returns current non-zero holdings.
func (v *PaperVenue) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]VenuePosition, 0, len(v.holdings))
	for _, h := range v.holdings {
		if h.Size.IsPositive() {
			out = append(out, h)
		}
	}
	return out, nil
}

var _ Venue = (*PaperVenue)(nil)
