// Package executor submits paired legs as a single logical unit, enforces
// the hard risk gates, and reconciles the three possible fill outcomes so
// no code path leaves a one-sided, uncapped-risk position.
package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// VenuePosition is one holding reported by the venue's account state.
type VenuePosition struct {
	TokenID  string
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

// Venue is the execution capability implemented once per exchange. The
// executor depends only on this abstraction; transport, signing, and
// authentication live behind it.
type Venue interface {
	// SubmitOrdersBatch places all orders together, as close to
	// simultaneously as the venue allows, returning one result per order
	// in input order.
	SubmitOrdersBatch(ctx context.Context, orders []domain.OrderSpec) ([]domain.OrderResult, error)
	// WaitForTerminal blocks until the order reaches a terminal status or
	// the timeout elapses, returning whichever status is known then.
	WaitForTerminal(ctx context.Context, orderID string, timeout time.Duration) (domain.OrderResult, error)
	// GetOrderStatus is a point-in-time status query with no waiting.
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error)
	// CancelOrder requests best-effort cancellation.
	CancelOrder(ctx context.Context, orderID string) error
	// GetBalance returns spendable balance for the balance-margin gate.
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	// GetPositions returns current holdings for reconciliation.
	GetPositions(ctx context.Context) ([]VenuePosition, error)
}

// Alerter delivers urgent operator notifications. Satisfied by
// notify.Notifier; nil-able for tests.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}
