package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus tracks the order lifecycle at the venue.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusUnknown   OrderStatus = "unknown"
)

// Terminal reports whether the status is final. Unknown is not terminal:
// it means a timeout elapsed before the venue confirmed anything.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// OrderSpec describes one order to be placed at a venue. Paired-leg orders
// are submitted with Type FOK so a leg either fills completely or not at all.
type OrderSpec struct {
	TokenID string
	Side    OrderSide
	Type    OrderType
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// OrderResult is the venue's view of a submitted order.
type OrderResult struct {
	OrderID      string
	TokenID      string
	Status       OrderStatus
	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	Message      string
	UpdatedAt    time.Time
}

// Filled reports whether the order filled completely.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}
