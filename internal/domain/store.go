package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists paired positions.
type PositionStore interface {
	Create(ctx context.Context, pos ArbitragePosition) error
	Update(ctx context.Context, pos ArbitragePosition) error
	UpdateStatus(ctx context.Context, id string, status PositionStatus) error
	GetByID(ctx context.Context, id string) (ArbitragePosition, error)
	ListByStatus(ctx context.Context, status PositionStatus, opts ListOpts) ([]ArbitragePosition, error)
	ListRecent(ctx context.Context, limit int) ([]ArbitragePosition, error)
	SumRealizedPnL(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// RiskSession is the executor's per-day risk state, persisted so a restart
// cannot reset the daily loss accumulator or the failure counter.
type RiskSession struct {
	Day                 string // UTC date, YYYY-MM-DD
	RealizedPnL         decimal.Decimal
	ConsecutiveFailures int
	LastAttemptAt       time.Time
	Halted              bool
	UpdatedAt           time.Time
}

// SessionStore persists the executor's risk session across restarts.
type SessionStore interface {
	Load(ctx context.Context, day string) (RiskSession, error)
	Save(ctx context.Context, s RiskSession) error
}
