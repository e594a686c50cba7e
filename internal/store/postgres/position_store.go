package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore on the shared client.
func NewPositionStore(c *Client) *PositionStore {
	return &PositionStore{pool: c.pool}
}

const positionSelectCols = `id, pair_id,
	leg1_market_id, leg1_token_id, leg1_size, leg1_cost, leg1_avg_price,
	leg2_market_id, leg2_token_id, leg2_size, leg2_cost, leg2_avg_price,
	pair_cost, guaranteed_payout, imbalance, realized_pnl,
	status, opened_at, settled_at`

func scanPositionRow(row pgx.Row) (domain.ArbitragePosition, error) {
	var p domain.ArbitragePosition
	var status string

	err := row.Scan(
		&p.ID, &p.PairID,
		&p.Leg1.MarketID, &p.Leg1.TokenID, &p.Leg1.Size, &p.Leg1.Cost, &p.Leg1.AvgPrice,
		&p.Leg2.MarketID, &p.Leg2.TokenID, &p.Leg2.Size, &p.Leg2.Cost, &p.Leg2.AvgPrice,
		&p.PairCost, &p.GuaranteedPayout, &p.Imbalance, &p.RealizedPnL,
		&status, &p.OpenedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.ArbitragePosition{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.ArbitragePosition, error) {
	var positions []domain.ArbitragePosition
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new paired position.
func (s *PositionStore) Create(ctx context.Context, p domain.ArbitragePosition) error {
	const query = `
		INSERT INTO positions (
			id, pair_id,
			leg1_market_id, leg1_token_id, leg1_size, leg1_cost, leg1_avg_price,
			leg2_market_id, leg2_token_id, leg2_size, leg2_cost, leg2_avg_price,
			pair_cost, guaranteed_payout, imbalance, realized_pnl,
			status, opened_at, settled_at, updated_at
		) VALUES (
			$1, $2,
			$3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.PairID,
		p.Leg1.MarketID, p.Leg1.TokenID, p.Leg1.Size, p.Leg1.Cost, p.Leg1.AvgPrice,
		p.Leg2.MarketID, p.Leg2.TokenID, p.Leg2.Size, p.Leg2.Cost, p.Leg2.AvgPrice,
		p.PairCost, p.GuaranteedPayout, p.Imbalance, p.RealizedPnL,
		string(p.Status), p.OpenedAt, p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.ArbitragePosition) error {
	const query = `
		UPDATE positions SET
			pair_id           = $2,
			leg1_market_id    = $3,
			leg1_token_id     = $4,
			leg1_size         = $5,
			leg1_cost         = $6,
			leg1_avg_price    = $7,
			leg2_market_id    = $8,
			leg2_token_id     = $9,
			leg2_size         = $10,
			leg2_cost         = $11,
			leg2_avg_price    = $12,
			pair_cost         = $13,
			guaranteed_payout = $14,
			imbalance         = $15,
			realized_pnl      = $16,
			status            = $17,
			settled_at        = $18,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.PairID,
		p.Leg1.MarketID, p.Leg1.TokenID, p.Leg1.Size, p.Leg1.Cost, p.Leg1.AvgPrice,
		p.Leg2.MarketID, p.Leg2.TokenID, p.Leg2.Size, p.Leg2.Cost, p.Leg2.AvgPrice,
		p.PairCost, p.GuaranteedPayout, p.Imbalance, p.RealizedPnL,
		string(p.Status), p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions a position's status without touching the fills.
// Terminal statuses also stamp settled_at.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	query := `
		UPDATE positions SET
			status     = $2,
			updated_at = NOW()
		WHERE id = $1`
	if status.Terminal() {
		query = `
		UPDATE positions SET
			status     = $2,
			settled_at = NOW(),
			updated_at = NOW()
		WHERE id = $1`
	}

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update position %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.ArbitragePosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ArbitragePosition{}, domain.ErrNotFound
		}
		return domain.ArbitragePosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByStatus returns positions in the given status with pagination and
// optional time filtering.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.ArbitragePosition, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by status: %w", err)
	}
	return positions, nil
}

// ListRecent returns the most recently opened positions regardless of status.
func (s *PositionStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitragePosition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 ORDER BY opened_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent positions: %w", err)
	}
	return positions, nil
}

// SumRealizedPnL totals realized P&L across terminal positions opened at or
// after the given time.
func (s *PositionStore) SumRealizedPnL(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions
		 WHERE status IN ('settled', 'unwound') AND opened_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	return sum, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
