package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfall/crossarb/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL. One row per
// UTC day keeps the daily loss accumulator and failure counter across
// restarts.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore on the shared client.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{pool: c.pool}
}

// Load fetches the risk session for the given UTC day.
func (s *SessionStore) Load(ctx context.Context, day string) (domain.RiskSession, error) {
	var sess domain.RiskSession
	err := s.pool.QueryRow(ctx,
		`SELECT day, realized_pnl, consecutive_failures, last_attempt_at, halted, updated_at
		 FROM risk_sessions WHERE day = $1`, day,
	).Scan(
		&sess.Day, &sess.RealizedPnL, &sess.ConsecutiveFailures,
		&sess.LastAttemptAt, &sess.Halted, &sess.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RiskSession{}, domain.ErrNotFound
		}
		return domain.RiskSession{}, fmt.Errorf("postgres: load risk session %s: %w", day, err)
	}
	return sess, nil
}

// Save upserts the risk session keyed by day.
func (s *SessionStore) Save(ctx context.Context, sess domain.RiskSession) error {
	const query = `
		INSERT INTO risk_sessions (day, realized_pnl, consecutive_failures, last_attempt_at, halted, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (day) DO UPDATE SET
			realized_pnl         = EXCLUDED.realized_pnl,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_attempt_at      = EXCLUDED.last_attempt_at,
			halted               = EXCLUDED.halted,
			updated_at           = NOW()`

	_, err := s.pool.Exec(ctx, query,
		sess.Day, sess.RealizedPnL, sess.ConsecutiveFailures,
		sess.LastAttemptAt, sess.Halted,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk session %s: %w", sess.Day, err)
	}
	return nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
