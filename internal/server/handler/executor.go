package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
)

// ExecutorControl is the narrow executor surface the API needs: risk state
// reads and the manual breaker reset.
type ExecutorControl interface {
	Halted() bool
	DailyPnL() decimal.Decimal
	ResetBreaker(ctx context.Context)
}

// ExecutorHandler exposes the executor's risk state.
type ExecutorHandler struct {
	exec   ExecutorControl
	logger *slog.Logger
}

// NewExecutorHandler creates an ExecutorHandler over the given executor.
func NewExecutorHandler(exec ExecutorControl, logger *slog.Logger) *ExecutorHandler {
	return &ExecutorHandler{
		exec:   exec,
		logger: logHandler(logger, "executor"),
	}
}

// GetStatus returns the halt flag and today's realized P&L.
// GET /api/executor
func (h *ExecutorHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"halted":    h.exec.Halted(),
		"daily_pnl": h.exec.DailyPnL(),
	})
}

// ResetBreaker clears the halt flag and circuit breaker after an operator
// has reviewed the failure.
// POST /api/executor/reset
func (h *ExecutorHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	h.exec.ResetBreaker(r.Context())
	h.logger.InfoContext(r.Context(), "breaker reset via api",
		slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]any{"halted": h.exec.Halted()})
}
