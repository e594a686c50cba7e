package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantfall/crossarb/internal/domain"
)

// PositionHandler serves paired-position queries.
type PositionHandler struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler over the given store.
func NewPositionHandler(positions domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

// validStatuses guards the status query parameter.
var validStatuses = map[domain.PositionStatus]bool{
	domain.PositionStatusBuilding: true,
	domain.PositionStatusComplete: true,
	domain.PositionStatusSettling: true,
	domain.PositionStatusSettled:  true,
	domain.PositionStatusUnwound:  true,
}

// ListPositions returns recent positions, optionally filtered by status.
// GET /api/positions?status=settled&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		positions, err := h.positions.ListRecent(r.Context(), opts.Limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list recent positions failed",
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
		return
	}

	status := domain.PositionStatus(statusParam)
	if !validStatuses[status] {
		writeError(w, http.StatusBadRequest, "unknown status "+statusParam)
		return
	}

	positions, err := h.positions.ListByStatus(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions by status failed",
			slog.String("status", statusParam),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetPosition returns a single position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
