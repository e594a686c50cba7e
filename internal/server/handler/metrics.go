package handler

import (
	"log/slog"
	"net/http"

	"github.com/quantfall/crossarb/internal/metrics"
)

// SummarySource provides the current validation snapshot.
type SummarySource interface {
	Summary() metrics.ValidationSummary
}

// MetricsHandler serves the strategy validation statistics.
type MetricsHandler struct {
	source SummarySource
	logger *slog.Logger
}

// NewMetricsHandler creates a MetricsHandler reading from the given source.
func NewMetricsHandler(source SummarySource, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{
		source: source,
		logger: logHandler(logger, "metrics"),
	}
}

// GetSummary returns the aggregate fill-rate, profit, and readiness stats.
// GET /api/metrics
func (h *MetricsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Summary())
}
