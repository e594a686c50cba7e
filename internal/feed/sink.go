package feed

import (
	"context"
	"log/slog"

	"github.com/quantfall/crossarb/internal/book"
	"github.com/quantfall/crossarb/internal/domain"
)

// RegistrySink applies feed events to the in-process book registry and
// mirrors the results into the shared book cache when one is configured.
// Cache failures are logged and swallowed: the live registry is the source
// of truth for detection, the cache is observability.
type RegistrySink struct {
	registry *book.Registry
	cache    domain.BookCache // optional
	logger   *slog.Logger
}

// NewRegistrySink creates a sink writing into the given registry. cache may
// be nil.
func NewRegistrySink(registry *book.Registry, cache domain.BookCache, logger *slog.Logger) *RegistrySink {
	return &RegistrySink{
		registry: registry,
		cache:    cache,
		logger:   logger.With(slog.String("component", "registry_sink")),
	}
}

// HandleBook replaces the token's book from a full snapshot.
func (s *RegistrySink) HandleBook(ctx context.Context, update domain.BookUpdate) {
	s.registry.ApplySnapshot(update)
	s.mirror(ctx, update.TokenID, &update)
}

// HandleDelta applies an incremental level update.
func (s *RegistrySink) HandleDelta(ctx context.Context, delta domain.BookDelta) {
	s.registry.ApplyDelta(delta)
	s.mirror(ctx, delta.TokenID, nil)
}

// mirror pushes the current top-of-book (and the full snapshot when one was
// just applied) into the cache.
func (s *RegistrySink) mirror(ctx context.Context, tokenID string, update *domain.BookUpdate) {
	if s.cache == nil {
		return
	}

	if update != nil {
		if err := s.cache.SetSnapshot(ctx, tokenID, *update); err != nil {
			s.logger.Debug("book cache snapshot failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
		}
	}

	if top, ok := s.registry.Top(tokenID); ok {
		if err := s.cache.SetTop(ctx, top); err != nil {
			s.logger.Debug("book cache top failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
		}
	}
}
