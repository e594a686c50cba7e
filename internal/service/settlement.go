// Package service contains the orchestration layer between the stores, the
// executor, and the metrics tracker.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/crossarb/internal/domain"
)

// PnLSink receives settlement P&L so the daily loss gate sees it.
type PnLSink interface {
	AddRealizedPnL(ctx context.Context, pnl decimal.Decimal)
}

// SettlementRecorder feeds settled positions into the validation metrics.
type SettlementRecorder interface {
	RecordSettlement(pos domain.ArbitragePosition)
}

// Alerter is the notification surface used when a position settles.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementService walks completed positions through resolution: Complete
// becomes Settling when the underlying markets resolve, and Settled once the
// payout is realized. Exactly one leg of a properly constructed pair wins,
// paying 1 per share on the winning leg's size.
type SettlementService struct {
	positions domain.PositionStore
	recorder  SettlementRecorder
	pnl       PnLSink                 // optional
	bus       domain.SignalBus        // optional
	alerter   Alerter                 // optional
	archiver  domain.PositionArchiver // optional
	feeRate   decimal.Decimal
	logger    *slog.Logger
}

// NewSettlementService creates a SettlementService. recorder is required;
// pnl, bus, alerter, and archiver may be nil.
func NewSettlementService(
	positions domain.PositionStore,
	recorder SettlementRecorder,
	pnl PnLSink,
	bus domain.SignalBus,
	alerter Alerter,
	archiver domain.PositionArchiver,
	feeRate decimal.Decimal,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		positions: positions,
		recorder:  recorder,
		pnl:       pnl,
		bus:       bus,
		alerter:   alerter,
		archiver:  archiver,
		feeRate:   feeRate,
		logger:    logger.With(slog.String("component", "settlement_service")),
	}
}

// MarkSettling transitions a Complete position to Settling. Positions in any
// other state are left alone with an error.
func (s *SettlementService) MarkSettling(ctx context.Context, positionID string) error {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("settlement: get position %q: %w", positionID, err)
	}
	if pos.Status != domain.PositionStatusComplete {
		return fmt.Errorf("settlement: position %q is %s, expected %s",
			positionID, pos.Status, domain.PositionStatusComplete)
	}
	if err := s.positions.UpdateStatus(ctx, positionID, domain.PositionStatusSettling); err != nil {
		return fmt.Errorf("settlement: mark settling %q: %w", positionID, err)
	}
	s.logger.InfoContext(ctx, "position settling", slog.String("position_id", positionID))
	return nil
}

// Settle applies a pair resolution to every Settling position of that pair
// (Complete positions are swept in too, covering a resolution that arrives
// before MarkSettling ran). It returns the number of positions settled.
func (s *SettlementService) Settle(ctx context.Context, res domain.PairResolution) (int, error) {
	var candidates []domain.ArbitragePosition
	for _, status := range []domain.PositionStatus{
		domain.PositionStatusSettling,
		domain.PositionStatusComplete,
	} {
		batch, err := s.positions.ListByStatus(ctx, status, domain.ListOpts{})
		if err != nil {
			return 0, fmt.Errorf("settlement: list %s positions: %w", status, err)
		}
		candidates = append(candidates, batch...)
	}

	settled := 0
	for _, pos := range candidates {
		if pos.PairID != res.PairID {
			continue
		}
		if err := s.settleOne(ctx, pos, res); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

// settleOne fixes the realized P&L for a single position and records it
// everywhere it matters.
func (s *SettlementService) settleOne(ctx context.Context, pos domain.ArbitragePosition, res domain.PairResolution) error {
	winner := pos.WinningLeg(res)

	// The winning leg pays 1 per share; the venue takes its fee on the
	// payout. The losing leg expires worthless.
	payout := winner.Size
	fee := payout.Mul(s.feeRate)
	pnl := payout.Sub(fee).Sub(pos.TotalCost())

	now := time.Now().UTC()
	pos.RealizedPnL = pnl
	pos.Status = domain.PositionStatusSettled
	pos.SettledAt = &now

	if err := s.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("settlement: persist %q: %w", pos.ID, err)
	}

	if s.recorder != nil {
		s.recorder.RecordSettlement(pos)
	}
	if s.pnl != nil {
		s.pnl.AddRealizedPnL(ctx, pnl)
	}

	s.publish(ctx, pos, res)
	s.alert(ctx, pos)

	s.logger.InfoContext(ctx, "position settled",
		slog.String("position_id", pos.ID),
		slog.String("pair_id", pos.PairID),
		slog.Int("winning_leg", res.WinningLeg),
		slog.String("payout", payout.String()),
		slog.String("realized_pnl", pnl.String()),
	)
	return nil
}

func (s *SettlementService) publish(ctx context.Context, pos domain.ArbitragePosition, res domain.PairResolution) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":        "position_settled",
		"position_id":  pos.ID,
		"pair_id":      pos.PairID,
		"winning_leg":  res.WinningLeg,
		"realized_pnl": pos.RealizedPnL,
		"settled_at":   pos.SettledAt,
	})
	if err := s.bus.Publish(ctx, domain.ChannelOutcomes, evt); err != nil {
		s.logger.WarnContext(ctx, "publish settlement failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) alert(ctx context.Context, pos domain.ArbitragePosition) {
	if s.alerter == nil {
		return
	}
	msg := fmt.Sprintf("pair %s position %s settled, P&L %s",
		pos.PairID, pos.ID, pos.RealizedPnL.StringFixed(4))
	if err := s.alerter.Notify(ctx, "position_settled", "Position settled", msg); err != nil {
		s.logger.WarnContext(ctx, "settlement alert failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// resolutionEvent is the wire form a resolution oracle publishes on the
// resolutions channel.
type resolutionEvent struct {
	PairID     string    `json:"pair_id"`
	WinningLeg int       `json:"winning_leg"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// WatchResolutions subscribes to the resolutions channel and settles every
// position of a pair as its resolution arrives. It blocks until ctx is
// cancelled. Requires a signal bus.
func (s *SettlementService) WatchResolutions(ctx context.Context) error {
	if s.bus == nil {
		return fmt.Errorf("settlement: watch resolutions: no signal bus configured")
	}

	ch, err := s.bus.Subscribe(ctx, domain.ChannelResolutions)
	if err != nil {
		return fmt.Errorf("settlement: subscribe resolutions: %w", err)
	}
	s.logger.InfoContext(ctx, "watching pair resolutions",
		slog.String("channel", domain.ChannelResolutions))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return fmt.Errorf("settlement: resolutions subscription closed")
			}
			var ev resolutionEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				s.logger.WarnContext(ctx, "bad resolution payload",
					slog.String("error", err.Error()))
				continue
			}
			if ev.PairID == "" || (ev.WinningLeg != 1 && ev.WinningLeg != 2) {
				s.logger.WarnContext(ctx, "ignoring malformed resolution",
					slog.String("pair_id", ev.PairID),
					slog.Int("winning_leg", ev.WinningLeg))
				continue
			}
			if ev.ResolvedAt.IsZero() {
				ev.ResolvedAt = time.Now().UTC()
			}
			res := domain.PairResolution{
				PairID:     ev.PairID,
				WinningLeg: ev.WinningLeg,
				ResolvedAt: ev.ResolvedAt,
			}
			n, err := s.Settle(ctx, res)
			if err != nil {
				s.logger.ErrorContext(ctx, "settlement sweep failed",
					slog.String("pair_id", ev.PairID),
					slog.String("error", err.Error()))
				continue
			}
			s.logger.InfoContext(ctx, "resolution applied",
				slog.String("pair_id", ev.PairID),
				slog.Int("winning_leg", ev.WinningLeg),
				slog.Int("positions_settled", n),
			)
		}
	}
}

// Archive moves terminal positions older than the cutoff to cold storage.
// A no-op when no archiver is configured.
func (s *SettlementService) Archive(ctx context.Context, before time.Time) (int64, error) {
	if s.archiver == nil {
		return 0, nil
	}
	n, err := s.archiver.ArchiveSettled(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("settlement: archive: %w", err)
	}
	return n, nil
}
