package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/crossarb/internal/book"
	"github.com/quantfall/crossarb/internal/config"
	"github.com/quantfall/crossarb/internal/detector"
	"github.com/quantfall/crossarb/internal/domain"
	"github.com/quantfall/crossarb/internal/executor"
	"github.com/quantfall/crossarb/internal/feed"
	"github.com/quantfall/crossarb/internal/metrics"
	"github.com/quantfall/crossarb/internal/server"
	"github.com/quantfall/crossarb/internal/server/handler"
	"github.com/quantfall/crossarb/internal/server/ws"
	"github.com/quantfall/crossarb/internal/service"
)

// NewLiveVenue builds the venue adapter for trade mode. Deployments assign
// their implementation before App.Run; the repo itself ships no live order
// transport.
var NewLiveVenue func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (executor.Venue, error)

// archiveAfter is how long a terminal position stays in Postgres before the
// daily sweep moves it to the blob archive.
const archiveAfter = 30 * 24 * time.Hour

// DetectMode runs the book feed and the detector loop without an executor.
// Candidates are logged and published on the signal bus only.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	g, ctx := errgroup.WithContext(ctx)

	tracker := metrics.NewTracker(a.metricsConfig())
	if err := a.startDetection(ctx, g, deps, nil, tracker); err != nil {
		return fmt.Errorf("detect mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, tracker, nil)
	}

	return g.Wait()
}

// PaperMode runs the full detect-execute-settle loop against the in-process
// paper venue.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	balance, err := parseDecimal("executor.paper_balance", a.cfg.Executor.PaperBalance)
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}
	venue := executor.NewPaperVenue(balance, a.base)
	return a.runTrading(ctx, deps, venue)
}

// TradeMode runs the full loop against a live venue adapter.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	if NewLiveVenue == nil {
		return fmt.Errorf("trade mode: no live venue adapter linked into this build")
	}
	venue, err := NewLiveVenue(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("trade mode: build venue: %w", err)
	}
	return a.runTrading(ctx, deps, venue)
}

// ReportMode serves the reporting API over persisted state. The validation
// summary is rebuilt by replaying the execution stream, so a restarted
// reporter converges on the same statistics.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting report mode")

	g, ctx := errgroup.WithContext(ctx)

	tracker := metrics.NewTracker(a.metricsConfig())
	if n, err := a.replayExecutions(ctx, deps, tracker); err != nil {
		a.logger.WarnContext(ctx, "execution stream replay failed",
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "execution stream replayed",
			slog.Int("outcomes", n),
		)
	}

	// The reporting server is the whole point of this mode, so it starts
	// regardless of server.enabled.
	a.startServer(ctx, g, deps, tracker, nil)

	return g.Wait()
}

// runTrading is the shared body of paper and trade mode: feed, detector with
// auto-execute wiring, executor, settlement watcher, and reporting.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, venue executor.Venue) error {
	execCfg, err := a.executorConfig()
	if err != nil {
		return err
	}
	feeRate, err := parseDecimal("detector.fee_rate", a.cfg.Detector.FeeRate)
	if err != nil {
		return err
	}

	tracker := metrics.NewTracker(a.metricsConfig())

	exec := executor.New(execCfg, executor.Deps{
		Venue:     venue,
		Positions: deps.Positions,
		Sessions:  deps.Sessions,
		Bus:       deps.Bus,
		Alerter:   deps.Notifier,
		Recorder:  tracker,
		Logger:    a.base,
	})
	if err := exec.RestoreSession(ctx); err != nil {
		return fmt.Errorf("trading: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startDetection(ctx, g, deps, exec, tracker); err != nil {
		return fmt.Errorf("trading: %w", err)
	}

	settlement := service.NewSettlementService(
		deps.Positions, tracker, exec, deps.Bus, deps.Notifier, deps.Archiver,
		feeRate, a.base,
	)
	g.Go(func() error {
		return settlement.WatchResolutions(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					cutoff := time.Now().UTC().Add(-archiveAfter)
					if _, err := settlement.Archive(ctx, cutoff); err != nil {
						a.logger.WarnContext(ctx, "position archive sweep failed",
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, tracker, exec)
	}

	return g.Wait()
}

// startDetection wires the book registry, feed, and detector runner into the
// errgroup. trader may be nil, in which case detection only publishes.
func (a *App) startDetection(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	trader detector.Trader,
	tracker *metrics.Tracker,
) error {
	pair := a.pair()
	detCfg, size, err := a.detectorConfig()
	if err != nil {
		return err
	}

	registry := book.NewRegistry()
	sink := feed.NewRegistrySink(registry, deps.BookCache, a.base)

	tok1, tok2 := pair.TokenIDs()
	bookFeed := feed.NewBookFeed(feed.Config{
		WsURL:          a.cfg.Feed.WsURL,
		TokenIDs:       []string{tok1, tok2},
		ReconnectDelay: a.cfg.Feed.ReconnectDelay.Duration,
		DialTimeout:    a.cfg.Feed.DialTimeout.Duration,
	}, sink.HandleBook, sink.HandleDelta, a.base)
	g.Go(func() error {
		defer bookFeed.Close()
		return bookFeed.Run(ctx)
	})

	det := detector.New(detCfg, a.base)
	runner := detector.NewRunner(detector.RunnerConfig{
		Pair:        pair,
		Size:        size,
		Interval:    a.cfg.Detector.Interval.Duration,
		MaxBookAge:  a.cfg.Detector.MaxBookAge.Duration,
		AutoExecute: trader != nil && a.cfg.Detector.AutoExecute,
	}, det, registry, deps.Bus, trader, a.base)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	// Fold bus traffic into the validation counters.
	g.Go(func() error {
		return a.trackSignals(ctx, deps.Bus, tracker)
	})

	return nil
}

// trackSignals counts detected opportunities and observed settlement windows
// off the signal bus.
func (a *App) trackSignals(ctx context.Context, bus domain.SignalBus, tracker *metrics.Tracker) error {
	opps, err := bus.Subscribe(ctx, domain.ChannelOpportunities)
	if err != nil {
		return fmt.Errorf("track signals: subscribe opportunities: %w", err)
	}
	resolutions, err := bus.Subscribe(ctx, domain.ChannelResolutions)
	if err != nil {
		return fmt.Errorf("track signals: subscribe resolutions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-opps:
			if !ok {
				return nil
			}
			tracker.RecordOpportunity()
		case _, ok := <-resolutions:
			if !ok {
				return nil
			}
			tracker.RecordWindow()
		}
	}
}

// replayExecutions folds the durable execution stream back into the tracker.
func (a *App) replayExecutions(ctx context.Context, deps *Dependencies, tracker *metrics.Tracker) (int, error) {
	total := 0
	lastID := "0"
	for {
		msgs, err := deps.Bus.StreamRead(ctx, domain.StreamExecutions, lastID, 500)
		if err != nil {
			return total, err
		}
		if len(msgs) == 0 {
			return total, nil
		}
		for _, msg := range msgs {
			lastID = msg.ID
			out, ok := decodeOutcome(msg.Payload)
			if !ok {
				continue
			}
			tracker.RecordOutcome(out)
			total++
		}
	}
}

// decodeOutcome rebuilds an execution outcome from its stream form. Only
// the fields the tracker consumes are restored.
func decodeOutcome(payload []byte) (domain.ExecutionOutcome, bool) {
	var ev domain.OutcomeEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Kind == "" {
		return domain.ExecutionOutcome{}, false
	}
	return domain.ExecutionOutcome{
		Kind:        ev.Kind,
		Reason:      ev.Reason,
		Latency:     time.Duration(ev.LatencyMS) * time.Millisecond,
		AttemptedAt: ev.AttemptedAt,
	}, true
}

// startServer adds the HTTP server and WebSocket hub to the errgroup. exec
// may be nil; its routes are then left unregistered.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	tracker *metrics.Tracker,
	exec *executor.PairedExecutor,
) {
	hub := ws.NewHub(deps.Bus, a.base, ws.Config{
		Mode:      a.cfg.Mode,
		PairID:    a.pair().ID,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.base),
		Metrics: handler.NewMetricsHandler(tracker, a.base),
	}
	if deps.Positions != nil {
		handlers.Positions = handler.NewPositionHandler(deps.Positions, a.base)
	}
	if exec != nil {
		handlers.Executor = handler.NewExecutorHandler(exec, a.base)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.base)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// pair builds the configured market pair.
func (a *App) pair() domain.MarketPair {
	pair := domain.MarketPair{
		ID: a.cfg.Pair.ID,
		Leg1: domain.PairLeg{
			MarketID:  a.cfg.Pair.Leg1MarketID,
			TokenID:   a.cfg.Pair.Leg1TokenID,
			Asset:     a.cfg.Pair.Leg1Asset,
			Direction: legDirection(a.cfg.Pair.Leg1Direction, domain.LegDirectionUp),
		},
		Leg2: domain.PairLeg{
			MarketID:  a.cfg.Pair.Leg2MarketID,
			TokenID:   a.cfg.Pair.Leg2TokenID,
			Asset:     a.cfg.Pair.Leg2Asset,
			Direction: legDirection(a.cfg.Pair.Leg2Direction, domain.LegDirectionDown),
		},
	}
	if pair.ID == "" {
		pair.ID = pair.Key()
	}
	return pair
}

func legDirection(s string, fallback domain.LegDirection) domain.LegDirection {
	switch s {
	case "up":
		return domain.LegDirectionUp
	case "down":
		return domain.LegDirectionDown
	default:
		return fallback
	}
}

// detectorConfig parses the configured detection thresholds and the per-leg
// evaluation size.
func (a *App) detectorConfig() (detector.Config, decimal.Decimal, error) {
	cfg := detector.DefaultConfig()
	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"detector.target_pair_cost", a.cfg.Detector.TargetPairCost, &cfg.TargetPairCost},
		{"detector.min_profit", a.cfg.Detector.MinProfit, &cfg.MinProfit},
		{"detector.max_position_size", a.cfg.Detector.MaxPositionSize, &cfg.MaxPositionSize},
		{"detector.fee_rate", a.cfg.Detector.FeeRate, &cfg.FeeRate},
		{"detector.txn_cost", a.cfg.Detector.TxnCost, &cfg.TxnCost},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.src)
		if err != nil {
			return detector.Config{}, decimal.Zero, err
		}
		*f.dst = v
	}

	size, err := parseDecimal("detector.size", a.cfg.Detector.Size)
	if err != nil {
		return detector.Config{}, decimal.Zero, err
	}
	return cfg, size, nil
}

// executorConfig parses the configured risk gates.
func (a *App) executorConfig() (executor.Config, error) {
	cfg := executor.DefaultExecutorConfig()
	cfg.Cooldown = a.cfg.Executor.Cooldown.Duration
	cfg.MaxConsecutiveFailures = a.cfg.Executor.MaxConsecutiveFailures
	cfg.FailurePause = a.cfg.Executor.FailurePause.Duration
	cfg.OrderTimeout = a.cfg.Executor.OrderTimeout.Duration
	cfg.PollInterval = a.cfg.Executor.PollInterval.Duration
	cfg.PollAttempts = a.cfg.Executor.PollAttempts

	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"executor.max_daily_loss", a.cfg.Executor.MaxDailyLoss, &cfg.MaxDailyLoss},
		{"executor.balance_margin", a.cfg.Executor.BalanceMargin, &cfg.BalanceMargin},
		{"executor.max_imbalance", a.cfg.Executor.MaxImbalance, &cfg.MaxImbalance},
		{"executor.unwind_price_floor", a.cfg.Executor.UnwindPriceFloor, &cfg.UnwindPriceFloor},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.src)
		if err != nil {
			return executor.Config{}, err
		}
		*f.dst = v
	}
	return cfg, nil
}

// metricsConfig maps the configured validation gates onto the tracker.
func (a *App) metricsConfig() metrics.Config {
	cfg := metrics.DefaultMetricsConfig()
	cfg.MinSampleSize = a.cfg.Metrics.MinSampleSize
	cfg.MinFillRateLower = a.cfg.Metrics.MinFillRateLower
	cfg.MaxProfitPValue = a.cfg.Metrics.MaxProfitPValue
	cfg.Z = a.cfg.Metrics.Z
	if v, err := parseDecimal("executor.max_imbalance", a.cfg.Executor.MaxImbalance); err == nil {
		cfg.MaxAbsImbalance = v
	}
	return cfg
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: parse %q: %w", name, s, err)
	}
	return d, nil
}
