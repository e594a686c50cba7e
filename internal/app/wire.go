package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantfall/crossarb/internal/blob/s3"
	"github.com/quantfall/crossarb/internal/cache/redis"
	"github.com/quantfall/crossarb/internal/config"
	"github.com/quantfall/crossarb/internal/domain"
	"github.com/quantfall/crossarb/internal/notify"
	"github.com/quantfall/crossarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores (nil in detect mode, which keeps no durable state).
	Positions domain.PositionStore
	Sessions  domain.SessionStore

	// Redis
	BookCache domain.BookCache
	Bus       domain.SignalBus

	// Blob storage (nil unless s3.enabled and Postgres is wired).
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.PositionArchiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that keep durable position and risk
// session state. Detect mode publishes candidates only.
func needsPostgres(mode string) bool {
	switch mode {
	case "paper", "trade", "report":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		deps.Positions = postgres.NewPositionStore(pgClient)
		deps.Sessions = postgres.NewSessionStore(pgClient)
	}

	// --- Redis (every mode: the signal bus is the spine) ---
	redisClient, err := redis.New(ctx, redis.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BookCache = redis.NewBookCache(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (settled position archive) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		// The archiver sweeps the position store, so it needs Postgres too.
		if deps.Positions != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Positions, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
