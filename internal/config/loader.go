package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Pair ──
	setStr(&cfg.Pair.ID, "CROSSARB_PAIR_ID")
	setStr(&cfg.Pair.Leg1MarketID, "CROSSARB_PAIR_LEG1_MARKET_ID")
	setStr(&cfg.Pair.Leg1TokenID, "CROSSARB_PAIR_LEG1_TOKEN_ID")
	setStr(&cfg.Pair.Leg1Asset, "CROSSARB_PAIR_LEG1_ASSET")
	setStr(&cfg.Pair.Leg1Direction, "CROSSARB_PAIR_LEG1_DIRECTION")
	setStr(&cfg.Pair.Leg2MarketID, "CROSSARB_PAIR_LEG2_MARKET_ID")
	setStr(&cfg.Pair.Leg2TokenID, "CROSSARB_PAIR_LEG2_TOKEN_ID")
	setStr(&cfg.Pair.Leg2Asset, "CROSSARB_PAIR_LEG2_ASSET")
	setStr(&cfg.Pair.Leg2Direction, "CROSSARB_PAIR_LEG2_DIRECTION")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "CROSSARB_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectDelay, "CROSSARB_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.DialTimeout, "CROSSARB_FEED_DIAL_TIMEOUT")

	// ── Detector ──
	setStr(&cfg.Detector.TargetPairCost, "CROSSARB_DETECTOR_TARGET_PAIR_COST")
	setStr(&cfg.Detector.MinProfit, "CROSSARB_DETECTOR_MIN_PROFIT")
	setStr(&cfg.Detector.MaxPositionSize, "CROSSARB_DETECTOR_MAX_POSITION_SIZE")
	setStr(&cfg.Detector.FeeRate, "CROSSARB_DETECTOR_FEE_RATE")
	setStr(&cfg.Detector.TxnCost, "CROSSARB_DETECTOR_TXN_COST")
	setStr(&cfg.Detector.Size, "CROSSARB_DETECTOR_SIZE")
	setDuration(&cfg.Detector.Interval, "CROSSARB_DETECTOR_INTERVAL")
	setDuration(&cfg.Detector.MaxBookAge, "CROSSARB_DETECTOR_MAX_BOOK_AGE")
	setBool(&cfg.Detector.AutoExecute, "CROSSARB_DETECTOR_AUTO_EXECUTE")

	// ── Executor ──
	setDuration(&cfg.Executor.Cooldown, "CROSSARB_EXECUTOR_COOLDOWN")
	setStr(&cfg.Executor.MaxDailyLoss, "CROSSARB_EXECUTOR_MAX_DAILY_LOSS")
	setInt(&cfg.Executor.MaxConsecutiveFailures, "CROSSARB_EXECUTOR_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Executor.FailurePause, "CROSSARB_EXECUTOR_FAILURE_PAUSE")
	setStr(&cfg.Executor.BalanceMargin, "CROSSARB_EXECUTOR_BALANCE_MARGIN")
	setDuration(&cfg.Executor.OrderTimeout, "CROSSARB_EXECUTOR_ORDER_TIMEOUT")
	setDuration(&cfg.Executor.PollInterval, "CROSSARB_EXECUTOR_POLL_INTERVAL")
	setInt(&cfg.Executor.PollAttempts, "CROSSARB_EXECUTOR_POLL_ATTEMPTS")
	setStr(&cfg.Executor.MaxImbalance, "CROSSARB_EXECUTOR_MAX_IMBALANCE")
	setStr(&cfg.Executor.UnwindPriceFloor, "CROSSARB_EXECUTOR_UNWIND_PRICE_FLOOR")
	setStr(&cfg.Executor.PaperBalance, "CROSSARB_EXECUTOR_PAPER_BALANCE")

	// ── Metrics ──
	setInt(&cfg.Metrics.MinSampleSize, "CROSSARB_METRICS_MIN_SAMPLE_SIZE")
	setFloat64(&cfg.Metrics.MinFillRateLower, "CROSSARB_METRICS_MIN_FILL_RATE_LOWER")
	setFloat64(&cfg.Metrics.MaxProfitPValue, "CROSSARB_METRICS_MAX_PROFIT_P_VALUE")
	setFloat64(&cfg.Metrics.Z, "CROSSARB_METRICS_Z")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CROSSARB_DATABASE_DSN")
	setStr(&cfg.Database.Host, "CROSSARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CROSSARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CROSSARB_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "CROSSARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "CROSSARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CROSSARB_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CROSSARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CROSSARB_DATABASE_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CROSSARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CROSSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CROSSARB_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CROSSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CROSSARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CROSSARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSARB_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
