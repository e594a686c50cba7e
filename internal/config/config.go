// Package config defines the top-level configuration for the paired
// arbitrage service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Pair     PairConfig     `toml:"pair"`
	Feed     FeedConfig     `toml:"feed"`
	Detector DetectorConfig `toml:"detector"`
	Executor ExecutorConfig `toml:"executor"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PairConfig identifies the two correlated markets this instance trades.
type PairConfig struct {
	ID            string `toml:"id"`
	Leg1MarketID  string `toml:"leg1_market_id"`
	Leg1TokenID   string `toml:"leg1_token_id"`
	Leg1Asset     string `toml:"leg1_asset"`
	Leg1Direction string `toml:"leg1_direction"`
	Leg2MarketID  string `toml:"leg2_market_id"`
	Leg2TokenID   string `toml:"leg2_token_id"`
	Leg2Asset     string `toml:"leg2_asset"`
	Leg2Direction string `toml:"leg2_direction"`
}

// FeedConfig holds the book feed endpoint and staleness policy.
type FeedConfig struct {
	WsURL          string   `toml:"ws_url"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	DialTimeout    duration `toml:"dial_timeout"`
}

// DetectorConfig holds detection thresholds. Money thresholds are decimal
// strings so exact values survive the TOML round trip.
type DetectorConfig struct {
	TargetPairCost  string   `toml:"target_pair_cost"`
	MinProfit       string   `toml:"min_profit"`
	MaxPositionSize string   `toml:"max_position_size"`
	FeeRate         string   `toml:"fee_rate"`
	TxnCost         string   `toml:"txn_cost"`
	Size            string   `toml:"size"`
	Interval        duration `toml:"interval"`
	MaxBookAge      duration `toml:"max_book_age"`
	AutoExecute     bool     `toml:"auto_execute"`
}

// ExecutorConfig holds the risk gates and order timing.
type ExecutorConfig struct {
	Cooldown               duration `toml:"cooldown"`
	MaxDailyLoss           string   `toml:"max_daily_loss"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	FailurePause           duration `toml:"failure_pause"`
	BalanceMargin          string   `toml:"balance_margin"`
	OrderTimeout           duration `toml:"order_timeout"`
	PollInterval           duration `toml:"poll_interval"`
	PollAttempts           int      `toml:"poll_attempts"`
	MaxImbalance           string   `toml:"max_imbalance"`
	UnwindPriceFloor       string   `toml:"unwind_price_floor"`
	PaperBalance           string   `toml:"paper_balance"`
}

// MetricsConfig holds the statistical validation gates.
type MetricsConfig struct {
	MinSampleSize    int     `toml:"min_sample_size"`
	MinFillRateLower float64 `toml:"min_fill_rate_lower"`
	MaxProfitPValue  float64 `toml:"max_profit_p_value"`
	Z                float64 `toml:"z"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settled
// position archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the reporting HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the standard values. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			ReconnectDelay: duration{2 * time.Second},
			DialTimeout:    duration{15 * time.Second},
		},
		Detector: DetectorConfig{
			TargetPairCost:  "0.97",
			MinProfit:       "0.005",
			MaxPositionSize: "1000",
			FeeRate:         "0.02",
			TxnCost:         "0.007",
			Size:            "100",
			Interval:        duration{500 * time.Millisecond},
			MaxBookAge:      duration{5 * time.Second},
			AutoExecute:     false,
		},
		Executor: ExecutorConfig{
			Cooldown:               duration{5 * time.Second},
			MaxDailyLoss:           "50",
			MaxConsecutiveFailures: 3,
			FailurePause:           duration{60 * time.Second},
			BalanceMargin:          "1.20",
			OrderTimeout:           duration{3 * time.Second},
			PollInterval:           duration{250 * time.Millisecond},
			PollAttempts:           4,
			MaxImbalance:           "50",
			UnwindPriceFloor:       "0.01",
			PaperBalance:           "1000",
		},
		Metrics: MetricsConfig{
			MinSampleSize:    41,
			MinFillRateLower: 0.60,
			MaxProfitPValue:  0.10,
			Z:                1.96,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "crossarb",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crossarb-history",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "position_opened", "position_settled", "unwind_failed"},
		},
		Mode:     "detect",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect": true, // detection only, no orders
	"paper":  true, // full loop against the in-process paper venue
	"trade":  true, // full loop against a live venue adapter
	"report": true, // reporting server only
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDirections enumerates the accepted pair leg directions.
var validDirections = map[string]bool{
	"up":   true,
	"down": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, paper, trade, report)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pair: both legs must be fully identified for any trading mode.
	needsPair := c.Mode != "report"
	if needsPair {
		if c.Pair.Leg1TokenID == "" || c.Pair.Leg2TokenID == "" {
			errs = append(errs, "pair: leg1_token_id and leg2_token_id must be set for mode "+c.Mode)
		}
		if c.Pair.Leg1TokenID != "" && c.Pair.Leg1TokenID == c.Pair.Leg2TokenID {
			errs = append(errs, "pair: the two legs must reference different tokens")
		}
		if c.Pair.Leg1Direction != "" && !validDirections[c.Pair.Leg1Direction] {
			errs = append(errs, fmt.Sprintf("pair: leg1_direction %q (valid: up, down)", c.Pair.Leg1Direction))
		}
		if c.Pair.Leg2Direction != "" && !validDirections[c.Pair.Leg2Direction] {
			errs = append(errs, fmt.Sprintf("pair: leg2_direction %q (valid: up, down)", c.Pair.Leg2Direction))
		}
	}

	// Feed: required whenever books are consumed.
	if needsPair && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty for mode "+c.Mode)
	}

	// Detector decimals must parse and sit in sane ranges. The detector
	// only rejects candidates above target_pair_cost, so the "no accepted
	// candidate costs 1 or more" guarantee holds only while the target is
	// strictly below 1.
	one := decimal.NewFromInt(1)
	for _, chk := range []struct {
		name string
		raw  string
		ok   func(d decimal.Decimal) bool
		want string
	}{
		{"detector.target_pair_cost", c.Detector.TargetPairCost,
			func(d decimal.Decimal) bool { return d.IsPositive() && d.LessThan(one) }, "within (0,1)"},
		{"detector.min_profit", c.Detector.MinProfit,
			func(d decimal.Decimal) bool { return d.IsPositive() }, "positive"},
		{"detector.max_position_size", c.Detector.MaxPositionSize,
			func(d decimal.Decimal) bool { return d.IsPositive() }, "positive"},
		{"detector.fee_rate", c.Detector.FeeRate,
			func(d decimal.Decimal) bool { return !d.IsNegative() && d.LessThan(one) }, "within [0,1)"},
		{"detector.txn_cost", c.Detector.TxnCost,
			func(d decimal.Decimal) bool { return !d.IsNegative() }, "non-negative"},
		{"detector.size", c.Detector.Size,
			func(d decimal.Decimal) bool { return d.IsPositive() }, "positive"},
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(chk.raw))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a decimal", chk.name, chk.raw))
			continue
		}
		if !chk.ok(d) {
			errs = append(errs, fmt.Sprintf("%s must be %s, got %s", chk.name, chk.want, d))
		}
	}

	// Executor
	if c.Executor.MaxConsecutiveFailures < 1 {
		errs = append(errs, "executor: max_consecutive_failures must be >= 1")
	}
	if c.Executor.OrderTimeout.Duration <= 0 {
		errs = append(errs, "executor: order_timeout must be positive")
	}
	if c.Executor.PollAttempts < 1 {
		errs = append(errs, "executor: poll_attempts must be >= 1")
	}

	// Metrics
	if c.Metrics.MinSampleSize < 1 {
		errs = append(errs, "metrics: min_sample_size must be >= 1")
	}
	if c.Metrics.MinFillRateLower < 0 || c.Metrics.MinFillRateLower > 1 {
		errs = append(errs, "metrics: min_fill_rate_lower must be within [0,1]")
	}
	if c.Metrics.MaxProfitPValue <= 0 || c.Metrics.MaxProfitPValue >= 1 {
		errs = append(errs, "metrics: max_profit_p_value must be within (0,1)")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
