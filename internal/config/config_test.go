package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tradingDefaults() Config {
	cfg := Defaults()
	cfg.Mode = "paper"
	cfg.Pair.Leg1TokenID = "tok-up"
	cfg.Pair.Leg2TokenID = "tok-down"
	cfg.Feed.WsURL = "wss://example.com/ws"
	return cfg
}

func TestDefaultsValidateInReportMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "report"
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresPairForTradingModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "leg1_token_id")
}

func TestValidateRejectsIdenticalLegs(t *testing.T) {
	cfg := tradingDefaults()
	cfg.Pair.Leg2TokenID = cfg.Pair.Leg1TokenID

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "different tokens")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := tradingDefaults()
	cfg.Mode = "flywheel"
	cfg.Executor.PollAttempts = 0
	cfg.Metrics.MaxProfitPValue = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
	require.Contains(t, err.Error(), "poll_attempts")
	require.Contains(t, err.Error(), "max_profit_p_value")
}

func TestValidateDetectorRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"target at fair value", func(c *Config) { c.Detector.TargetPairCost = "1" }, "target_pair_cost"},
		{"target above fair value", func(c *Config) { c.Detector.TargetPairCost = "1.05" }, "target_pair_cost"},
		{"target zero", func(c *Config) { c.Detector.TargetPairCost = "0" }, "target_pair_cost"},
		{"min profit zero", func(c *Config) { c.Detector.MinProfit = "0" }, "min_profit"},
		{"min profit negative", func(c *Config) { c.Detector.MinProfit = "-0.01" }, "min_profit"},
		{"fee rate one", func(c *Config) { c.Detector.FeeRate = "1" }, "fee_rate"},
		{"txn cost negative", func(c *Config) { c.Detector.TxnCost = "-0.001" }, "txn_cost"},
		{"size unparseable", func(c *Config) { c.Detector.Size = "lots" }, "size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tradingDefaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	// The boundary just below fair value is still acceptable.
	cfg := tradingDefaults()
	cfg.Detector.TargetPairCost = "0.999"
	require.NoError(t, cfg.Validate())
}

func TestDurationTextRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	require.Equal(t, 250*time.Millisecond, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "250ms", string(out))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CROSSARB_MODE", "detect")
	t.Setenv("CROSSARB_DETECTOR_TARGET_PAIR_COST", "0.95")
	t.Setenv("CROSSARB_EXECUTOR_POLL_ATTEMPTS", "8")
	t.Setenv("CROSSARB_EXECUTOR_COOLDOWN", "10s")
	t.Setenv("CROSSARB_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, "detect", cfg.Mode)
	require.Equal(t, "0.95", cfg.Detector.TargetPairCost)
	require.Equal(t, 8, cfg.Executor.PollAttempts)
	require.Equal(t, 10*time.Second, cfg.Executor.Cooldown.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := tradingDefaults()
	cfg.Database.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIKey = "hunter2"
	cfg.Notify.TelegramToken = "hunter2"

	red := RedactedConfig(&cfg)
	require.NotContains(t, red.Database.Password, "hunter2")
	require.NotContains(t, red.Redis.Password, "hunter2")
	require.NotContains(t, red.S3.SecretKey, "hunter2")
	require.NotContains(t, red.Server.APIKey, "hunter2")
	require.NotContains(t, red.Notify.TelegramToken, "hunter2")

	// The original is untouched.
	require.Equal(t, "hunter2", cfg.Database.Password)
}
