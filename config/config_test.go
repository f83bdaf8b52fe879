package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hammerbot/config"
	"github.com/alejandrodnm/hammerbot/internal/domain"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := config.Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "BTC/USD", cfg.Engine.Symbol)
	assert.InDelta(t, 0.005, cfg.Engine.WatchReturnThreshold, 1e-12)
	assert.InDelta(t, 5.0, cfg.Engine.DMin, 1e-12)
	assert.Equal(t, 4, cfg.Risk.MaxTradesPerHour)
	assert.True(t, cfg.DryRun())

	hs, err := cfg.HorizonList()
	require.NoError(t, err)
	assert.Equal(t, []domain.Horizon{domain.Horizon5m, domain.Horizon15m}, hs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeYAML(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.InDelta(t, 15, cfg.Engine.HammerSecs, 1e-12)
	assert.InDelta(t, 0.97, cfg.Engine.MaxEntryPrice, 1e-12)
	assert.Equal(t, string(domain.ZRelative), cfg.Engine.ZForm)
	assert.Equal(t, 10*time.Second, cfg.FeedStale())
	assert.Equal(t, time.Second, cfg.FallbackInterval())
	assert.Equal(t, time.Minute, cfg.FeeRateTTL())
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout())
	assert.Equal(t, "https://clob.polymarket.com", cfg.API.CLOBBase)
	assert.Equal(t, "hammerbot.db", cfg.Storage.DSN)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WATCH_RETURN_THRESHOLD", "0.01")
	t.Setenv("MAX_TRADES_PER_HOUR", "2")
	t.Setenv("ALLOW_FALLBACK_TRADING", "true")
	t.Setenv("LIVE_TRADING", "true")
	t.Setenv("POLY_PRIVATE_KEY", "0xabc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := config.Load(writeYAML(t, "engine:\n  watch_return_threshold: 0.002\n"))
	require.NoError(t, err)

	assert.InDelta(t, 0.01, cfg.Engine.WatchReturnThreshold, 1e-12)
	assert.Equal(t, 2, cfg.Risk.MaxTradesPerHour)
	assert.True(t, cfg.Risk.AllowFallbackTrading)
	assert.False(t, cfg.DryRun())
	assert.Equal(t, "0xabc", cfg.Live.PrivateKey)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("MAX_DAILY_LOSS", "lots")

	_, err := config.Load(writeYAML(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_DAILY_LOSS")
}

func TestLoad_SecretsIgnoredInYAML(t *testing.T) {
	t.Setenv("POLY_PRIVATE_KEY", "")

	cfg, err := config.Load(writeYAML(t, "live:\n  enabled: false\n  private_key: \"0xdead\"\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Live.PrivateKey)
}

func TestValidate(t *testing.T) {
	t.Setenv("POLY_PRIVATE_KEY", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"entry price above 1", "engine:\n  max_entry_price: 1.2\n", "max_entry_price"},
		{"unknown horizon", "engine:\n  horizons: [\"1h\"]\n", "horizon"},
		{"unknown fee model", "engine:\n  fee_model: flat\n", "fee model"},
		{"unknown z form", "engine:\n  z_form: log\n", "z_form"},
		{"live without key", "live:\n  enabled: true\n", "POLY_PRIVATE_KEY"},
		{"telegram without token", "telegram:\n  enabled: true\n  chat_id: 1\n", "TELEGRAM_BOT_TOKEN"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeYAML(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
