package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 20, cfg.RateLimit.RequestsPerSecond)
	require.Equal(t, 5*time.Second, cfg.PriceFeed.Timeout)
	require.Equal(t, 10*time.Second, cfg.KYC.Timeout)
	require.Equal(t, []string{"BTC", "ETH", "USDT"}, cfg.PriceFeed.SymbolList())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://localhost/exchange")
	t.Setenv("PRICEFEED_SYMBOLS", "BTC DOGE")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("RATE_LIMIT_BURST", "3")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "postgres://localhost/exchange", cfg.Database.URL)
	require.Equal(t, []string{"BTC", "DOGE"}, cfg.PriceFeed.SymbolList())
	// Burst below the rate is lifted to the rate.
	require.Equal(t, 5, cfg.RateLimit.Burst)
}

func TestLoadYAMLOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\nlogging:\n  level: warn\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("RATE_LIMIT_RPS", "0")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("RATE_LIMIT_RPS", "10")
	_, err = Load()
	require.Error(t, err)
}
