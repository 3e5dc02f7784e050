package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "")
	setEnv(t, "TRADE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultTradeTTL, cfg.TradeTTL)
	assert.Equal(t, DefaultExpirySweepEvery, cfg.ExpirySweepEvery)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "TRADE_TTL", "1h")
	setEnv(t, "EXPIRY_SWEEP_EVERY", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, time.Hour, cfg.TradeTTL)
	assert.Equal(t, 5*time.Second, cfg.ExpirySweepEvery)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "TRADE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTradeTTL, cfg.TradeTTL)
}

func TestValidate_ProductionRequiresDatabase(t *testing.T) {
	cfg := &Config{
		Env:              "production",
		TradeTTL:         DefaultTradeTTL,
		ExpirySweepEvery: DefaultExpirySweepEvery,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.DatabaseURL = "postgres://localhost/swapyard"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveDurations(t *testing.T) {
	cfg := &Config{Env: "development", TradeTTL: 0, ExpirySweepEvery: DefaultExpirySweepEvery}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Env: "development", TradeTTL: DefaultTradeTTL, ExpirySweepEvery: -time.Second}
	assert.Error(t, cfg.Validate())
}

func TestEnvModes(t *testing.T) {
	dev := &Config{Env: "development"}
	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())

	prod := &Config{Env: "production"}
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}
