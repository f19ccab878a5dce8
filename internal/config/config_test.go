package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Trading: Trading{
			Quantity:     0.1,
			Threshold:    0.005,
			Slippage:     0.005,
			DryRun:       true,
			TickInterval: 10 * time.Second,
		},
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DRY_RUN", "")
	fs := newFlags(t, "--config", t.TempDir())

	cfg, err := LoadConfig(fs)
	require.NoError(t, err)

	assert.True(t, cfg.Trading.DryRun, "dry-run is the default")
	assert.Equal(t, 0.005, cfg.Trading.Threshold)
	assert.Equal(t, 0.005, cfg.Trading.Slippage)
	assert.Equal(t, 0.1, cfg.Trading.Quantity)
	assert.Equal(t, 10*time.Second, cfg.Trading.TickInterval)
	assert.Equal(t, 300*time.Second, cfg.Chain.Deadline)
	assert.Equal(t, "BNBUSDT", cfg.Blofin.Symbol)
	assert.Equal(t, "BNB", cfg.DexScreener.BaseSymbol)
}

func TestLoadConfig_EnvCredentials(t *testing.T) {
	t.Setenv("BLOFIN_API_KEY", "key")
	t.Setenv("BLOFIN_API_SECRET", "secret")
	t.Setenv("WALLET_PRIVATE_KEY", "abcd")
	t.Setenv("DRY_RUN", "false")
	fs := newFlags(t, "--config", t.TempDir())

	cfg, err := LoadConfig(fs)
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.Blofin.ApiKey)
	assert.Equal(t, "secret", cfg.Blofin.SecretKey)
	assert.Equal(t, "abcd", cfg.Chain.PrivateKey)
	assert.False(t, cfg.Trading.DryRun)
	assert.Equal(t, "LIVE", cfg.Mode())
}

func TestLoadConfig_LiveFlagOverridesEnv(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	fs := newFlags(t, "--live", "--config", t.TempDir())

	cfg, err := LoadConfig(fs)
	require.NoError(t, err)
	assert.False(t, cfg.Trading.DryRun)
}

func TestValidate(t *testing.T) {
	t.Run("DryRunWithoutCredentials", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("LiveMissingSecret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Trading.DryRun = false
		cfg.Blofin.ApiKey = "key"
		cfg.Chain.PrivateKey = "abcd"

		err := cfg.Validate()
		require.Error(t, err)

		var cerr *ConfigError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "BLOFIN_API_SECRET", cerr.Field)
		assert.ErrorIs(t, err, ErrMissing)
	})

	t.Run("LiveComplete", func(t *testing.T) {
		cfg := validConfig()
		cfg.Trading.DryRun = false
		cfg.Blofin.ApiKey = "key"
		cfg.Blofin.SecretKey = "secret"
		cfg.Chain.PrivateKey = "abcd"
		assert.NoError(t, cfg.Validate())
		assert.True(t, cfg.HasTradingCredentials())
	})

	t.Run("NonPositiveThreshold", func(t *testing.T) {
		cfg := validConfig()
		cfg.Trading.Threshold = 0
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("SlippageOutOfRange", func(t *testing.T) {
		cfg := validConfig()
		cfg.Trading.Slippage = 1
		assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
	})
}

func TestHasTradingCredentials(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.HasTradingCredentials())

	cfg.Blofin.ApiKey = "key"
	cfg.Blofin.SecretKey = "secret"
	cfg.Chain.PrivateKey = "  "
	assert.False(t, cfg.HasTradingCredentials())

	cfg.Chain.PrivateKey = "abcd"
	assert.True(t, cfg.HasTradingCredentials())
}
