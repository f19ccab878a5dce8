package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Blofin      Blofin      `mapstructure:"blofin"`
	DexScreener DexScreener `mapstructure:"dexscreener"`
	Chain       Chain       `mapstructure:"chain"`
	Trading     Trading     `mapstructure:"trading"`
	Logger      Logger      `mapstructure:"logger"`
	Server      Server      `mapstructure:"server"`
	API         API         `mapstructure:"api"`
	Database    Database    `mapstructure:"database"`
	Redis       Redis       `mapstructure:"redis"`
}

// Blofin holds the configuration for the Blofin REST API.
type Blofin struct {
	BaseURL        string        `mapstructure:"base_url"`
	ApiKey         string        `mapstructure:"api_key"`
	SecretKey      string        `mapstructure:"api_secret"`
	Symbol         string        `mapstructure:"symbol"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SyncTime       bool          `mapstructure:"sync_time"`
}

// DexScreener holds the configuration for the DEX market-data aggregator.
type DexScreener struct {
	BaseURL    string        `mapstructure:"base_url"`
	ChainID    string        `mapstructure:"chain_id"`
	PairID     string        `mapstructure:"pair_id"`
	BaseSymbol string        `mapstructure:"base_symbol"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Chain holds the on-chain swap settings.
type Chain struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	PrivateKey    string        `mapstructure:"private_key"`
	Router        string        `mapstructure:"router"`
	RouterABIPath string        `mapstructure:"router_abi_path"`
	WrappedNative string        `mapstructure:"wrapped_native"`
	QuoteToken    string        `mapstructure:"quote_token"`
	QuoteDecimals int32         `mapstructure:"quote_decimals"`
	GasLimit      uint64        `mapstructure:"gas_limit"`
	Deadline      time.Duration `mapstructure:"deadline"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// Trading holds the configuration for the arbitrage loop.
type Trading struct {
	Pair         string        `mapstructure:"pair"`
	Quantity     float64       `mapstructure:"quantity"`
	Threshold    float64       `mapstructure:"threshold"`
	Slippage     float64       `mapstructure:"slippage"`
	DryRun       bool          `mapstructure:"dry_run"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Server holds the configuration for the dashboard web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// API holds the configuration for the bot's status endpoint. Port 0 disables it.
type API struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the cycle audit database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis holds the optional cycle outcome publisher settings. Empty Addr disables it.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissing is wrapped by ConfigError when a required value is absent.
	ErrMissing = errors.New("required value is missing")
	// ErrInvalid is wrapped by ConfigError when a value is out of range.
	ErrInvalid = errors.New("invalid value")
)

// Flags registers the process flags on fs.
func Flags(fs *pflag.FlagSet) {
	fs.Bool("live", false, "execute real trades (overrides DRY_RUN)")
	fs.String("config", "./configs", "directory containing config.yml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("blofin.base_url", "https://api.blofin.com")
	v.SetDefault("blofin.symbol", "BNBUSDT")
	v.SetDefault("blofin.rate_limit", 10) // requests per second
	v.SetDefault("blofin.rate_limit_burst", 5)
	v.SetDefault("blofin.timeout", 5*time.Second)
	v.SetDefault("blofin.sync_time", true)

	v.SetDefault("dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("dexscreener.chain_id", "bsc")
	v.SetDefault("dexscreener.pair_id", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("dexscreener.base_symbol", "BNB")
	v.SetDefault("dexscreener.timeout", 5*time.Second)

	v.SetDefault("chain.rpc_url", "https://bsc-dataseed.binance.org/")
	v.SetDefault("chain.router", "0x10ED43C718714eb63d5aA57B78B54704E256024E")
	v.SetDefault("chain.router_abi_path", "./abi/router.json")
	v.SetDefault("chain.wrapped_native", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	v.SetDefault("chain.quote_token", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("chain.quote_decimals", 18)
	v.SetDefault("chain.gas_limit", 300000)
	v.SetDefault("chain.deadline", 300*time.Second)
	v.SetDefault("chain.poll_interval", 3*time.Second)

	v.SetDefault("trading.pair", "BNB/USDT")
	v.SetDefault("trading.quantity", 0.1)
	v.SetDefault("trading.threshold", 0.005)
	v.SetDefault("trading.slippage", 0.005)
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.tick_interval", 10*time.Second)
	v.SetDefault("trading.quote_timeout", 5*time.Second)
	v.SetDefault("trading.order_timeout", 15*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "arb.db")
	v.SetDefault("redis.channel", "arb:cycles")
}

// LoadConfig reads configuration from an optional config file, a .env file and
// environment variables. The --live flag, when set, forces live mode.
func LoadConfig(fs *pflag.FlagSet) (config Config, err error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	path := "./configs"
	if fs != nil {
		if p, ferr := fs.GetString("config"); ferr == nil && p != "" {
			path = p
		}
	}
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Credential variables keep their conventional names.
	_ = v.BindEnv("blofin.api_key", "BLOFIN_API_KEY")
	_ = v.BindEnv("blofin.api_secret", "BLOFIN_API_SECRET")
	_ = v.BindEnv("chain.private_key", "WALLET_PRIVATE_KEY")
	_ = v.BindEnv("trading.dry_run", "DRY_RUN")

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	if fs != nil {
		if live, ferr := fs.GetBool("live"); ferr == nil && live {
			config.Trading.DryRun = false
		}
	}

	return config, nil
}

// Mode returns a human-readable label for the execution mode.
func (c Config) Mode() string {
	if c.Trading.DryRun {
		return "DRY RUN"
	}
	return "LIVE"
}

// Validate checks ranges and, in live mode, that all credentials are present.
func (c Config) Validate() error {
	if c.Trading.Threshold <= 0 {
		return &ConfigError{Field: "trading.threshold", Err: fmt.Errorf("%w: must be > 0, got %v", ErrInvalid, c.Trading.Threshold)}
	}
	if c.Trading.Slippage < 0 || c.Trading.Slippage >= 1 {
		return &ConfigError{Field: "trading.slippage", Err: fmt.Errorf("%w: must be in [0,1), got %v", ErrInvalid, c.Trading.Slippage)}
	}
	if c.Trading.Quantity <= 0 {
		return &ConfigError{Field: "trading.quantity", Err: fmt.Errorf("%w: must be > 0, got %v", ErrInvalid, c.Trading.Quantity)}
	}
	if c.Trading.TickInterval <= 0 {
		return &ConfigError{Field: "trading.tick_interval", Err: fmt.Errorf("%w: must be > 0", ErrInvalid)}
	}
	if c.Trading.DryRun {
		return nil
	}

	required := []struct {
		field, value string
	}{
		{"BLOFIN_API_KEY", c.Blofin.ApiKey},
		{"BLOFIN_API_SECRET", c.Blofin.SecretKey},
		{"WALLET_PRIVATE_KEY", c.Chain.PrivateKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigError{Field: r.field, Err: fmt.Errorf("%w for live mode", ErrMissing)}
		}
	}
	return nil
}

// HasTradingCredentials reports whether both venues' credentials are set.
func (c Config) HasTradingCredentials() bool {
	for _, v := range []string{c.Blofin.ApiKey, c.Blofin.SecretKey, c.Chain.PrivateKey} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}
