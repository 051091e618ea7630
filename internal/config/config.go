// Package config defines all configuration for the hedging engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via HEDGER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hedgeengine/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure and to every external tunable the engine exposes.
type Config struct {
	BybitAPIKey         string        `mapstructure:"bybit_api_key"`
	BybitAPISecret      string        `mapstructure:"bybit_api_secret"`
	UseTestnet          bool          `mapstructure:"use_testnet"`
	DBPath              string        `mapstructure:"db_path"`
	QuoteCurrency       string        `mapstructure:"quote_currency"`
	DefaultVolatility   float64       `mapstructure:"default_volatility"`
	Slippage            float64       `mapstructure:"slippage"`
	MaxWaitSecs         int           `mapstructure:"max_wait_secs"`
	MaxAllowedLeverage  float64       `mapstructure:"max_allowed_leverage"`
	HedgeStrategyDefault string       `mapstructure:"hedge_strategy_default"`

	WSPingIntervalSecs       int     `mapstructure:"ws_ping_interval_secs"`
	WSReconnectDelaySecs     int     `mapstructure:"ws_reconnect_delay_secs"`
	WSOrderBookDepth         int     `mapstructure:"ws_order_book_depth"`
	WSMpscBufferSize         int     `mapstructure:"ws_mpsc_buffer_size"`
	WSAutoChunkTargetCount   uint32  `mapstructure:"ws_auto_chunk_target_count"`
	WSStalePriceRatio        float64 `mapstructure:"ws_stale_price_ratio"`
	WSMaxValueImbalanceRatio float64 `mapstructure:"ws_max_value_imbalance_ratio"`
	WSLimitOrderPlacement    string  `mapstructure:"ws_limit_order_placement_strategy"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	StatusAPI StatusAPIConfig `mapstructure:"status_api"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusAPIConfig controls the read-only HTTP/WS status surface (C8's
// external-UI hook). It never accepts mutating requests.
type StatusAPIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MaxWait returns MaxWaitSecs as a time.Duration.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSecs) * time.Second
}

// Strategy returns the parsed default hedge strategy.
func (c Config) Strategy() (types.Strategy, error) {
	return types.ParseStrategy(c.HedgeStrategyDefault)
}

// PlacementStrategy returns the parsed default limit-order placement strategy.
func (c Config) PlacementStrategy() (types.PlacementStrategy, error) {
	return types.ParsePlacementStrategy(c.WSLimitOrderPlacement)
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: HEDGER_BYBIT_API_KEY, HEDGER_BYBIT_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("HEDGER_BYBIT_API_KEY"); key != "" {
		cfg.BybitAPIKey = key
	}
	if secret := os.Getenv("HEDGER_BYBIT_API_SECRET"); secret != "" {
		cfg.BybitAPISecret = secret
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.BybitAPIKey == "" {
		return fmt.Errorf("bybit_api_key is required (set HEDGER_BYBIT_API_KEY)")
	}
	if c.BybitAPISecret == "" {
		return fmt.Errorf("bybit_api_secret is required (set HEDGER_BYBIT_API_SECRET)")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.QuoteCurrency == "" {
		return fmt.Errorf("quote_currency is required")
	}
	if c.Slippage < 0 {
		return fmt.Errorf("slippage must be >= 0")
	}
	if c.MaxWaitSecs <= 0 {
		return fmt.Errorf("max_wait_secs must be > 0")
	}
	if c.MaxAllowedLeverage <= 1.0 {
		return fmt.Errorf("max_allowed_leverage must be > 1.0")
	}
	if _, err := c.Strategy(); err != nil {
		return fmt.Errorf("hedge_strategy_default: %w", err)
	}
	if _, err := c.PlacementStrategy(); err != nil {
		return fmt.Errorf("ws_limit_order_placement_strategy: %w", err)
	}
	if c.WSAutoChunkTargetCount == 0 {
		return fmt.Errorf("ws_auto_chunk_target_count must be > 0")
	}
	return nil
}
