// Package config loads the controller configuration from YAML with
// environment-variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/pilot/resolve"
	"github.com/rustyeddy/pilot/risk"
	"github.com/rustyeddy/pilot/strategies"
)

// Duration parses "30s"-style values from YAML and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the value back in the same "30s" form it parses,
// so a generated config file loads again.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete controller configuration.
type Config struct {
	Controller ControllerConfig    `yaml:"controller"`
	Account    AccountConfig       `yaml:"account"`
	Risk       RiskConfig          `yaml:"risk"`
	Strategies []strategies.Config `yaml:"strategies"`
	Feed       FeedConfig          `yaml:"feed"`
	Journal    JournalConfig       `yaml:"journal"`
	Metrics    MetricsConfig       `yaml:"metrics"`
	LogLevel   string              `yaml:"log_level" envconfig:"PILOT_LOG_LEVEL"`
}

// ControllerConfig tunes resolution and sizing behavior.
type ControllerConfig struct {
	Mode            string        `yaml:"mode" envconfig:"PILOT_MODE"`
	OrderNotional   float64       `yaml:"order_notional" envconfig:"PILOT_ORDER_NOTIONAL"`
	AnalyzeInterval Duration      `yaml:"analyze_interval" envconfig:"PILOT_ANALYZE_INTERVAL"`
	CloseBuffer     float64       `yaml:"close_buffer"`
	MaxActive       int           `yaml:"max_active"`
}

// AccountConfig seeds the paper-trading balance sheet.
type AccountConfig struct {
	Balances map[string]float64 `yaml:"balances"`
}

// RiskConfig overrides the sizer thresholds. Zero values keep the defaults.
type RiskConfig struct {
	SellSoftCap     float64 `yaml:"sell_soft_cap"`
	SellHardCap     float64 `yaml:"sell_hard_cap"`
	BuyNotionalCap  float64 `yaml:"buy_notional_cap"`
	BuyBalanceUsage float64 `yaml:"buy_balance_usage"`
	BuyMinBalance   float64 `yaml:"buy_min_balance"`
	LimitBuyBand    float64 `yaml:"limit_buy_band"`
	LimitBuyClamp   float64 `yaml:"limit_buy_clamp"`
}

// FeedConfig selects the market data source.
type FeedConfig struct {
	Provider string `yaml:"provider" envconfig:"PILOT_FEED_PROVIDER"` // "sim" or "websocket"
	URL      string `yaml:"url" envconfig:"PILOT_FEED_URL"`
}

// JournalConfig enables the trade journal.
type JournalConfig struct {
	DBPath string `yaml:"db_path" envconfig:"PILOT_JOURNAL_DB"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"PILOT_METRICS_ADDR"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			Mode:            string(resolve.PerformanceWeighted),
			OrderNotional:   1000,
			AnalyzeInterval: Duration(30 * time.Second),
			MaxActive:       10,
		},
		Account:  AccountConfig{Balances: map[string]float64{"USD": 10_000}},
		Feed:     FeedConfig{Provider: "sim"},
		Metrics:  MetricsConfig{Addr: ":9090"},
		LogLevel: "info",
	}
}

// Load reads path (YAML), overlays defaults for unset fields, applies
// PILOT_* environment overrides, and validates. An empty path loads the
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if !resolve.Mode(c.Controller.Mode).Valid() {
		return fmt.Errorf("controller.mode %q is not a resolution mode", c.Controller.Mode)
	}
	if c.Controller.OrderNotional <= 0 {
		return fmt.Errorf("controller.order_notional must be positive")
	}
	if c.Controller.MaxActive <= 0 {
		return fmt.Errorf("controller.max_active must be positive")
	}
	if c.Feed.Provider != "sim" && c.Feed.Provider != "websocket" {
		return fmt.Errorf("feed.provider %q is not supported (sim, websocket)", c.Feed.Provider)
	}
	for i, s := range c.Strategies {
		if s.Instrument == "" {
			return fmt.Errorf("strategies[%d]: instrument is required", i)
		}
		if s.Type == "" {
			return fmt.Errorf("strategies[%d]: type is required", i)
		}
	}
	return nil
}

// Policy converts the risk section into sizer thresholds. Zero fields fall
// back to the defaults inside the sizer.
func (c *Config) Policy() risk.Policy {
	return risk.Policy{
		SellSoftCap:     c.Risk.SellSoftCap,
		SellHardCap:     c.Risk.SellHardCap,
		BuyNotionalCap:  c.Risk.BuyNotionalCap,
		BuyBalanceUsage: c.Risk.BuyBalanceUsage,
		BuyMinBalance:   c.Risk.BuyMinBalance,
		LimitBuyBand:    c.Risk.LimitBuyBand,
		LimitBuyClamp:   c.Risk.LimitBuyClamp,
	}
}
