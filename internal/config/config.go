// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path, applies defaults and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Portfolio.Leverage <= 0 {
		c.Portfolio.Leverage = 1
	}
	if c.Portfolio.RiskPerTrade <= 0 {
		c.Portfolio.RiskPerTrade = 0.001
	}
	if c.Portfolio.ProfitThreshold <= 0 {
		c.Portfolio.ProfitThreshold = 0.05
	}
	if c.Trailing.RiskRewardRatio <= 0 {
		c.Trailing.RiskRewardRatio = 1.1
	}
	if c.Trailing.MaxAdjustments <= 0 {
		c.Trailing.MaxAdjustments = 20
	}
	if c.Trailing.ATRPeriod <= 0 {
		c.Trailing.ATRPeriod = 14
	}
	if c.Trailing.ATRMultiplier <= 0 {
		c.Trailing.ATRMultiplier = 1.5
	}
	if c.Bus.Lanes <= 0 {
		c.Bus.Lanes = 8
	}
	if c.Bus.Buffer <= 0 {
		c.Bus.Buffer = 128
	}
	if c.Market.MaxCandles <= 0 {
		c.Market.MaxCandles = 500
	}
	if c.Binance.Asset == "" {
		c.Binance.Asset = "USDT"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8790"
	}
}

func validate(c *Config) error {
	if c.Portfolio.RiskPerTrade >= 1 {
		return fmt.Errorf("portfolio.risk_per_trade must be a fraction below 1, got %v", c.Portfolio.RiskPerTrade)
	}
	if c.Trailing.RiskRewardRatio <= 0 {
		return fmt.Errorf("trailing.risk_reward_ratio must be positive")
	}
	if c.Bus.Lanes > 256 {
		return fmt.Errorf("bus.lanes too large: %d", c.Bus.Lanes)
	}
	return nil
}

// Summary renders the effective config as YAML for startup logging.
// Secrets are masked.
func (c *Config) Summary() string {
	cp := *c
	if cp.Binance.APIKey != "" {
		cp.Binance.APIKey = "****"
	}
	if cp.Binance.APISecret != "" {
		cp.Binance.APISecret = "****"
	}
	out, err := yaml.Marshal(&cp)
	if err != nil {
		return fmt.Sprintf("config: %+v", cp)
	}
	return string(out)
}
