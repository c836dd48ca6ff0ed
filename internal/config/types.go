package config

// Config is the root configuration for the engine.
type Config struct {
	App       AppConfig       `toml:"app"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Trailing  TrailingConfig  `toml:"trailing"`
	Bus       BusConfig       `toml:"bus"`
	Market    MarketConfig    `toml:"market"`
	Binance   BinanceConfig   `toml:"binance"`
	Archive   ArchiveConfig   `toml:"archive"`
	Journal   JournalConfig   `toml:"journal"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// PortfolioConfig holds the lifecycle manager tunables.
type PortfolioConfig struct {
	Leverage int `toml:"leverage"`
	// RiskPerTrade is the fraction of the account risked per position.
	RiskPerTrade float64 `toml:"risk_per_trade"`
	// ProfitThreshold is the minimum favorable move, in price units,
	// before a directional exit signal is honored.
	ProfitThreshold float64 `toml:"profit_threshold"`
}

// TrailingConfig drives the trailing stop-loss finder.
type TrailingConfig struct {
	RiskRewardRatio float64 `toml:"risk_reward_ratio"`
	MaxAdjustments  int     `toml:"max_adjustments"`
	ATRPeriod       int     `toml:"atr_period"`
	ATRMultiplier   float64 `toml:"atr_multiplier"`
}

type BusConfig struct {
	Lanes  int `toml:"lanes"`
	Buffer int `toml:"buffer"`
}

type MarketConfig struct {
	// MaxCandles bounds the in-memory window kept per symbol and timeframe.
	MaxCandles int `toml:"max_candles"`
}

type BinanceConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	// Asset is the quote asset used to read the account size, e.g. USDT.
	Asset string `toml:"asset"`
}

type ArchiveConfig struct {
	Path string `toml:"path"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}
