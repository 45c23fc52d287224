// Package config defines all configuration for the trading engine binary.
// Config is loaded from a TOML file via --config, with env var overrides for
// sensitive fields mirroring the reference's POLY_* convention.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/nullma/ttquant/internal/errs"
)

// Config is the top-level configuration, mapping directly onto the TOML
// schema's tables.
type Config struct {
	Global        GlobalConfig       `mapstructure:"global"`
	Strategies    []StrategyConfig   `mapstructure:"strategies"`
	RiskMgmt      RiskMgmtConfig     `mapstructure:"risk_management"`
	Bus           BusConfig          `mapstructure:"bus"`
	Backtest      BacktestConfig     `mapstructure:"backtest"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Snapshot      SnapshotConfig     `mapstructure:"snapshot"`
}

// GlobalConfig controls process-wide behavior.
type GlobalConfig struct {
	TradingMode string `mapstructure:"trading_mode"` // "live" or "backtest"
	LogLevel    string `mapstructure:"log_level"`
}

// StrategyConfig describes one strategy instance to construct and register.
type StrategyConfig struct {
	Name       string                 `mapstructure:"name"`
	Type       string                 `mapstructure:"type"` // "ema_cross", "grid", "momentum"
	Enabled    bool                   `mapstructure:"enabled"`
	Symbol     string                 `mapstructure:"symbol"`
	Exchange   string                 `mapstructure:"exchange"`
	Parameters map[string]interface{} `mapstructure:"parameters"`
}

// RiskMgmtConfig mirrors types.RiskConfig plus the starting capital figure
// used to seed the risk gate's capital and the backtest's initial equity.
type RiskMgmtConfig struct {
	InitialCapital      float64 `mapstructure:"initial_capital"`
	StopLossPct         float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct       float64 `mapstructure:"take_profit_pct"`
	MaxPositionPct      float64 `mapstructure:"max_position_pct"`
	MaxTotalPositionPct float64 `mapstructure:"max_total_position_pct"`
	DailyLossLimit      float64 `mapstructure:"daily_loss_limit"`
	MaxPositions        int     `mapstructure:"max_positions"`
	Enabled             bool    `mapstructure:"enabled"`
}

// BusConfig addresses the message-bus endpoints the live engine opens.
type BusConfig struct {
	NATSURLs      []string `mapstructure:"nats_urls"`
	MDEndpoints   []string `mapstructure:"md_endpoints"`
	TradeEndpoint string   `mapstructure:"trade_endpoint"`
	OrderEndpoint string   `mapstructure:"order_endpoint"`
}

// BacktestConfig parameterizes the data source, simulated gateway, and
// equity-recording cadence used in backtest mode.
type BacktestConfig struct {
	DBDSN                 string  `mapstructure:"db_dsn"`
	Venue                 string  `mapstructure:"venue"`
	Preload               bool    `mapstructure:"preload"`
	RecordEquityInterval  int     `mapstructure:"record_equity_interval"`
	SlippageModel         string  `mapstructure:"slippage_model"` // none|fixed|percentage|market_depth
	SlippageValue         float64 `mapstructure:"slippage_value"`
	MakerFee              float64 `mapstructure:"maker_fee"`
	TakerFee              float64 `mapstructure:"taker_fee"`
	MinCommission         float64 `mapstructure:"min_commission"`
	RejectRate            float64 `mapstructure:"reject_rate"`
	Seed                  uint64  `mapstructure:"seed"`
}

// ObservabilityConfig controls the metrics HTTP endpoint.
type ObservabilityConfig struct {
	Port int `mapstructure:"port"`
}

// SnapshotConfig controls the position snapshot sidecar (§4.14). Dir is
// empty by default, which disables the sidecar entirely: no directory is
// created and no snapshot is ever written.
type SnapshotConfig struct {
	Dir             string `mapstructure:"dir"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// Load reads config from a TOML file, applying env var overrides for the
// data-source DSN (the one plausibly sensitive field in this schema).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("TTQUANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backtest.record_equity_interval", 100)
	v.SetDefault("snapshot.interval_seconds", 60)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %q: %w", path, err)
	}

	if dsn := os.Getenv("TTQUANT_BACKTEST_DB_DSN"); dsn != "" {
		cfg.Backtest.DBDSN = dsn
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges, returning an
// ErrConfigInvalid-wrapped error describing the first problem found.
func (c *Config) Validate() error {
	switch c.Global.TradingMode {
	case "live", "backtest":
	default:
		return fmt.Errorf("config: global.trading_mode must be \"live\" or \"backtest\", got %q: %w", c.Global.TradingMode, errs.ErrConfigInvalid)
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("config: at least one [[strategies]] entry is required: %w", errs.ErrConfigInvalid)
	}
	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("config: strategy entry missing name: %w", errs.ErrConfigInvalid)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate strategy name %q: %w", s.Name, errs.ErrConfigInvalid)
		}
		seen[s.Name] = true
		if s.Symbol == "" {
			return fmt.Errorf("config: strategy %q missing symbol: %w", s.Name, errs.ErrConfigInvalid)
		}
	}

	if c.RiskMgmt.InitialCapital <= 0 {
		return fmt.Errorf("config: risk_management.initial_capital must be > 0: %w", errs.ErrConfigInvalid)
	}
	if c.RiskMgmt.MaxPositions <= 0 {
		return fmt.Errorf("config: risk_management.max_positions must be > 0: %w", errs.ErrConfigInvalid)
	}

	if c.Snapshot.Dir != "" && c.Snapshot.IntervalSeconds <= 0 {
		return fmt.Errorf("config: snapshot.interval_seconds must be > 0 when snapshot.dir is set: %w", errs.ErrConfigInvalid)
	}

	if c.Global.TradingMode == "live" {
		if len(c.Bus.NATSURLs) == 0 {
			return fmt.Errorf("config: bus.nats_urls is required in live mode: %w", errs.ErrConfigInvalid)
		}
		if c.Bus.OrderEndpoint == "" {
			return fmt.Errorf("config: bus.order_endpoint is required in live mode: %w", errs.ErrConfigInvalid)
		}
	}

	if c.Global.TradingMode == "backtest" {
		if c.Backtest.DBDSN == "" {
			return fmt.Errorf("config: backtest.db_dsn is required in backtest mode: %w", errs.ErrConfigInvalid)
		}
		switch c.Backtest.SlippageModel {
		case "none", "fixed", "percentage", "market_depth":
		default:
			return fmt.Errorf("config: backtest.slippage_model %q is invalid: %w", c.Backtest.SlippageModel, errs.ErrConfigInvalid)
		}
	}

	return nil
}
