// Package config loads and validates bot configuration from YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/scalper/market"
)

// Config is the complete bot configuration.
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	Backtest BacktestConfig `json:"backtest" yaml:"backtest"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
}

// AccountConfig contains starting account parameters for paper trading.
type AccountConfig struct {
	Capital      float64 `json:"capital" yaml:"capital"`
	SpreadPips   float64 `json:"spread_pips" yaml:"spread_pips"`
	SlippagePips float64 `json:"slippage_pips" yaml:"slippage_pips"`
}

// EngineConfig contains live-loop parameters.
type EngineConfig struct {
	Symbol          string `json:"symbol" yaml:"symbol"`
	Timeframe       string `json:"timeframe" yaml:"timeframe"`
	HistorySize     int    `json:"history_size,omitempty" yaml:"history_size,omitempty"`
	TickLogInterval string `json:"tick_log_interval,omitempty" yaml:"tick_log_interval,omitempty"`
}

// TickLogIntervalDuration parses the tick summary interval, defaulting to
// one minute.
func (e EngineConfig) TickLogIntervalDuration() (time.Duration, error) {
	if e.TickLogInterval == "" {
		return time.Minute, nil
	}
	return time.ParseDuration(e.TickLogInterval)
}

// StrategyConfig selects and tunes the signal generator.
type StrategyConfig struct {
	Name string `json:"name" yaml:"name"` // "ema_crossover" or "bb_reversion"
}

// RiskConfig contains the risk manager limits.
type RiskConfig struct {
	MaxDailyLossPct       float64             `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxPortfolioRiskPct   float64             `json:"max_portfolio_risk_pct" yaml:"max_portfolio_risk_pct"`
	MaxCorrelatedExposure int                 `json:"max_correlated_exposure" yaml:"max_correlated_exposure"`
	MaxOpenPositions      int                 `json:"max_open_positions" yaml:"max_open_positions"`
	SizeMethod            string              `json:"size_method" yaml:"size_method"`
	KellyFraction         float64             `json:"kelly_fraction" yaml:"kelly_fraction"`
	RiskPerTrade          float64             `json:"risk_per_trade" yaml:"risk_per_trade"`
	CorrelationGroups     map[string][]string `json:"correlation_groups,omitempty" yaml:"correlation_groups,omitempty"`
}

// FeedConfig selects the price source.
type FeedConfig struct {
	Type      string `json:"type" yaml:"type"` // "demo" or "oanda"
	Env       string `json:"env,omitempty" yaml:"env,omitempty"`
	AccountID string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Token     string `json:"token,omitempty" yaml:"token,omitempty"`
}

// BrokerConfig selects the execution venue.
type BrokerConfig struct {
	Type      string `json:"type" yaml:"type"` // "paper" or "oanda"
	Env       string `json:"env,omitempty" yaml:"env,omitempty"`
	AccountID string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Token     string `json:"token,omitempty" yaml:"token,omitempty"`
}

// BacktestConfig contains backtest-run parameters.
type BacktestConfig struct {
	Symbol         string  `json:"symbol" yaml:"symbol"`
	Timeframe      string  `json:"timeframe" yaml:"timeframe"`
	Start          string  `json:"start" yaml:"start"`
	End            string  `json:"end" yaml:"end"`
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	SpreadPips     float64 `json:"spread_pips" yaml:"spread_pips"`
	SlippagePips   float64 `json:"slippage_pips" yaml:"slippage_pips"`
	RiskPerTrade   float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	MaxPositions   int     `json:"max_positions" yaml:"max_positions"`
}

// JournalConfig contains trade persistence parameters.
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	RunID  string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Enable bool   `json:"enable" yaml:"enable"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, YAML for .yaml/.yml and JSON
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Account.Capital <= 0 {
		return fmt.Errorf("account.capital must be positive")
	}
	if c.Engine.Symbol == "" {
		return fmt.Errorf("engine.symbol is required")
	}
	if _, err := market.TimeframePeriod(c.Engine.Timeframe); err != nil {
		return fmt.Errorf("engine.timeframe: %w", err)
	}
	if _, err := c.Engine.TickLogIntervalDuration(); err != nil {
		return fmt.Errorf("engine.tick_log_interval: %w", err)
	}
	switch c.Strategy.Name {
	case "ema_crossover", "bb_reversion":
	default:
		return fmt.Errorf("strategy.name must be 'ema_crossover' or 'bb_reversion'")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("risk.risk_per_trade must be between 0 and 1")
	}
	switch c.Feed.Type {
	case "demo":
	case "oanda":
		if c.Feed.AccountID == "" || c.Feed.Token == "" {
			return fmt.Errorf("feed account_id and token required for oanda feed")
		}
	default:
		return fmt.Errorf("feed.type must be 'demo' or 'oanda'")
	}
	switch c.Broker.Type {
	case "paper":
	case "oanda":
		if c.Broker.AccountID == "" || c.Broker.Token == "" {
			return fmt.Errorf("broker account_id and token required for oanda broker")
		}
	default:
		return fmt.Errorf("broker.type must be 'paper' or 'oanda'")
	}
	switch c.Journal.Type {
	case "", "none":
	case "csv", "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for %s journal", c.Journal.Type)
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}
	return nil
}

// Default returns a configuration with sensible paper-trading defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Capital:      10000,
			SpreadPips:   1.5,
			SlippagePips: 0.5,
		},
		Engine: EngineConfig{
			Symbol:          "EUR_USD",
			Timeframe:       "1m",
			HistorySize:     market.DefaultHistorySize,
			TickLogInterval: "1m",
		},
		Strategy: StrategyConfig{
			Name: "ema_crossover",
		},
		Risk: RiskConfig{
			MaxDailyLossPct:       5.0,
			MaxPortfolioRiskPct:   10.0,
			MaxCorrelatedExposure: 2,
			MaxOpenPositions:      3,
			SizeMethod:            "fixed",
			KellyFraction:         0.5,
			RiskPerTrade:          0.02,
		},
		Feed: FeedConfig{
			Type: "demo",
		},
		Broker: BrokerConfig{
			Type: "paper",
		},
		Backtest: BacktestConfig{
			Symbol:         "EUR_USD",
			Timeframe:      "1h",
			InitialCapital: 10000,
			SpreadPips:     1.5,
			SlippagePips:   0.5,
			RiskPerTrade:   0.02,
			MaxPositions:   3,
		},
		Journal: JournalConfig{
			Type: "none",
		},
	}
}
