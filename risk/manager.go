// Package risk gates prospective orders against loss, exposure, and
// portfolio limits, and computes position size. One Manager may be shared by
// several trading engines; every entry point holds the internal mutex, which
// is acceptable because calls happen once per closed bar, not per tick.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

// Sizing methods.
const (
	MethodFixed = "fixed"
	MethodKelly = "kelly"
)

// kellyMinTrades is how many recorded trades Kelly sizing needs before it
// stops falling back to fixed-risk.
const kellyMinTrades = 10

// Config holds the limits the Manager enforces.
type Config struct {
	MaxDailyLossPct       float64             // percent of daily starting equity, e.g. 5.0
	MaxPortfolioRiskPct   float64             // percent of current equity, e.g. 10.0
	MaxCorrelatedExposure int                 // same-group open positions
	MaxOpenPositions      int                 //
	SizeMethod            string              // "fixed" or "kelly"
	KellyFraction         float64             // cap on f*, e.g. 0.5
	RiskPerTrade          float64             // fraction of equity, e.g. 0.02
	CorrelationGroups     map[string][]string // group name -> "SYMBOL_SIDE" keys
}

func DefaultConfig() Config {
	return Config{
		MaxDailyLossPct:       5.0,
		MaxPortfolioRiskPct:   10.0,
		MaxCorrelatedExposure: 2,
		MaxOpenPositions:      3,
		SizeMethod:            MethodFixed,
		KellyFraction:         0.5,
		RiskPerTrade:          0.02,
		CorrelationGroups: map[string][]string{
			"usd_long":  {"EUR_USD_SELL", "GBP_USD_SELL", "USD_JPY_BUY"},
			"usd_short": {"EUR_USD_BUY", "GBP_USD_BUY", "USD_JPY_SELL"},
		},
	}
}

func (c Config) validate() error {
	switch c.SizeMethod {
	case MethodFixed, MethodKelly:
	default:
		return fmt.Errorf("risk: unknown size method %q (want %s|%s)", c.SizeMethod, MethodFixed, MethodKelly)
	}
	return nil
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	CircuitBreakerActive bool
	DailyPnL             float64
	DailyPnLPct          float64
	DailyLossLimitPct    float64
	MaxPortfolioRiskPct  float64
	SizeMethod           string
	OpenPositions        int
	MaxOpenPositions     int
	WinCount             int
	LossCount            int
}

// Manager is a thread-safe risk gate over one broker account.
type Manager struct {
	broker broker.Broker
	cfg    Config

	mu          sync.Mutex
	breaker     bool
	dailyDate   string // UTC date "2006-01-02"; empty until first baseline
	dailyStart  float64
	dailyPnL    float64
	winCount    int
	lossCount   int
	totalWins   float64
	totalLosses float64

	now func() time.Time
	log *slog.Logger
}

func NewManager(b broker.Broker, cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		broker: b,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default().With("component", "risk"),
	}, nil
}

// SetClock overrides the UTC clock used for daily rollovers. For tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// CheckDailyLoss reports whether trading may continue under the daily loss
// limit. A tripped circuit breaker fails fast; the daily baseline rolls
// forward lazily when the UTC date advances.
func (m *Manager) CheckDailyLoss(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A UTC day rollover clears the breaker before the fail-fast check.
	m.ensureDailyResetLocked(ctx)

	if m.breaker {
		return false
	}

	account, err := m.broker.AccountInfo(ctx)
	if err != nil {
		m.log.Warn("daily_loss_account_error", "error", err)
		return false
	}

	if m.dailyStart <= 0 {
		return true
	}
	dailyPnL := account.Equity - m.dailyStart
	lossPct := math.Abs(math.Min(dailyPnL, 0)) / m.dailyStart * 100
	if lossPct >= m.cfg.MaxDailyLossPct {
		m.breaker = true
		m.log.Warn("circuit_breaker_triggered",
			"daily_loss_pct", lossPct,
			"limit", m.cfg.MaxDailyLossPct,
		)
		return false
	}
	return true
}

// CheckPositionLimits enforces the open-position cap and correlated
// exposure for the prospective symbol/side.
func (m *Manager) CheckPositionLimits(ctx context.Context, symbol string, side market.Side) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions, err := m.broker.Positions(ctx)
	if err != nil {
		m.log.Warn("position_limits_error", "error", err)
		return false
	}

	if len(positions) >= m.cfg.MaxOpenPositions {
		m.log.Warn("position_limit_reached", "open", len(positions), "max", m.cfg.MaxOpenPositions)
		return false
	}

	newKey := exposureKey(symbol, side)
	for group, keys := range m.cfg.CorrelationGroups {
		if !contains(keys, newKey) {
			continue
		}
		count := 0
		for _, pos := range positions {
			if contains(keys, exposureKey(pos.Symbol, pos.Side)) {
				count++
			}
		}
		if count >= m.cfg.MaxCorrelatedExposure {
			m.log.Warn("correlated_exposure_limit",
				"group", group,
				"count", count,
				"max", m.cfg.MaxCorrelatedExposure,
			)
			return false
		}
	}
	return true
}

// CheckPortfolioRisk sums money-at-risk (distance to stop, in account
// currency) across open positions and compares against the portfolio cap.
func (m *Manager) CheckPortfolioRisk(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.broker.AccountInfo(ctx)
	if err != nil {
		m.log.Warn("portfolio_risk_account_error", "error", err)
		return false
	}
	if account.Equity <= 0 {
		return false
	}

	positions, err := m.broker.Positions(ctx)
	if err != nil {
		m.log.Warn("portfolio_risk_positions_error", "error", err)
		return false
	}

	var totalRisk float64
	for _, pos := range positions {
		if pos.StopLoss <= 0 || pos.EntryPrice <= 0 {
			continue
		}
		pip := market.PipValue(pos.Symbol)
		totalRisk += math.Abs(pos.EntryPrice-pos.StopLoss) * pos.Volume / pip
	}

	riskPct := totalRisk / account.Equity * 100
	if riskPct >= m.cfg.MaxPortfolioRiskPct {
		m.log.Warn("portfolio_risk_limit", "risk_pct", riskPct, "max", m.cfg.MaxPortfolioRiskPct)
		return false
	}
	return true
}

// PositionSize computes order volume from equity and the stop distance.
// Under the Kelly method the risk fraction comes from recorded win/loss
// statistics, falling back to fixed-risk until enough trades exist.
// A zero stop distance sizes to zero.
func (m *Manager) PositionSize(equity, stopDistance float64, symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stopDistance <= 0 {
		return 0
	}

	fraction := m.cfg.RiskPerTrade
	if m.cfg.SizeMethod == MethodKelly {
		fraction = m.kellyFractionLocked()
	}

	riskAmount := equity * fraction
	pip := market.PipValue(symbol)
	return math.Max(riskAmount*pip/stopDistance, 0)
}

// kellyFractionLocked computes f* = (p*b - q)/b clamped to [0, KellyFraction].
func (m *Manager) kellyFractionLocked() float64 {
	total := m.winCount + m.lossCount
	if total < kellyMinTrades {
		return m.cfg.RiskPerTrade
	}

	p := float64(m.winCount) / float64(total)
	q := 1 - p

	avgWin := 0.0
	if m.winCount > 0 {
		avgWin = m.totalWins / float64(m.winCount)
	}
	avgLoss := 1.0
	if m.lossCount > 0 {
		avgLoss = m.totalLosses / float64(m.lossCount)
	}
	if avgLoss <= 0 {
		return m.cfg.RiskPerTrade
	}

	b := avgWin / avgLoss
	if b <= 0 {
		return m.cfg.RiskPerTrade
	}

	kelly := (p*b - q) / b
	kelly = math.Max(kelly, 0)
	return math.Min(kelly, m.cfg.KellyFraction)
}

// RecordTrade feeds a realized PnL into the win/loss statistics used by
// Kelly sizing and the running daily realized PnL.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL += pnl
	switch {
	case pnl > 0:
		m.winCount++
		m.totalWins += pnl
	case pnl < 0:
		m.lossCount++
		m.totalLosses += math.Abs(pnl)
	}
}

// ResetDaily clears the circuit breaker and re-baselines the daily starting
// equity to current equity.
func (m *Manager) ResetDaily(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked(ctx)
	m.log.Info("daily_reset", "starting_equity", m.dailyStart)
}

func (m *Manager) resetDailyLocked(ctx context.Context) {
	m.breaker = false
	m.dailyPnL = 0
	if account, err := m.broker.AccountInfo(ctx); err == nil {
		m.dailyStart = account.Equity
	}
	m.dailyDate = m.now().UTC().Format("2006-01-02")
}

func (m *Manager) ensureDailyResetLocked(ctx context.Context) {
	today := m.now().UTC().Format("2006-01-02")
	if m.dailyDate != today {
		m.resetDailyLocked(ctx)
	}
}

// CircuitBreakerActive reports whether the breaker has tripped.
func (m *Manager) CircuitBreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breaker
}

// Status returns an operator snapshot.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		CircuitBreakerActive: m.breaker,
		DailyLossLimitPct:    m.cfg.MaxDailyLossPct,
		MaxPortfolioRiskPct:  m.cfg.MaxPortfolioRiskPct,
		SizeMethod:           m.cfg.SizeMethod,
		MaxOpenPositions:     m.cfg.MaxOpenPositions,
		WinCount:             m.winCount,
		LossCount:            m.lossCount,
	}
	if account, err := m.broker.AccountInfo(ctx); err == nil && m.dailyStart > 0 {
		st.DailyPnL = account.Equity - m.dailyStart
		st.DailyPnLPct = st.DailyPnL / m.dailyStart * 100
	}
	if positions, err := m.broker.Positions(ctx); err == nil {
		st.OpenPositions = len(positions)
	}
	return st
}

func exposureKey(symbol string, side market.Side) string {
	return symbol + "_" + string(side)
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
