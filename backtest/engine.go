// Package backtest replays bar sequences with attached signals through the
// same fill, sizing, and PnL rules live trading uses.
//
// Known limitation, kept deliberately: position sizing is unconstrained by
// account capacity — there is no margin model and no broker-side rejection
// when risk-sized volume exceeds what a real account could carry.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/strategies"
)

// Config controls the replay fill model and sizing.
type Config struct {
	Capital       float64
	SpreadPips    float64
	SlippagePips  float64
	RiskPerTrade  float64
	MaxPositions  int
	UseRiskSizing bool
}

func DefaultConfig() Config {
	return Config{
		Capital:       10000,
		SpreadPips:    1.5,
		SlippagePips:  0.5,
		RiskPerTrade:  0.02,
		MaxPositions:  3,
		UseRiskSizing: true,
	}
}

// Row is one bar with the signal the strategy attached to it.
type Row struct {
	market.Candle
	Signal strategies.Signal
}

// Attach zips candles with their signals into replay rows. A length
// mismatch is a configuration error.
func Attach(candles []market.Candle, signals []strategies.Signal) ([]Row, error) {
	if len(candles) != len(signals) {
		return nil, fmt.Errorf("backtest: %d candles but %d signals", len(candles), len(signals))
	}
	rows := make([]Row, len(candles))
	for i := range candles {
		rows[i] = Row{Candle: candles[i], Signal: signals[i]}
	}
	return rows, nil
}

// Result holds the closed trades and per-bar mark-to-market equity.
type Result struct {
	Trades         []broker.ClosedTrade
	EquityCurve    []float64
	InitialCapital float64
}

// FinalEquity is the last point of the equity curve, or the initial capital
// for an empty run.
func (r Result) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return r.InitialCapital
	}
	return r.EquityCurve[len(r.EquityCurve)-1]
}

type position struct {
	side       market.Side
	entryTime  time.Time
	entryPrice float64
	volume     float64
	stopLoss   float64
	takeProfit float64
}

// Engine replays rows deterministically, bar by bar.
type Engine struct {
	cfg       Config
	symbol    string
	timeframe string
	strategy  string
	pipValue  float64
}

func NewEngine(cfg Config, symbol, timeframe, strategyName string) *Engine {
	return &Engine{
		cfg:       cfg,
		symbol:    symbol,
		timeframe: timeframe,
		strategy:  strategyName,
		pipValue:  market.PipValue(symbol),
	}
}

// Run replays the rows. Per bar: open positions are checked for SL/TP
// against the bar's high/low (SL first — conservative tie-break), then a
// non-trivial signal may open a position at an adverse-adjusted fill, then
// mark-to-market equity is recorded. Positions still open after the last
// bar are force-closed at its close with reason END.
func (e *Engine) Run(rows []Row) (Result, error) {
	if len(rows) == 0 {
		return Result{}, fmt.Errorf("backtest: no rows to replay")
	}

	equity := e.cfg.Capital
	var open []*position
	var trades []broker.ClosedTrade
	curve := make([]float64, 0, len(rows))

	for _, row := range rows {
		// Phase A: resolve exits on open positions, SL before TP.
		remaining := open[:0]
		for _, pos := range open {
			if exit, reason, hit := e.checkExit(pos, row); hit {
				trade := e.buildTrade(pos, exit, row.Time, reason)
				equity += trade.PnL
				trades = append(trades, trade)
			} else {
				remaining = append(remaining, pos)
			}
		}
		open = remaining

		// Phase B: enter on this bar's signal.
		sig := row.Signal
		if sig.Side != market.None && sig.Side != "" && len(open) < e.cfg.MaxPositions &&
			!math.IsNaN(sig.StopLoss) && !math.IsNaN(sig.TakeProfit) {
			entry := e.applySpreadSlippage(row.Close, sig.Side)
			volume := e.volume(equity, entry, sig.StopLoss)
			if volume > 0 {
				open = append(open, &position{
					side:       sig.Side,
					entryTime:  row.Time,
					entryPrice: entry,
					volume:     volume,
					stopLoss:   sig.StopLoss,
					takeProfit: sig.TakeProfit,
				})
			}
		}

		// Phase C: record mark-to-market equity.
		mtm := equity
		for _, pos := range open {
			mtm += market.PnL(pos.side, pos.entryPrice, row.Close, pos.volume, e.pipValue)
		}
		curve = append(curve, mtm)
	}

	// Force-close leftovers at the final close.
	last := rows[len(rows)-1]
	for _, pos := range open {
		trade := e.buildTrade(pos, last.Close, last.Time, broker.ExitEnd)
		trades = append(trades, trade)
	}

	return Result{
		Trades:         trades,
		EquityCurve:    curve,
		InitialCapital: e.cfg.Capital,
	}, nil
}

// checkExit resolves SL before TP using the bar's full range, the same
// ordering the live engine applies per tick.
func (e *Engine) checkExit(pos *position, row Row) (exitPrice float64, reason broker.ExitReason, hit bool) {
	if pos.side == market.Buy {
		if row.Low <= pos.stopLoss {
			return pos.stopLoss, broker.ExitStopLoss, true
		}
		if row.High >= pos.takeProfit {
			return pos.takeProfit, broker.ExitTakeProfit, true
		}
	} else {
		if row.High >= pos.stopLoss {
			return pos.stopLoss, broker.ExitStopLoss, true
		}
		if row.Low <= pos.takeProfit {
			return pos.takeProfit, broker.ExitTakeProfit, true
		}
	}
	return 0, "", false
}

func (e *Engine) buildTrade(pos *position, exitPrice float64, exitTime time.Time, reason broker.ExitReason) broker.ClosedTrade {
	return broker.ClosedTrade{
		Strategy:   e.strategy,
		Symbol:     e.symbol,
		Timeframe:  e.timeframe,
		Side:       pos.side,
		EntryTime:  pos.entryTime,
		ExitTime:   exitTime,
		EntryPrice: pos.entryPrice,
		ExitPrice:  exitPrice,
		Volume:     pos.volume,
		PnL:        market.PnL(pos.side, pos.entryPrice, exitPrice, pos.volume, e.pipValue),
		StopLoss:   pos.stopLoss,
		TakeProfit: pos.takeProfit,
		ExitReason: reason,
	}
}

// applySpreadSlippage worsens the entry by spread plus slippage in the
// unfavorable direction for the side taken.
func (e *Engine) applySpreadSlippage(price float64, side market.Side) float64 {
	adjustment := (e.cfg.SpreadPips + e.cfg.SlippagePips) * e.pipValue
	if side == market.Sell {
		return price - adjustment
	}
	return price + adjustment
}

// volume applies the fixed-risk sizing formula shared with live trading.
// Kelly sizing is live-only; replays stay deterministic.
func (e *Engine) volume(equity, entry, stopLoss float64) float64 {
	if !e.cfg.UseRiskSizing {
		return 1.0
	}
	dist := math.Abs(entry - stopLoss)
	if dist == 0 {
		return 0
	}
	riskAmount := equity * e.cfg.RiskPerTrade
	return math.Max(riskAmount*e.pipValue/dist, 0)
}
