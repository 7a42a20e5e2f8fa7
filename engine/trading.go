// Package engine orchestrates live trading: one feed, one broker, one
// strategy per engine instance. Tick handling runs on a single dedicated
// goroutine per instance, so the aggregator needs no locking of its own;
// the counters Health exposes are shared with pollers and sit under the
// engine mutex.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/feed"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/strategies"
)

// MinSignalBars is the history length required before the strategy is
// consulted. EMA-200 needs this many closes to be meaningful.
const MinSignalBars = 200

type state int

const (
	stateStopped state = iota
	stateWarming
	stateRunning
	stateStopping
)

func (s state) String() string {
	switch s {
	case stateWarming:
		return "warming"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config holds per-engine runtime settings.
type Config struct {
	Symbol          string
	Timeframe       string
	HistorySize     int
	TickLogInterval time.Duration
	StopTimeout     time.Duration
	RunID           string
	PersistTrades   bool
}

func DefaultConfig() Config {
	return Config{
		Symbol:          "EUR_USD",
		Timeframe:       "1m",
		HistorySize:     market.DefaultHistorySize,
		TickLogInterval: 60 * time.Second,
		StopTimeout:     10 * time.Second,
	}
}

// Health is a point-in-time snapshot for external monitoring.
type Health struct {
	Running              bool
	StreamAlive          bool
	SecondsSinceLastTick float64
	ConsecutiveTickErrs  int
}

// Trading drives the live loop for one symbol/strategy pair.
type Trading struct {
	cfg      Config
	feed     feed.Feed
	broker   broker.Broker
	strategy strategies.Strategy
	riskMgr  *risk.Manager
	bus      *Bus
	repo     journal.TradeRepository

	agg *market.Aggregator
	log *slog.Logger

	// guards lifecycle state and the health counters Health reads while
	// the streaming goroutine writes them
	mu          sync.Mutex
	st          state
	cancel      context.CancelFunc
	done        chan struct{}
	streamAlive bool
	lastTick    time.Time
	tickErrs    int

	// touched only from the streaming goroutine
	tickCount  int
	lastReport time.Time
}

// NewTrading wires an engine. The risk manager, bus, and repository are
// optional; a nil bus is replaced with a private one so Publish never needs
// a guard.
func NewTrading(cfg Config, f feed.Feed, b broker.Broker, strat strategies.Strategy, rm *risk.Manager, bus *Bus, repo journal.TradeRepository) (*Trading, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = market.DefaultHistorySize
	}
	if cfg.TickLogInterval <= 0 {
		cfg.TickLogInterval = 60 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	agg, err := market.NewAggregator(cfg.Timeframe, cfg.HistorySize)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		bus = NewBus()
	}

	return &Trading{
		cfg:      cfg,
		feed:     f,
		broker:   b,
		strategy: strat,
		riskMgr:  rm,
		bus:      bus,
		repo:     repo,
		agg:      agg,
		log: slog.Default().With(
			"component", "engine",
			"symbol", cfg.Symbol,
			"timeframe", cfg.Timeframe,
			"strategy", strat.Name(),
		),
	}, nil
}

func (t *Trading) Bus() *Bus { return t.bus }

// Start seeds the aggregator from historical bars and launches the
// streaming goroutine. Only legal from the stopped state.
func (t *Trading) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.st != stateStopped {
		st := t.st
		t.mu.Unlock()
		return fmt.Errorf("start: engine is %s, must be stopped", st)
	}
	t.st = stateWarming
	t.mu.Unlock()

	if err := t.warmup(ctx); err != nil {
		t.mu.Lock()
		t.st = stateStopped
		t.mu.Unlock()
		return fmt.Errorf("warmup: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.st = stateRunning
	t.cancel = cancel
	t.done = done
	t.streamAlive = true
	t.mu.Unlock()

	t.log.Info("engine_started", "history_bars", t.agg.HistoryLen())
	t.bus.Publish(EventEngineStarted, map[string]any{
		"symbol":    t.cfg.Symbol,
		"timeframe": t.cfg.Timeframe,
		"strategy":  t.strategy.Name(),
	})

	go t.stream(streamCtx, done)
	return nil
}

// warmup fetches enough history to fill the bounded candle buffer, with a
// margin for weekend gaps in FX data.
func (t *Trading) warmup(ctx context.Context) error {
	period := t.agg.Period()
	span := time.Duration(t.cfg.HistorySize) * period * 2
	end := time.Now().UTC()
	start := end.Add(-span)

	candles, err := t.feed.Historical(ctx, t.cfg.Symbol, t.cfg.Timeframe, start, end)
	if err != nil {
		return err
	}
	if len(candles) > t.cfg.HistorySize {
		candles = candles[len(candles)-t.cfg.HistorySize:]
	}
	t.agg.SeedHistory(candles)
	return nil
}

func (t *Trading) stream(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := t.feed.StreamPrices(ctx, t.cfg.Symbol, t.onTick)

	t.mu.Lock()
	t.streamAlive = false
	stopping := t.st == stateStopping || t.st == stateStopped
	if !stopping {
		t.st = stateStopped
	}
	t.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return
	}

	// The stream died while the engine believed itself running. This is
	// fatal: the engine never restarts itself.
	t.log.Error("stream_dead", "error", err)
	t.bus.Publish(EventStreamDisconnected, map[string]any{"symbol": t.cfg.Symbol})
	t.bus.Publish(EventStreamDead, map[string]any{
		"symbol": t.cfg.Symbol,
		"error":  fmt.Sprint(err),
	})
}

// onTick is the serial per-tick path. A fault in one tick is logged and
// counted, never allowed to kill the stream.
func (t *Trading) onTick(tk market.Tick) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tick_panic", "panic", r, "consecutive_errors", t.bumpTickErrs())
		}
	}()

	if err := t.handleTick(tk); err != nil {
		t.log.Error("tick_error", "error", err, "consecutive_errors", t.bumpTickErrs())
		return
	}
	t.mu.Lock()
	t.tickErrs = 0
	t.mu.Unlock()
}

func (t *Trading) bumpTickErrs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tickErrs++
	return t.tickErrs
}

func (t *Trading) handleTick(tk market.Tick) error {
	ctx := context.Background()

	t.broker.UpdatePrice(tk.Symbol, tk.Bid, tk.Ask)

	if !t.broker.ServerManagedSLTP() {
		if err := t.sweepStops(ctx, tk); err != nil {
			return err
		}
	}

	if candle, sealed := t.agg.OnTick(tk.Time, tk.Bid, tk.Ask); sealed {
		t.bus.Publish(EventCandleClosed, map[string]any{
			"symbol":    t.cfg.Symbol,
			"timeframe": t.cfg.Timeframe,
			"candle":    candle,
		})
		if err := t.onCandleClose(ctx); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.lastTick = tk.Time
	t.mu.Unlock()
	t.tickCount++
	t.bus.Publish(EventTick, tk)
	t.reportTicks(tk.Time)
	return nil
}

// sweepStops closes any open position whose stop-loss or take-profit the
// current quote has breached. Stop-loss wins when both are touched.
func (t *Trading) sweepStops(ctx context.Context, tk market.Tick) error {
	positions, err := t.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("sweep stops: %w", err)
	}

	for _, p := range positions {
		if p.Symbol != tk.Symbol {
			continue
		}

		var exit float64
		var reason broker.ExitReason
		switch p.Side {
		case market.Buy:
			// longs mark against the bid
			if tk.Bid <= p.StopLoss {
				exit, reason = p.StopLoss, broker.ExitStopLoss
			} else if tk.Bid >= p.TakeProfit {
				exit, reason = p.TakeProfit, broker.ExitTakeProfit
			}
		case market.Sell:
			// shorts mark against the ask
			if tk.Ask >= p.StopLoss {
				exit, reason = p.StopLoss, broker.ExitStopLoss
			} else if tk.Ask <= p.TakeProfit {
				exit, reason = p.TakeProfit, broker.ExitTakeProfit
			}
		}
		if reason == "" {
			continue
		}

		res, err := t.broker.ClosePosition(ctx, p.OrderID, &exit, reason)
		if err != nil {
			t.log.Error("close_failed", "order_id", p.OrderID, "reason", reason, "error", err)
			continue
		}
		if !res.Success {
			t.log.Warn("close_rejected", "order_id", p.OrderID, "message", res.Message)
			continue
		}
		t.onPositionClosed(ctx, p.OrderID, reason)
	}
	return nil
}

func (t *Trading) onCandleClose(ctx context.Context) error {
	history := t.agg.History()
	if len(history) < MinSignalBars {
		t.log.Debug("warming", "bars", len(history), "need", MinSignalBars)
		return nil
	}

	bars := indicators.DropUndefined(indicators.AddAll(history))
	if len(bars) == 0 {
		return nil
	}

	signals, err := t.strategy.GenerateSignals(bars)
	if err != nil {
		return fmt.Errorf("%s: %w", t.strategy.Name(), err)
	}
	sig := signals[len(signals)-1]
	if !sig.Actionable() {
		return nil
	}

	last := bars[len(bars)-1]
	t.log.Info("signal",
		"side", sig.Side,
		"close", last.Close,
		"stop_loss", sig.StopLoss,
		"take_profit", sig.TakeProfit,
	)
	t.bus.Publish(EventSignal, map[string]any{
		"symbol":      t.cfg.Symbol,
		"side":        sig.Side,
		"stop_loss":   sig.StopLoss,
		"take_profit": sig.TakeProfit,
	})

	volume := 0.0
	if t.riskMgr != nil {
		ok, blocked := t.riskGate(ctx, sig)
		if !ok {
			t.log.Warn("risk_blocked", "gate", blocked, "side", sig.Side)
			return nil
		}

		acct, err := t.broker.AccountInfo(ctx)
		if err != nil {
			return fmt.Errorf("account info: %w", err)
		}
		volume = t.riskMgr.PositionSize(acct.Equity, math.Abs(last.Close-sig.StopLoss), t.cfg.Symbol)
		if volume <= 0 {
			t.log.Warn("zero_volume", "side", sig.Side)
			return nil
		}
	}

	res, err := t.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     t.cfg.Symbol,
		Side:       sig.Side,
		Volume:     volume,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	})
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	if !res.Success {
		t.log.Warn("order_rejected", "side", sig.Side, "message", res.Message)
		return nil
	}

	t.log.Info("order_filled",
		"order_id", res.OrderID,
		"side", res.Side,
		"price", res.Price,
		"volume", res.Volume,
	)
	t.bus.Publish(EventOrderFilled, res)
	return nil
}

// riskGate runs the three checks in order. The daily-loss gate additionally
// announces the circuit breaker, since tripping it halts the whole day.
func (t *Trading) riskGate(ctx context.Context, sig strategies.Signal) (bool, string) {
	if !t.riskMgr.CheckDailyLoss(ctx) {
		t.bus.Publish(EventCircuitBreaker, map[string]any{"symbol": t.cfg.Symbol})
		t.bus.Publish(EventRiskBlocked, map[string]any{"symbol": t.cfg.Symbol, "gate": "daily_loss"})
		return false, "daily_loss"
	}
	if !t.riskMgr.CheckPositionLimits(ctx, t.cfg.Symbol, sig.Side) {
		t.bus.Publish(EventRiskBlocked, map[string]any{"symbol": t.cfg.Symbol, "gate": "position_limits"})
		return false, "position_limits"
	}
	if !t.riskMgr.CheckPortfolioRisk(ctx) {
		t.bus.Publish(EventRiskBlocked, map[string]any{"symbol": t.cfg.Symbol, "gate": "portfolio_risk"})
		return false, "portfolio_risk"
	}
	return true, ""
}

// onPositionClosed looks up the closed trade, attributes strategy and
// timeframe, feeds realized PnL to the risk manager, and persists the trade.
// Repository failures are logged and swallowed.
func (t *Trading) onPositionClosed(ctx context.Context, orderID string, reason broker.ExitReason) {
	trades, err := t.broker.ClosedTrades(ctx)
	if err != nil || len(trades) == 0 {
		t.log.Error("closed_trade_lookup", "order_id", orderID, "error", err)
		return
	}

	trade := trades[len(trades)-1]
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].OrderID == orderID {
			trade = trades[i]
			break
		}
	}
	trade.Strategy = t.strategy.Name()
	trade.Timeframe = t.cfg.Timeframe

	if t.riskMgr != nil {
		t.riskMgr.RecordTrade(trade.PnL)
	}
	if t.repo != nil && t.cfg.PersistTrades {
		if err := t.repo.InsertTrade(trade, t.cfg.RunID); err != nil {
			t.log.Error("persist_trade", "order_id", orderID, "error", err)
		}
	}

	t.log.Info("position_closed",
		"order_id", trade.OrderID,
		"side", trade.Side,
		"pnl", trade.PnL,
		"exit_reason", reason,
	)
	t.bus.Publish(EventPositionClosed, trade)
}

func (t *Trading) reportTicks(now time.Time) {
	if t.lastReport.IsZero() {
		t.lastReport = now
		return
	}
	if now.Sub(t.lastReport) < t.cfg.TickLogInterval {
		return
	}
	t.log.Info("tick_summary",
		"ticks", t.tickCount,
		"history_bars", t.agg.HistoryLen(),
	)
	t.tickCount = 0
	t.lastReport = now
}

// Stop shuts the engine down: cancels the stream, closes every open
// position with reason SHUTDOWN, and logs the final account state.
// Idempotent; a no-op unless Running.
func (t *Trading) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.st != stateRunning {
		t.mu.Unlock()
		return nil
	}
	t.st = stateStopping
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()

	cancel()
	t.join(done)

	positions, err := t.broker.Positions(ctx)
	if err != nil {
		t.log.Error("shutdown_positions", "error", err)
	}
	for _, p := range positions {
		res, err := t.broker.ClosePosition(ctx, p.OrderID, nil, broker.ExitShutdown)
		if err != nil {
			t.log.Error("shutdown_close", "order_id", p.OrderID, "error", err)
			continue
		}
		if res.Success {
			t.onPositionClosed(ctx, p.OrderID, broker.ExitShutdown)
		}
	}

	if acct, err := t.broker.AccountInfo(ctx); err == nil {
		t.log.Info("final_account",
			"balance", acct.Balance,
			"equity", acct.Equity,
			"total_pnl", acct.TotalPnL,
		)
	}

	t.mu.Lock()
	t.st = stateStopped
	t.mu.Unlock()

	t.log.Info("engine_stopped")
	t.bus.Publish(EventEngineStopped, map[string]any{"symbol": t.cfg.Symbol})
	return nil
}

// join waits for the streaming goroutine with a bounded timeout. A stuck
// stream is logged, not fatal.
func (t *Trading) join(done chan struct{}) {
	select {
	case <-done:
	case <-time.After(t.cfg.StopTimeout):
		t.log.Warn("stream_join_timeout", "timeout", t.cfg.StopTimeout)
	}
}

// Wait blocks until the streaming goroutine exits or the timeout elapses.
// A timeout of 0 waits forever. Returns false on timeout.
func (t *Trading) Wait(timeout time.Duration) bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return true
	}

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *Trading) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st == stateRunning
}

// Health reports the engine's liveness for external monitoring.
func (t *Trading) Health() Health {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := Health{
		Running:             t.st == stateRunning,
		StreamAlive:         t.streamAlive,
		ConsecutiveTickErrs: t.tickErrs,
	}
	if !t.lastTick.IsZero() {
		h.SecondsSinceLastTick = time.Since(t.lastTick).Seconds()
	}
	return h
}
