// Package paper implements a simulated broker for paper trading. Fills are
// immediate at the current bid/ask plus slippage; accounting uses the same
// PnL formula as the backtest engine.
package paper

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/market"
)

type quote struct {
	bid, ask float64
}

// Config holds the simulated account and fill model.
type Config struct {
	Symbol       string
	Capital      float64
	SpreadPips   float64
	SlippagePips float64
	RiskPerTrade float64
	MaxPositions int
}

func DefaultConfig() Config {
	return Config{
		Symbol:       "EUR_USD",
		Capital:      10000,
		SpreadPips:   1.5,
		SlippagePips: 0.5,
		RiskPerTrade: 0.02,
		MaxPositions: 3,
	}
}

// Broker is a thread-safe simulated broker.
type Broker struct {
	mu        sync.Mutex
	cfg       Config
	pipValue  float64
	capital   float64
	initial   float64
	positions map[string]*broker.Position
	order     []string // insertion order of open positions
	closed    []broker.ClosedTrade
	quotes    map[string]quote
	now       func() time.Time
	log       *slog.Logger
}

func New(cfg Config) *Broker {
	if cfg.Symbol == "" {
		cfg.Symbol = "EUR_USD"
	}
	return &Broker{
		cfg:       cfg,
		pipValue:  market.PipValue(cfg.Symbol),
		capital:   cfg.Capital,
		initial:   cfg.Capital,
		positions: make(map[string]*broker.Position),
		quotes:    make(map[string]quote),
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.Default().With("component", "paper_broker"),
	}
}

// SetClock overrides the entry/exit timestamp source. Intended for tests.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// ServerManagedSLTP is false: the engine must sweep SL/TP on every tick.
func (b *Broker) ServerManagedSLTP() bool { return false }

func (b *Broker) UpdatePrice(symbol string, bid, ask float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = quote{bid: bid, ask: ask}
}

func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reject := func(msg string, price float64) (broker.OrderResult, error) {
		return broker.OrderResult{
			Symbol:  req.Symbol,
			Side:    req.Side,
			Price:   price,
			Success: false,
			Message: msg,
		}, nil
	}

	if len(b.positions) >= b.cfg.MaxPositions {
		return reject("max positions reached", 0)
	}

	q, ok := b.quotes[req.Symbol]
	if !ok {
		return reject("no price available", 0)
	}

	slippage := b.cfg.SlippagePips * b.pipValue
	fill := q.ask + slippage
	if req.Side == market.Sell {
		fill = q.bid - slippage
	}

	volume := req.Volume
	if volume == 0 {
		volume = b.defaultVolumeLocked(fill, req.StopLoss)
		if volume <= 0 {
			return reject("risk sizing returned zero volume", fill)
		}
	}

	pos := &broker.Position{
		OrderID:    id.New(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: fill,
		Volume:     volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		EntryTime:  b.now(),
	}
	b.positions[pos.OrderID] = pos
	b.order = append(b.order, pos.OrderID)

	b.log.Info("order_filled",
		"order_id", pos.OrderID,
		"side", req.Side,
		"price", fill,
		"volume", volume,
		"sl", req.StopLoss,
		"tp", req.TakeProfit,
	)

	return broker.OrderResult{
		OrderID: pos.OrderID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Price:   fill,
		Volume:  volume,
		Success: true,
		Message: "filled",
	}, nil
}

func (b *Broker) ClosePosition(ctx context.Context, orderID string, exitPrice *float64, reason broker.ExitReason) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[orderID]
	if !ok {
		return broker.OrderResult{
			OrderID: orderID,
			Success: false,
			Message: "position not found",
		}, nil
	}

	var exit float64
	if exitPrice != nil {
		exit = *exitPrice
	} else {
		q, ok := b.quotes[pos.Symbol]
		if !ok {
			return broker.OrderResult{
				OrderID: orderID,
				Symbol:  pos.Symbol,
				Side:    pos.Side,
				Success: false,
				Message: "no price available for close",
			}, nil
		}
		exit = q.bid
		if pos.Side == market.Sell {
			exit = q.ask
		}
	}

	pnl := market.PnL(pos.Side, pos.EntryPrice, exit, pos.Volume, b.pipValue)
	b.capital += pnl

	b.closed = append(b.closed, broker.ClosedTrade{
		OrderID:    pos.OrderID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		ExitTime:   b.now(),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Volume:     pos.Volume,
		PnL:        pnl,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		ExitReason: reason,
	})
	delete(b.positions, orderID)
	b.removeFromOrder(orderID)

	b.log.Info("position_closed",
		"order_id", orderID,
		"exit_price", exit,
		"pnl", pnl,
		"reason", reason,
	)

	return broker.OrderResult{
		OrderID: orderID,
		Symbol:  pos.Symbol,
		Side:    pos.Side,
		Price:   exit,
		Volume:  pos.Volume,
		Success: true,
		Message: "closed: " + string(reason),
	}, nil
}

func (b *Broker) Positions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.Position, 0, len(b.positions))
	for _, oid := range b.order {
		pos := b.positions[oid]
		p := *pos
		if q, ok := b.quotes[pos.Symbol]; ok {
			mark := q.bid
			if pos.Side == market.Sell {
				mark = q.ask
			}
			p.UnrealizedPnL = market.PnL(pos.Side, pos.EntryPrice, mark, pos.Volume, b.pipValue)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) AccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return broker.AccountInfo{
		Balance:       b.capital,
		Equity:        b.equityLocked(),
		OpenPositions: len(b.positions),
		TotalPnL:      b.capital - b.initial,
	}, nil
}

func (b *Broker) ClosedTrades(ctx context.Context) ([]broker.ClosedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.ClosedTrade, len(b.closed))
	copy(out, b.closed)
	return out, nil
}

// equityLocked is mark-to-market: capital + unrealized PnL of open positions.
func (b *Broker) equityLocked() float64 {
	equity := b.capital
	for _, pos := range b.positions {
		q, ok := b.quotes[pos.Symbol]
		if !ok {
			continue
		}
		mark := q.bid
		if pos.Side == market.Sell {
			mark = q.ask
		}
		equity += market.PnL(pos.Side, pos.EntryPrice, mark, pos.Volume, b.pipValue)
	}
	return equity
}

// defaultVolumeLocked sizes an order at RiskPerTrade of current equity,
// the same fixed-risk formula the backtest engine uses.
func (b *Broker) defaultVolumeLocked(entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return 0
	}
	riskAmount := b.equityLocked() * b.cfg.RiskPerTrade
	return math.Max(riskAmount*b.pipValue/dist, 0)
}

func (b *Broker) removeFromOrder(orderID string) {
	for i, oid := range b.order {
		if oid == orderID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}
