// Package broker defines the execution contract the trading engine drives.
// Implementations must realize PnL through market.PnL so that live and
// backtested accounting agree exactly.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "SL"
	ExitTakeProfit ExitReason = "TP"
	ExitManual     ExitReason = "MANUAL"
	ExitShutdown   ExitReason = "SHUTDOWN"
	ExitEnd        ExitReason = "END"
)

// OrderRequest is a market order with attached stop-loss and take-profit.
// Volume 0 asks the broker for its default risk-based sizing.
type OrderRequest struct {
	Symbol     string
	Side       market.Side
	Volume     float64
	StopLoss   float64
	TakeProfit float64
}

// OrderResult reports the outcome of placing or closing an order. A domain
// rejection (max positions, no price, zero sizing) is Success=false with a
// Message, not an error: errors are reserved for transport failures.
type OrderResult struct {
	OrderID string
	Symbol  string
	Side    market.Side
	Price   float64
	Volume  float64
	Success bool
	Message string
}

// Position is an open trade owned by the broker.
type Position struct {
	OrderID       string
	Symbol        string
	Side          market.Side
	EntryPrice    float64
	Volume        float64
	StopLoss      float64
	TakeProfit    float64
	EntryTime     time.Time
	UnrealizedPnL float64
}

// ClosedTrade is an immutable entry in the broker's trade log.
type ClosedTrade struct {
	OrderID    string
	Strategy   string
	Symbol     string
	Timeframe  string
	Side       market.Side
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Volume     float64
	PnL        float64
	StopLoss   float64
	TakeProfit float64
	ExitReason ExitReason
}

// AccountInfo is a point-in-time account snapshot. Equity is mark-to-market:
// balance plus unrealized PnL of open positions.
type AccountInfo struct {
	Balance         float64
	Equity          float64
	OpenPositions   int
	TotalPnL        float64
	MarginUsed      float64
	MarginAvailable float64
}

// Broker executes orders and owns position and trade-log state.
type Broker interface {
	// PlaceOrder opens a market order. Volume 0 requests broker-default
	// risk-based sizing.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// ClosePosition closes an open position. exitPrice nil closes at the
	// current market price for the position's side.
	ClosePosition(ctx context.Context, orderID string, exitPrice *float64, reason ExitReason) (OrderResult, error)

	// Positions lists open positions.
	Positions(ctx context.Context) ([]Position, error)

	// AccountInfo returns the current account snapshot.
	AccountInfo(ctx context.Context) (AccountInfo, error)

	// ClosedTrades returns the ordered trade log.
	ClosedTrades(ctx context.Context) ([]ClosedTrade, error)

	// UpdatePrice feeds the broker the latest bid/ask for a symbol.
	UpdatePrice(symbol string, bid, ask float64)

	// ServerManagedSLTP reports whether the broker watches stop-loss and
	// take-profit server-side. When false the engine sweeps open positions
	// on every tick.
	ServerManagedSLTP() bool
}
