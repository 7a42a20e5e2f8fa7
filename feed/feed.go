// Package feed defines the market-data contract consumed by the trading
// engine.
package feed

import (
	"context"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// TickHandler receives each price update from a stream.
type TickHandler = func(market.Tick)

// Feed supplies historical candles and a live tick stream for one data
// source.
//
// StreamPrices blocks, invoking onTick for every update. Implementations
// manage reconnection internally (exponential backoff, bounded retries) and
// return only on a fatal failure or when ctx is cancelled; a cancelled ctx
// surfaces as ctx.Err(), which callers treat as a requested stop rather than
// stream death.
type Feed interface {
	Historical(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error)
	StreamPrices(ctx context.Context, symbol string, onTick TickHandler) error
}
