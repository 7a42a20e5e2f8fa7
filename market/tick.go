package market

import "time"

// Tick is a single bid/ask price update from a feed. Ticks are never
// persisted; they exist only long enough to be folded into a candle and to
// refresh the broker's view of the market.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}
