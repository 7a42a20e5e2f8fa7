package market

import "time"

// Candle is an OHLCV summary of one time bucket. Once sealed by the
// aggregator (or fetched historically) it is immutable.
type Candle struct {
	Time   time.Time // period start
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Side of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
	None Side = "NONE"
)

// Opposite returns the other tradeable side. None maps to None.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return None
}

// PnL converts a price move into account currency:
//
//	BUY:  (exit - entry) * volume / pipValue
//	SELL: (entry - exit) * volume / pipValue
//
// Every broker implementation and the backtest engine must realize PnL
// through this function so that live and replayed accounting agree exactly.
func PnL(side Side, entry, exit, volume, pipValue float64) float64 {
	if side == Sell {
		return (entry - exit) * volume / pipValue
	}
	return (exit - entry) * volume / pipValue
}
