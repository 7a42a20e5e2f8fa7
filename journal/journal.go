// Package journal persists closed trades and equity snapshots so that live
// runs and backtests can be analyzed after the fact. The engine treats the
// repository as best-effort: a write failure is logged, never allowed to
// block trading.
package journal

import (
	"time"

	"github.com/rustyeddy/scalper/broker"
)

// EquitySnapshot is a point-in-time account reading.
type EquitySnapshot struct {
	Time    time.Time
	Balance float64
	Equity  float64
}

// TradeRepository stores closed trades keyed by run.
type TradeRepository interface {
	InsertTrade(trade broker.ClosedTrade, runID string) error
	Close() error
}

// EquityRepository is implemented by stores that also journal a run's
// equity curve. The CSV repository does not; callers type-assert.
type EquityRepository interface {
	RecordEquity(runID string, e EquitySnapshot) error
}
