package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/scalper/broker"
)

// CSV is a TradeRepository that appends trades to a flat CSV file, handy for
// spreadsheet review of a single run.
type CSV struct {
	w *csv.Writer
	f *os.File
}

func NewCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	err = w.Write([]string{
		"order_id", "run_id", "strategy", "symbol", "timeframe", "side",
		"entry_time", "exit_time", "entry_price", "exit_price",
		"volume", "pnl", "stop_loss", "take_profit", "exit_reason",
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}

	return &CSV{w: w, f: f}, nil
}

func (j *CSV) InsertTrade(t broker.ClosedTrade, runID string) error {
	err := j.w.Write([]string{
		t.OrderID,
		runID,
		t.Strategy,
		t.Symbol,
		t.Timeframe,
		string(t.Side),
		t.EntryTime.Format(time.RFC3339),
		t.ExitTime.Format(time.RFC3339),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.Volume),
		f(t.PnL),
		f(t.StopLoss),
		f(t.TakeProfit),
		string(t.ExitReason),
	})
	if err != nil {
		return err
	}

	j.w.Flush()
	return j.w.Error()
}

func (j *CSV) Close() error {
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		return err
	}
	return j.f.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
