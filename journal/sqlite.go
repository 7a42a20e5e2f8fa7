package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

// SQLite is a TradeRepository backed by a local sqlite3 database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) InsertTrade(t broker.ClosedTrade, runID string) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(order_id, run_id, strategy, symbol, timeframe, side, entry_time, exit_time,
		 entry_price, exit_price, volume, pnl, stop_loss, take_profit, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, runID, t.Strategy, t.Symbol, t.Timeframe, string(t.Side),
		t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice, t.Volume, t.PnL,
		t.StopLoss, t.TakeProfit, string(t.ExitReason),
	)
	return err
}

func (j *SQLite) RecordEquity(runID string, e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (run_id, time, balance, equity)
		VALUES (?, ?, ?, ?)`,
		runID, e.Time, e.Balance, e.Equity,
	)
	return err
}

// ListTradesByRun returns the trades of one run ordered by exit time.
func (j *SQLite) ListTradesByRun(runID string) ([]broker.ClosedTrade, error) {
	rows, err := j.db.Query(`
		SELECT order_id, strategy, symbol, timeframe, side, entry_time, exit_time,
		       entry_price, exit_price, volume, pnl, stop_loss, take_profit, exit_reason
		FROM trades
		WHERE run_id = ?
		ORDER BY exit_time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.ClosedTrade
	for rows.Next() {
		var t broker.ClosedTrade
		var side, reason string
		if err := rows.Scan(
			&t.OrderID,
			&t.Strategy,
			&t.Symbol,
			&t.Timeframe,
			&side,
			&t.EntryTime,
			&t.ExitTime,
			&t.EntryPrice,
			&t.ExitPrice,
			&t.Volume,
			&t.PnL,
			&t.StopLoss,
			&t.TakeProfit,
			&reason,
		); err != nil {
			return nil, err
		}
		t.Side = market.Side(side)
		t.ExitReason = broker.ExitReason(reason)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquityByRun returns a run's equity curve ordered by time.
func (j *SQLite) ListEquityByRun(runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, balance, equity
		FROM equity
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Balance, &e.Equity); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
