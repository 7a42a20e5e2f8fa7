package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/broker/paper"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/strategies"
)

type fakeFeed struct {
	history   []market.Candle
	ticks     []market.Tick
	streamErr error // returned after the ticks; nil blocks until cancel
}

func (f *fakeFeed) Historical(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error) {
	return f.history, nil
}

func (f *fakeFeed) StreamPrices(ctx context.Context, symbol string, onTick func(market.Tick)) error {
	for _, tk := range f.ticks {
		onTick(tk)
	}
	if f.streamErr != nil {
		return f.streamErr
	}
	<-ctx.Done()
	return ctx.Err()
}

type stubStrategy struct {
	sig strategies.Signal
	err error
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) GenerateSignals(bars []indicators.Bar) ([]strategies.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]strategies.Signal, len(bars))
	for i := range out {
		out[i] = strategies.NoSignal()
	}
	out[len(out)-1] = s.sig
	return out, nil
}

// hourlyHistory builds n sealed hourly candles with mild price variation so
// every indicator warms up.
func hourlyHistory(n int) []market.Candle {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		p := 1.0000 + float64(i%10)*0.0002
		out[i] = market.Candle{
			Time: t0.Add(time.Duration(i) * time.Hour),
			Open: p, High: p + 0.0001, Low: p - 0.0001, Close: p,
			Volume: 10,
		}
	}
	return out
}

func tickAt(ts time.Time, mid float64) market.Tick {
	return market.Tick{Symbol: "EUR_USD", Time: ts, Bid: mid - 0.0001, Ask: mid + 0.0001}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) subscribeAll(bus *Bus) {
	for _, e := range []string{
		EventTick, EventCandleClosed, EventSignal, EventOrderFilled,
		EventPositionClosed, EventEngineStarted, EventEngineStopped,
		EventCircuitBreaker, EventRiskBlocked, EventStreamDisconnected,
		EventStreamDead,
	} {
		bus.Subscribe(e, r.record)
	}
}

func newTestEngine(t *testing.T, f *fakeFeed, strat strategies.Strategy) (*Trading, *paper.Broker, *eventRecorder) {
	t.Helper()

	pb := paper.New(paper.DefaultConfig())
	rec := &eventRecorder{}
	bus := NewBus()
	rec.subscribeAll(bus)

	eng, err := NewTrading(Config{
		Symbol:      "EUR_USD",
		Timeframe:   "1h",
		HistorySize: 250,
		StopTimeout: 2 * time.Second,
	}, f, pb, strat, nil, bus, nil)
	require.NoError(t, err)
	return eng, pb, rec
}

func TestStartRejectedWhenNotStopped(t *testing.T) {
	ctx := context.Background()
	f := &fakeFeed{history: hourlyHistory(250)}
	eng, _, _ := newTestEngine(t, f, &stubStrategy{sig: strategies.NoSignal()})

	require.NoError(t, eng.Start(ctx))
	defer eng.Stop(ctx)

	err := eng.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be stopped")
}

func TestEngineTradesOnCandleClose(t *testing.T) {
	ctx := context.Background()
	history := hourlyHistory(250)
	last := history[len(history)-1].Time

	f := &fakeFeed{
		history: history,
		ticks: []market.Tick{
			tickAt(last.Add(time.Hour), 1.0010),
			tickAt(last.Add(2*time.Hour), 1.0012), // seals the previous bucket
		},
	}
	strat := &stubStrategy{sig: strategies.Signal{
		Side:       market.Buy,
		StopLoss:   0.9950,
		TakeProfit: 1.0100,
	}}
	eng, pb, rec := newTestEngine(t, f, strat)

	require.NoError(t, eng.Start(ctx))
	defer eng.Stop(ctx)

	require.Eventually(t, func() bool {
		positions, err := pb.Positions(ctx)
		return err == nil && len(positions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	positions, err := pb.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, market.Buy, positions[0].Side)
	assert.Equal(t, 0.9950, positions[0].StopLoss)

	assert.Equal(t, 1, rec.count(EventEngineStarted))
	assert.Equal(t, 1, rec.count(EventCandleClosed))
	assert.Equal(t, 1, rec.count(EventSignal))
	assert.Equal(t, 1, rec.count(EventOrderFilled))
	assert.Equal(t, 2, rec.count(EventTick))
}

func TestStopClosesPositionsWithShutdown(t *testing.T) {
	ctx := context.Background()
	history := hourlyHistory(250)
	last := history[len(history)-1].Time

	f := &fakeFeed{
		history: history,
		ticks: []market.Tick{
			tickAt(last.Add(time.Hour), 1.0010),
			tickAt(last.Add(2*time.Hour), 1.0012),
		},
	}
	strat := &stubStrategy{sig: strategies.Signal{
		Side:       market.Buy,
		StopLoss:   0.9950,
		TakeProfit: 1.0100,
	}}
	eng, pb, rec := newTestEngine(t, f, strat)

	var closedMu sync.Mutex
	var closed []broker.ClosedTrade
	eng.Bus().Subscribe(EventPositionClosed, func(eventType string, data any) {
		if trade, ok := data.(broker.ClosedTrade); ok {
			closedMu.Lock()
			closed = append(closed, trade)
			closedMu.Unlock()
		}
	})

	require.NoError(t, eng.Start(ctx))
	require.Eventually(t, func() bool {
		positions, err := pb.Positions(ctx)
		return err == nil && len(positions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.Stop(ctx))
	assert.False(t, eng.Running())

	positions, err := pb.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades, err := pb.ClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, broker.ExitShutdown, trades[0].ExitReason)

	// The published trade carries strategy and timeframe attribution.
	closedMu.Lock()
	require.Len(t, closed, 1)
	assert.Equal(t, "stub", closed[0].Strategy)
	assert.Equal(t, "1h", closed[0].Timeframe)
	closedMu.Unlock()

	assert.Equal(t, 1, rec.count(EventPositionClosed))
	assert.Equal(t, 1, rec.count(EventEngineStopped))

	// Idempotent.
	require.NoError(t, eng.Stop(ctx))
	assert.Equal(t, 1, rec.count(EventEngineStopped))
}

func TestStreamDeathEmitsEscalatingEvents(t *testing.T) {
	ctx := context.Background()
	f := &fakeFeed{
		history:   hourlyHistory(10),
		streamErr: errors.New("connection reset"),
	}
	eng, _, rec := newTestEngine(t, f, &stubStrategy{sig: strategies.NoSignal()})

	require.NoError(t, eng.Start(ctx))

	require.Eventually(t, func() bool {
		return rec.count(EventStreamDead) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, rec.count(EventStreamDisconnected))
	assert.False(t, eng.Running())

	h := eng.Health()
	assert.False(t, h.Running)
	assert.False(t, h.StreamAlive)
}

func TestTickErrorsCountedAndSwallowed(t *testing.T) {
	ctx := context.Background()
	history := hourlyHistory(250)
	last := history[len(history)-1].Time

	f := &fakeFeed{
		history: history,
		ticks: []market.Tick{
			tickAt(last.Add(time.Hour), 1.0010),
			tickAt(last.Add(2*time.Hour), 1.0012), // candle close -> strategy error
		},
	}
	strat := &stubStrategy{err: fmt.Errorf("indicator blew up")}
	eng, _, _ := newTestEngine(t, f, strat)

	require.NoError(t, eng.Start(ctx))
	defer eng.Stop(ctx)

	require.Eventually(t, func() bool {
		return eng.Health().ConsecutiveTickErrs == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The stream survived the bad tick.
	assert.True(t, eng.Running())
}

func TestSweepClosesBreachedStops(t *testing.T) {
	ctx := context.Background()
	history := hourlyHistory(10) // below the signal minimum; no new entries
	last := history[len(history)-1].Time

	f := &fakeFeed{history: history}
	eng, pb, rec := newTestEngine(t, f, &stubStrategy{sig: strategies.NoSignal()})

	// Open a position directly, then let ticks drive the exit.
	pb.UpdatePrice("EUR_USD", 1.0009, 1.0011)
	res, err := pb.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     "EUR_USD",
		Side:       market.Buy,
		Volume:     0.1,
		StopLoss:   0.9990,
		TakeProfit: 1.0050,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	f.ticks = []market.Tick{
		tickAt(last.Add(time.Hour), 1.0020),             // no breach
		tickAt(last.Add(time.Hour+time.Minute), 0.9985), // bid under the stop
	}

	require.NoError(t, eng.Start(ctx))
	defer eng.Stop(ctx)

	require.Eventually(t, func() bool {
		trades, err := pb.ClosedTrades(ctx)
		return err == nil && len(trades) == 1
	}, 2*time.Second, 10*time.Millisecond)

	trades, err := pb.ClosedTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, broker.ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, 0.9990, trades[0].ExitPrice)
	assert.Less(t, trades[0].PnL, 0.0)

	assert.Equal(t, 1, rec.count(EventPositionClosed))
}

func TestHealthPolledWhileTicksFlow(t *testing.T) {
	ctx := context.Background()
	history := hourlyHistory(10) // below the signal minimum; candle closes are cheap
	last := history[len(history)-1].Time

	ticks := make([]market.Tick, 5000)
	for i := range ticks {
		ticks[i] = tickAt(last.Add(time.Duration(i+1)*time.Second), 1.0001)
	}
	f := &fakeFeed{history: history, ticks: ticks}
	eng, _, _ := newTestEngine(t, f, &stubStrategy{sig: strategies.NoSignal()})

	require.NoError(t, eng.Start(ctx))
	defer eng.Stop(ctx)

	// Health is a concurrent reader of the tick path's counters; poll it
	// hard while the stream delivers so the race detector gets a chance.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		h := eng.Health()
		assert.GreaterOrEqual(t, h.SecondsSinceLastTick, 0.0)
		assert.Zero(t, h.ConsecutiveTickErrs)
	}
}
