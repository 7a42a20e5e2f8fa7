package engine

import (
	"log/slog"
	"sync"
)

// Event types published on the bus.
const (
	EventTick               = "tick"
	EventCandleClosed       = "candle_closed"
	EventSignal             = "signal"
	EventOrderFilled        = "order_filled"
	EventPositionClosed     = "position_closed"
	EventEngineStarted      = "engine_started"
	EventEngineStopped      = "engine_stopped"
	EventCircuitBreaker     = "circuit_breaker"
	EventRiskBlocked        = "risk_blocked"
	EventStreamDisconnected = "stream_disconnected"
	EventStreamDead         = "stream_dead"
)

// Handler receives published events.
type Handler func(eventType string, data any)

type subscriber struct {
	id int
	fn Handler
}

// Bus is an in-process synchronous publish/subscribe bus. It decouples the
// engine from observers: handlers run sequentially on the publisher's
// goroutine, a panicking handler is recovered and logged, and the
// subscriber list is copied before dispatch so handlers may subscribe or
// unsubscribe freely.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscriber
	log    *slog.Logger
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]subscriber),
		log:  slog.Default().With("component", "event_bus"),
	}
}

// Subscribe registers a handler for an event type and returns a token for
// Unsubscribe.
func (b *Bus) Subscribe(eventType string, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: b.nextID, fn: fn})
	return b.nextID
}

// Unsubscribe removes a handler by its token. Unknown tokens are a no-op.
func (b *Bus) Unsubscribe(eventType string, token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == token {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches data to every handler subscribed to eventType, in
// subscription order. A handler failure never reaches the publisher or the
// remaining handlers.
func (b *Bus) Publish(eventType string, data any) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[eventType]))
	copy(subs, b.subs[eventType])
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(eventType, s, data)
	}
}

func (b *Bus) dispatch(eventType string, s subscriber, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event_handler_panic", "event_type", eventType, "panic", r)
		}
	}()
	s.fn(eventType, data)
}
