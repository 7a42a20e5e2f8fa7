package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDispatchOrder(t *testing.T) {
	bus := NewBus()

	var got []int
	bus.Subscribe(EventTick, func(eventType string, data any) {
		got = append(got, 1)
	})
	bus.Subscribe(EventTick, func(eventType string, data any) {
		got = append(got, 2)
	})

	bus.Publish(EventTick, nil)
	assert.Equal(t, []int{1, 2}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	token := bus.Subscribe(EventSignal, func(eventType string, data any) {
		calls++
	})

	bus.Publish(EventSignal, nil)
	bus.Unsubscribe(EventSignal, token)
	bus.Publish(EventSignal, nil)

	assert.Equal(t, 1, calls)

	// Unknown token is a no-op.
	bus.Unsubscribe(EventSignal, 9999)
	bus.Unsubscribe("no_such_event", token)
}

func TestBusPanicIsolation(t *testing.T) {
	bus := NewBus()

	var after bool
	bus.Subscribe(EventOrderFilled, func(eventType string, data any) {
		panic("boom")
	})
	bus.Subscribe(EventOrderFilled, func(eventType string, data any) {
		after = true
	})

	assert.NotPanics(t, func() {
		bus.Publish(EventOrderFilled, nil)
	})
	assert.True(t, after)
}

func TestBusSubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()

	// A handler that subscribes another handler must not deadlock or grow
	// the in-flight dispatch.
	calls := 0
	bus.Subscribe(EventCandleClosed, func(eventType string, data any) {
		bus.Subscribe(EventCandleClosed, func(eventType string, data any) {
			calls += 10
		})
		calls++
	})

	bus.Publish(EventCandleClosed, nil)
	assert.Equal(t, 1, calls)

	bus.Publish(EventCandleClosed, nil)
	assert.Equal(t, 12, calls)
}

func TestBusPublishNoSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Publish(EventStreamDead, map[string]any{"symbol": "EUR_USD"})
	})
}
