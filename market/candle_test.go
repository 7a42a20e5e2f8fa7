package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPnL(t *testing.T) {
	// 50 pip gain on 0.1 lots of a four-decimal pair.
	buy := PnL(Buy, 1.0850, 1.0900, 0.1, 0.0001)
	assert.InDelta(t, 5.0, buy, 1e-9)

	// The same move is a loss for the short.
	sell := PnL(Sell, 1.0850, 1.0900, 0.1, 0.0001)
	assert.InDelta(t, -5.0, sell, 1e-9)

	// BUY and SELL are exact mirrors for any entry/exit.
	assert.Equal(t, buy, -sell)

	// JPY-scale pip value.
	jpy := PnL(Buy, 150.00, 150.50, 0.1, 0.01)
	assert.InDelta(t, 5.0, jpy, 1e-9)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
	assert.Equal(t, None, None.Opposite())
}

func TestTickMidSpread(t *testing.T) {
	tk := Tick{Bid: 1.0849, Ask: 1.0851}
	assert.InDelta(t, 1.0850, tk.Mid(), 1e-9)
	assert.InDelta(t, 0.0002, tk.Spread(), 1e-9)
}

func TestPipValueFallback(t *testing.T) {
	assert.Equal(t, 0.0001, PipValue("EUR_USD"))
	assert.Equal(t, 0.01, PipValue("USD_JPY"))
	assert.Equal(t, DefaultPipValue, PipValue("AUD_NZD"))
}
