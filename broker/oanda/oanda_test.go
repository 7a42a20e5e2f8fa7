package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

const testAccount = "001-001-1234567-001"

func newTestBroker(t *testing.T, url string) *Broker {
	t.Helper()
	b, err := New(Config{AccountID: testAccount, Token: "test-token", RestURL: url})
	require.NoError(t, err)
	return b
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{RestURL: "http://x"})
	assert.ErrorContains(t, err, "account id and token")

	_, err = New(Config{AccountID: "a", Token: "t"})
	assert.ErrorContains(t, err, "rest url")
}

func TestPlaceOrderFill(t *testing.T) {
	var gotBody orderBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/accounts/"+testAccount+"/orders", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		fmt.Fprint(w, `{"orderFillTransaction":{"id":"42","price":"1.08505","units":"10000",
			"tradeOpened":{"tradeID":"101","price":"1.08505"}}}`)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	res, err := b.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:     "EUR_USD",
		Side:       market.Buy,
		Volume:     0.1,
		StopLoss:   1.0800,
		TakeProfit: 1.0900,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "101", res.OrderID)
	assert.Equal(t, 1.08505, res.Price)
	assert.Equal(t, 0.1, res.Volume)

	assert.Equal(t, "MARKET", gotBody.Order.Type)
	assert.Equal(t, "FOK", gotBody.Order.TimeInForce)
	assert.Equal(t, "10000", gotBody.Order.Units)
	require.NotNil(t, gotBody.Order.StopLossOnFill)
	assert.Equal(t, "1.08000", gotBody.Order.StopLossOnFill.Price)
	require.NotNil(t, gotBody.Order.TakeProfitOnFill)
	assert.Equal(t, "1.09000", gotBody.Order.TakeProfitOnFill.Price)
}

func TestPlaceOrderSellNegatesUnits(t *testing.T) {
	var gotBody orderBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"orderFillTransaction":{"tradeOpened":{"tradeID":"102","price":"149.501"}}}`)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	res, err := b.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:   "USD_JPY",
		Side:     market.Sell,
		Volume:   0.05,
		StopLoss: 150.123,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, "-5000", gotBody.Order.Units)
	// JPY pairs quote to 3 decimals.
	assert.Equal(t, "150.123", gotBody.Order.StopLossOnFill.Price)
	assert.Nil(t, gotBody.Order.TakeProfitOnFill)
}

func TestPlaceOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"orderCancelTransaction":{"reason":"INSUFFICIENT_MARGIN"}}`)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	res, err := b.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "EUR_USD", Side: market.Buy, Volume: 0.1,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "INSUFFICIENT_MARGIN", res.Message)
}

func TestPlaceOrderZeroVolumeRejectedLocally(t *testing.T) {
	b := newTestBroker(t, "http://unused")
	res, err := b.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "EUR_USD", Side: market.Buy,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "volume must be positive")
}

func TestPlaceOrderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"Invalid value"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	_, err := b.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "EUR_USD", Side: market.Buy, Volume: 0.1,
	})
	assert.ErrorContains(t, err, "http status 400")
}

func openTradesJSON() string {
	return `{"trades":[
		{"id":"101","instrument":"EUR_USD","price":"1.08500",
		 "openTime":"2024-03-05T10:00:00.000000000Z","currentUnits":"10000",
		 "unrealizedPL":"12.50",
		 "stopLossOrder":{"price":"1.08000"},
		 "takeProfitOrder":{"price":"1.09000"}},
		{"id":"102","instrument":"USD_JPY","price":"149.500",
		 "openTime":"2024-03-05T11:00:00.000000000Z","currentUnits":"-5000",
		 "unrealizedPL":"-3.20"}
	]}`
}

func TestPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/"+testAccount+"/openTrades", r.URL.Path)
		fmt.Fprint(w, openTradesJSON())
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	positions, err := b.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	long := positions[0]
	assert.Equal(t, "101", long.OrderID)
	assert.Equal(t, market.Buy, long.Side)
	assert.InDelta(t, 0.1, long.Volume, 1e-9)
	assert.Equal(t, 1.0850, long.EntryPrice)
	assert.Equal(t, 1.0800, long.StopLoss)
	assert.Equal(t, 1.0900, long.TakeProfit)
	assert.Equal(t, 12.5, long.UnrealizedPnL)

	short := positions[1]
	assert.Equal(t, market.Sell, short.Side)
	assert.InDelta(t, 0.05, short.Volume, 1e-9)
	assert.Zero(t, short.StopLoss)
}

func TestClosePositionRealizesTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v3/accounts/"+testAccount+"/openTrades":
			fmt.Fprint(w, openTradesJSON())
		case r.Method == http.MethodPut && r.URL.Path == "/v3/accounts/"+testAccount+"/trades/101/close":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ALL", body["units"])
			fmt.Fprint(w, `{"orderFillTransaction":{"price":"1.09000","time":"2024-03-05T12:00:00.000000000Z",
				"tradesClosed":[{"tradeID":"101","units":"-10000","realizedPL":"50.00","price":"1.09000"}]}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	res, err := b.ClosePosition(context.Background(), "101", nil, broker.ExitManual)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1.0900, res.Price)

	closed, err := b.ClosedTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "101", closed[0].OrderID)
	assert.Equal(t, broker.ExitManual, closed[0].ExitReason)
	want := market.PnL(market.Buy, 1.0850, 1.0900, 0.1, market.PipValue("EUR_USD"))
	assert.InDelta(t, want, closed[0].PnL, 1e-9)
}

func TestClosePositionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"trades":[]}`)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	res, err := b.ClosePosition(context.Background(), "999", nil, broker.ExitManual)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not found")
}

func TestAccountInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/"+testAccount+"/summary", r.URL.Path)
		fmt.Fprint(w, `{"account":{"balance":"10250.00","NAV":"10262.50","openTradeCount":2,
			"pl":"250.00","marginUsed":"325.00","marginAvailable":"9937.50"}}`)
	}))
	defer srv.Close()

	b := newTestBroker(t, srv.URL)
	info, err := b.AccountInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10250.0, info.Balance)
	assert.Equal(t, 10262.5, info.Equity)
	assert.Equal(t, 250.0, info.TotalPnL)
	assert.Equal(t, 325.0, info.MarginUsed)
	assert.Equal(t, 9937.5, info.MarginAvailable)
	assert.Equal(t, 2, info.OpenPositions)
}

func TestServerManagedSLTP(t *testing.T) {
	b := newTestBroker(t, "http://unused")
	assert.True(t, b.ServerManagedSLTP())
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "1.08505", formatPrice("EUR_USD", 1.08505))
	assert.Equal(t, "149.501", formatPrice("USD_JPY", 149.501))
}
