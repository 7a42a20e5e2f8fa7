// Package oanda implements the broker contract against the OANDA v20 REST
// API. Stops and targets are attached on fill, so the engine does not sweep
// them client-side.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

// LotsToUnits converts standard lots into OANDA trade units.
const LotsToUnits = 100000

// Config for the OANDA broker.
type Config struct {
	AccountID string
	Token     string
	RestURL   string
}

// Broker places and closes trades on an OANDA v20 account.
type Broker struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu     sync.Mutex
	closed []broker.ClosedTrade
}

func New(cfg Config) (*Broker, error) {
	if cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("oanda broker: account id and token are required")
	}
	if cfg.RestURL == "" {
		return nil, fmt.Errorf("oanda broker: rest url is required")
	}
	return &Broker{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  slog.Default().With("component", "oanda_broker"),
	}, nil
}

func (b *Broker) ServerManagedSLTP() bool { return true }

// UpdatePrice is a no-op: OANDA tracks prices server-side.
func (b *Broker) UpdatePrice(symbol string, bid, ask float64) {}

type orderBody struct {
	Order struct {
		Type           string `json:"type"`
		Instrument     string `json:"instrument"`
		Units          string `json:"units"`
		TimeInForce    string `json:"timeInForce"`
		StopLossOnFill *struct {
			Price string `json:"price"`
		} `json:"stopLossOnFill,omitempty"`
		TakeProfitOnFill *struct {
			Price string `json:"price"`
		} `json:"takeProfitOnFill,omitempty"`
	} `json:"order"`
}

type orderResponse struct {
	OrderFillTransaction struct {
		ID          string `json:"id"`
		Price       string `json:"price"`
		Units       string `json:"units"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
			Price   string `json:"price"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
	ErrorMessage string `json:"errorMessage"`
}

func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if req.Volume <= 0 {
		return broker.OrderResult{
			Symbol: req.Symbol, Side: req.Side,
			Message: "volume must be positive; broker-default sizing is not supported",
		}, nil
	}

	units := int64(math.Round(req.Volume * LotsToUnits))
	if req.Side == market.Sell {
		units = -units
	}

	var body orderBody
	body.Order.Type = "MARKET"
	body.Order.Instrument = req.Symbol
	body.Order.Units = strconv.FormatInt(units, 10)
	body.Order.TimeInForce = "FOK"
	if req.StopLoss > 0 {
		body.Order.StopLossOnFill = &struct {
			Price string `json:"price"`
		}{Price: formatPrice(req.Symbol, req.StopLoss)}
	}
	if req.TakeProfit > 0 {
		body.Order.TakeProfitOnFill = &struct {
			Price string `json:"price"`
		}{Price: formatPrice(req.Symbol, req.TakeProfit)}
	}

	var resp orderResponse
	path := fmt.Sprintf("/v3/accounts/%s/orders", b.cfg.AccountID)
	if err := b.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return broker.OrderResult{}, fmt.Errorf("place order: %w", err)
	}

	if resp.OrderFillTransaction.TradeOpened == nil {
		msg := resp.ErrorMessage
		if resp.OrderCancelTransaction != nil {
			msg = resp.OrderCancelTransaction.Reason
		}
		b.log.Warn("order_rejected", "symbol", req.Symbol, "side", req.Side, "message", msg)
		return broker.OrderResult{Symbol: req.Symbol, Side: req.Side, Message: msg}, nil
	}

	price, _ := strconv.ParseFloat(resp.OrderFillTransaction.TradeOpened.Price, 64)
	return broker.OrderResult{
		OrderID: resp.OrderFillTransaction.TradeOpened.TradeID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Price:   price,
		Volume:  req.Volume,
		Success: true,
	}, nil
}

type closeResponse struct {
	OrderFillTransaction struct {
		Price        string `json:"price"`
		Time         string `json:"time"`
		TradesClosed []struct {
			TradeID    string `json:"tradeID"`
			Units      string `json:"units"`
			RealizedPL string `json:"realizedPL"`
			Price      string `json:"price"`
		} `json:"tradesClosed"`
	} `json:"orderFillTransaction"`
	ErrorMessage string `json:"errorMessage"`
}

// ClosePosition closes a trade at market. exitPrice is advisory only; OANDA
// fills at its own price, which is what the trade log records.
func (b *Broker) ClosePosition(ctx context.Context, orderID string, exitPrice *float64, reason broker.ExitReason) (broker.OrderResult, error) {
	pos, err := b.findPosition(ctx, orderID)
	if err != nil {
		return broker.OrderResult{}, err
	}
	if pos == nil {
		return broker.OrderResult{Message: fmt.Sprintf("position %s not found", orderID)}, nil
	}

	var resp closeResponse
	path := fmt.Sprintf("/v3/accounts/%s/trades/%s/close", b.cfg.AccountID, orderID)
	if err := b.do(ctx, http.MethodPut, path, map[string]string{"units": "ALL"}, &resp); err != nil {
		return broker.OrderResult{}, fmt.Errorf("close position: %w", err)
	}
	if len(resp.OrderFillTransaction.TradesClosed) == 0 {
		return broker.OrderResult{Message: resp.ErrorMessage}, nil
	}

	tc := resp.OrderFillTransaction.TradesClosed[0]
	fill, _ := strconv.ParseFloat(tc.Price, 64)
	exitTime, err := time.Parse(time.RFC3339Nano, resp.OrderFillTransaction.Time)
	if err != nil {
		exitTime = time.Now().UTC()
	}

	trade := broker.ClosedTrade{
		OrderID:    orderID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		ExitTime:   exitTime.UTC(),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill,
		Volume:     pos.Volume,
		PnL:        market.PnL(pos.Side, pos.EntryPrice, fill, pos.Volume, market.PipValue(pos.Symbol)),
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		ExitReason: reason,
	}

	b.mu.Lock()
	b.closed = append(b.closed, trade)
	b.mu.Unlock()

	return broker.OrderResult{
		OrderID: orderID,
		Symbol:  pos.Symbol,
		Side:    pos.Side,
		Price:   fill,
		Volume:  pos.Volume,
		Success: true,
	}, nil
}

type openTradesResponse struct {
	Trades []struct {
		ID            string `json:"id"`
		Instrument    string `json:"instrument"`
		Price         string `json:"price"`
		OpenTime      string `json:"openTime"`
		CurrentUnits  string `json:"currentUnits"`
		UnrealizedPL  string `json:"unrealizedPL"`
		StopLossOrder *struct {
			Price string `json:"price"`
		} `json:"stopLossOrder"`
		TakeProfitOrder *struct {
			Price string `json:"price"`
		} `json:"takeProfitOrder"`
	} `json:"trades"`
}

func (b *Broker) Positions(ctx context.Context) ([]broker.Position, error) {
	var resp openTradesResponse
	path := fmt.Sprintf("/v3/accounts/%s/openTrades", b.cfg.AccountID)
	if err := b.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}

	out := make([]broker.Position, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		units, err := strconv.ParseFloat(t.CurrentUnits, 64)
		if err != nil || units == 0 {
			continue
		}
		side := market.Buy
		if units < 0 {
			side = market.Sell
		}

		p := broker.Position{
			OrderID: t.ID,
			Symbol:  t.Instrument,
			Side:    side,
			Volume:  math.Abs(units) / LotsToUnits,
		}
		p.EntryPrice, _ = strconv.ParseFloat(t.Price, 64)
		p.UnrealizedPnL, _ = strconv.ParseFloat(t.UnrealizedPL, 64)
		if ts, err := time.Parse(time.RFC3339Nano, t.OpenTime); err == nil {
			p.EntryTime = ts.UTC()
		}
		if t.StopLossOrder != nil {
			p.StopLoss, _ = strconv.ParseFloat(t.StopLossOrder.Price, 64)
		}
		if t.TakeProfitOrder != nil {
			p.TakeProfit, _ = strconv.ParseFloat(t.TakeProfitOrder.Price, 64)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) findPosition(ctx context.Context, orderID string) (*broker.Position, error) {
	positions, err := b.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].OrderID == orderID {
			return &positions[i], nil
		}
	}
	return nil, nil
}

type accountResponse struct {
	Account struct {
		Balance         string `json:"balance"`
		NAV             string `json:"NAV"`
		OpenTradeCount  int    `json:"openTradeCount"`
		PL              string `json:"pl"`
		MarginUsed      string `json:"marginUsed"`
		MarginAvailable string `json:"marginAvailable"`
	} `json:"account"`
}

func (b *Broker) AccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	var resp accountResponse
	path := fmt.Sprintf("/v3/accounts/%s/summary", b.cfg.AccountID)
	if err := b.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return broker.AccountInfo{}, fmt.Errorf("account summary: %w", err)
	}

	var info broker.AccountInfo
	info.Balance, _ = strconv.ParseFloat(resp.Account.Balance, 64)
	info.Equity, _ = strconv.ParseFloat(resp.Account.NAV, 64)
	info.TotalPnL, _ = strconv.ParseFloat(resp.Account.PL, 64)
	info.MarginUsed, _ = strconv.ParseFloat(resp.Account.MarginUsed, 64)
	info.MarginAvailable, _ = strconv.ParseFloat(resp.Account.MarginAvailable, 64)
	info.OpenPositions = resp.Account.OpenTradeCount
	return info, nil
}

// ClosedTrades returns trades closed through this broker instance. Trades
// closed server-side by OANDA's own stop and target orders are not listed.
func (b *Broker) ClosedTrades(ctx context.Context) ([]broker.ClosedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.ClosedTrade, len(b.closed))
	copy(out, b.closed)
	return out, nil
}

func (b *Broker) do(ctx context.Context, method, path string, body, v any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.RestURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// formatPrice renders a price at the instrument's quote precision. JPY
// pairs quote to 3 decimals, everything else to 5.
func formatPrice(symbol string, price float64) string {
	digits := 5
	if market.PipValue(symbol) == 0.01 {
		digits = 3
	}
	return strconv.FormatFloat(price, 'f', digits, 64)
}
