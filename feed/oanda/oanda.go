// Package oanda implements the feed contract against the OANDA v20 REST and
// streaming APIs.
package oanda

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// GranularityMap translates engine timeframes into v20 candle granularities.
var GranularityMap = map[string]string{
	"1m":  "M1",
	"5m":  "M5",
	"15m": "M15",
	"1h":  "H1",
	"4h":  "H4",
	"1d":  "D",
}

const candleBatch = 5000

// BaseURLs resolves an environment name to REST and stream hosts.
func BaseURLs(env string) (rest, stream string, err error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo":
		return "https://api-fxpractice.oanda.com", "https://stream-fxpractice.oanda.com", nil
	case "live", "trade":
		return "https://api-fxtrade.oanda.com", "https://stream-fxtrade.oanda.com", nil
	default:
		return "", "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Config for the OANDA feed.
type Config struct {
	AccountID string
	Token     string
	RestURL   string
	StreamURL string

	// Reconnect policy for the pricing stream.
	BackoffBase time.Duration // default 1s
	BackoffMax  time.Duration // default 60s
	MaxRetries  int           // default 10
}

// Feed streams prices and fetches candles from OANDA.
type Feed struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config) (*Feed, error) {
	if cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("oanda feed: account id and token are required")
	}
	if cfg.RestURL == "" || cfg.StreamURL == "" {
		return nil, fmt.Errorf("oanda feed: rest and stream urls are required")
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Feed{
		cfg:  cfg,
		http: &http.Client{},
		log:  slog.Default().With("component", "oanda_feed"),
	}, nil
}

type candlesResponse struct {
	Candles []struct {
		Time     string `json:"time"`
		Complete bool   `json:"complete"`
		Volume   int    `json:"volume"`
		Mid      struct {
			O, H, L, C string
		} `json:"mid"`
	} `json:"candles"`
}

// Historical fetches complete mid-price candles, paginating in batches.
func (f *Feed) Historical(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error) {
	granularity, ok := GranularityMap[timeframe]
	if !ok {
		return nil, fmt.Errorf("oanda feed: unsupported timeframe %q", timeframe)
	}

	var out []market.Candle
	from := start.UTC()

	for {
		u, err := url.Parse(f.cfg.RestURL)
		if err != nil {
			return nil, err
		}
		u.Path = fmt.Sprintf("/v3/instruments/%s/candles", symbol)
		q := u.Query()
		q.Set("granularity", granularity)
		q.Set("from", from.Format(time.RFC3339))
		q.Set("to", end.UTC().Format(time.RFC3339))
		q.Set("price", "M")
		q.Set("count", strconv.Itoa(candleBatch))
		u.RawQuery = q.Encode()

		var body candlesResponse
		if err := f.getJSON(ctx, u.String(), &body); err != nil {
			return nil, fmt.Errorf("oanda candles: %w", err)
		}
		if len(body.Candles) == 0 {
			break
		}

		var lastTime time.Time
		for _, c := range body.Candles {
			ts, err := time.Parse(time.RFC3339Nano, c.Time)
			if err != nil {
				continue
			}
			lastTime = ts
			if !c.Complete {
				continue
			}
			candle, err := parseMid(ts, c.Mid.O, c.Mid.H, c.Mid.L, c.Mid.C, c.Volume)
			if err != nil {
				return nil, err
			}
			out = append(out, candle)
		}

		if len(body.Candles) < candleBatch || !lastTime.Before(end) {
			break
		}
		from = lastTime
	}

	f.log.Info("historical_fetched", "symbol", symbol, "granularity", granularity, "count", len(out))
	return out, nil
}

func parseMid(ts time.Time, o, h, l, c string, volume int) (market.Candle, error) {
	var candle market.Candle
	var err error
	candle.Time = ts.UTC()
	if candle.Open, err = strconv.ParseFloat(o, 64); err != nil {
		return candle, fmt.Errorf("oanda candles: bad open %q: %w", o, err)
	}
	if candle.High, err = strconv.ParseFloat(h, 64); err != nil {
		return candle, fmt.Errorf("oanda candles: bad high %q: %w", h, err)
	}
	if candle.Low, err = strconv.ParseFloat(l, 64); err != nil {
		return candle, fmt.Errorf("oanda candles: bad low %q: %w", l, err)
	}
	if candle.Close, err = strconv.ParseFloat(c, 64); err != nil {
		return candle, fmt.Errorf("oanda candles: bad close %q: %w", c, err)
	}
	candle.Volume = float64(volume)
	return candle, nil
}

func (f *Feed) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.cfg.Token)

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d", e.code)
}

// fatal reports whether a status must not be retried. Client errors (auth,
// bad request) will not heal on reconnect.
func (e *statusError) fatal() bool {
	return e.code >= 400 && e.code < 500
}

type streamMsg struct {
	Type string `json:"type"`
	Time string `json:"time"`
	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// StreamPrices connects to the v20 pricing stream and invokes onTick for
// each PRICE message. Transient failures (network, 5xx) reconnect with
// exponential backoff up to MaxRetries; the retry budget resets once a
// connection delivers a price. 4xx responses are fatal and abort
// immediately. Returns ctx.Err() when the caller cancels.
func (f *Feed) StreamPrices(ctx context.Context, symbol string, onTick func(market.Tick)) error {
	f.log.Info("stream_starting", "symbol", symbol)

	retries := 0
	backoff := f.cfg.BackoffBase

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivered, err := f.streamOnce(ctx, symbol, onTick)
		if err == nil {
			// Server closed the stream cleanly; reconnect.
			err = fmt.Errorf("oanda stream: connection closed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var se *statusError
		if errors.As(err, &se) && se.fatal() {
			f.log.Error("stream_fatal", "symbol", symbol, "error", err)
			return fmt.Errorf("oanda stream: %w", err)
		}

		if delivered {
			retries = 0
			backoff = f.cfg.BackoffBase
		}
		retries++
		if retries > f.cfg.MaxRetries {
			f.log.Error("stream_retries_exhausted", "symbol", symbol, "retries", f.cfg.MaxRetries)
			return fmt.Errorf("oanda stream: retries exhausted: %w", err)
		}

		f.log.Warn("stream_reconnecting", "symbol", symbol, "attempt", retries, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.BackoffMax {
			backoff = f.cfg.BackoffMax
		}
	}
}

// streamOnce runs a single stream connection until it fails or ctx ends.
// delivered reports whether at least one price made it through, which
// resets the caller's retry budget.
func (f *Feed) streamOnce(ctx context.Context, symbol string, onTick func(market.Tick)) (delivered bool, err error) {
	u, err := url.Parse(f.cfg.StreamURL)
	if err != nil {
		return false, err
	}
	u.Path = fmt.Sprintf("/v3/accounts/%s/pricing/stream", f.cfg.AccountID)
	q := u.Query()
	q.Set("instruments", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+f.cfg.Token)

	resp, err := f.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &statusError{code: resp.StatusCode}
	}

	sc := bufio.NewScanner(resp.Body)
	// Stream messages can be long; bump the max token size.
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var msg streamMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			f.log.Warn("stream_bad_json", "error", err)
			continue
		}
		// HEARTBEAT messages keep the connection warm; skip them.
		if !strings.EqualFold(msg.Type, "PRICE") {
			continue
		}
		if len(msg.Bids) == 0 || len(msg.Asks) == 0 {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, msg.Time)
		if err != nil {
			ts = time.Now().UTC()
		}
		bid, err1 := strconv.ParseFloat(msg.Bids[0].Price, 64)
		ask, err2 := strconv.ParseFloat(msg.Asks[0].Price, 64)
		if err1 != nil || err2 != nil {
			continue
		}

		delivered = true
		onTick(market.Tick{Symbol: symbol, Time: ts.UTC(), Bid: bid, Ask: ask})
	}
	return delivered, sc.Err()
}
