package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSFeedConfig controls the live market data connection.
type WSFeedConfig struct {
	StreamURL      string        // websocket base, e.g. wss://stream.binance.com:9443
	RestURL        string        // REST base for historical bars, e.g. https://api.binance.com
	RequestTimeout time.Duration // REST request timeout
	ReconnectWait  time.Duration // delay before redialing a lost stream
}

// DefaultWSFeedConfig returns production endpoints.
func DefaultWSFeedConfig() *WSFeedConfig {
	return &WSFeedConfig{
		StreamURL:      "wss://stream.binance.com:9443",
		RestURL:        "https://api.binance.com",
		RequestTimeout: 10 * time.Second,
		ReconnectWait:  3 * time.Second,
	}
}

// WSFeed streams closed candles over a websocket and backfills history over
// REST. One WSFeed serves any number of concurrent subscriptions.
type WSFeed struct {
	mu sync.RWMutex

	config     *WSFeedConfig
	httpClient *http.Client
	logger     zerolog.Logger
	reconnects int
}

// NewWSFeed creates a live feed. A nil config uses production endpoints.
func NewWSFeed(config *WSFeedConfig, logger zerolog.Logger) *WSFeed {
	if config == nil {
		config = DefaultWSFeedConfig()
	}
	return &WSFeed{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger.With().Str("component", "ws_feed").Logger(),
	}
}

// klineEvent is the exchange kline stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

// Klines fetches up to limit closed bars over REST, oldest first.
func (f *WSFeed) Klines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Bar, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		f.config.RestURL, strings.ToUpper(symbol), tf, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building klines request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request for %s: status %d", symbol, resp.StatusCode)
	}

	// Each row: [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding klines response: %w", err)
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		bar, err := parseKlineRow(symbol, tf, row)
		if err != nil {
			f.logger.Warn().Err(err).Str("symbol", symbol).Msg("skipping malformed kline row")
			continue
		}
		bars = append(bars, bar)
	}

	return SortBars(bars), nil
}

// Subscribe dials the kline stream and delivers each closed bar until ctx is
// cancelled. Lost connections are redialed with a fixed backoff.
func (f *WSFeed) Subscribe(ctx context.Context, symbol string, tf Timeframe) (<-chan Bar, error) {
	streamName := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), tf)
	wsURL := fmt.Sprintf("%s/ws/%s", f.config.StreamURL, streamName)

	out := make(chan Bar, 16)

	go func() {
		defer close(out)

		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				f.logger.Warn().Err(err).Str("stream", streamName).Msg("stream dial failed, retrying")
				f.mu.Lock()
				f.reconnects++
				f.mu.Unlock()

				select {
				case <-ctx.Done():
					return
				case <-time.After(f.config.ReconnectWait):
				}
				continue
			}

			f.logger.Info().Str("stream", streamName).Msg("stream connected")
			f.readLoop(ctx, conn, out)
			conn.Close()

			if ctx.Err() != nil {
				return
			}
			f.logger.Warn().Str("stream", streamName).Msg("stream lost, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(f.config.ReconnectWait):
			}
		}
	}()

	return out, nil
}

// readLoop forwards closed candles until the connection drops or ctx ends.
func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Bar) {
	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Info().Msg("stream closed normally")
			}
			return
		}

		var event klineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			f.logger.Warn().Err(err).Msg("failed to parse kline event")
			continue
		}
		if event.EventType != "kline" || !event.Kline.IsClosed {
			continue
		}

		bar, err := parseKlineEvent(event)
		if err != nil {
			f.logger.Warn().Err(err).Msg("skipping malformed kline event")
			continue
		}

		select {
		case out <- bar:
		case <-ctx.Done():
			return
		}
	}
}

// Reconnects reports how many times the feed has redialed.
func (f *WSFeed) Reconnects() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reconnects
}

func parseKlineEvent(event klineEvent) (Bar, error) {
	open, err1 := strconv.ParseFloat(event.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(event.Kline.High, 64)
	low, err3 := strconv.ParseFloat(event.Kline.Low, 64)
	closePrice, err4 := strconv.ParseFloat(event.Kline.Close, 64)
	volume, err5 := strconv.ParseFloat(event.Kline.Volume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return Bar{}, fmt.Errorf("parsing kline fields: %w", err)
		}
	}

	bar := Bar{
		Symbol:    event.Symbol,
		Timeframe: Timeframe(event.Kline.Interval),
		OpenTime:  time.UnixMilli(event.Kline.StartTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
	return bar, bar.Validate()
}

func parseKlineRow(symbol string, tf Timeframe, row []interface{}) (Bar, error) {
	openTime, ok := row[0].(float64)
	if !ok {
		return Bar{}, fmt.Errorf("kline row: bad open time")
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return Bar{}, fmt.Errorf("kline row: field %d not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("kline row: field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	bar := Bar{
		Symbol:    strings.ToUpper(symbol),
		Timeframe: tf,
		OpenTime:  time.UnixMilli(int64(openTime)).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	return bar, bar.Validate()
}
