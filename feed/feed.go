// Package feed streams live trades from a Binance-style combined websocket
// and adapts them to the controller's tick and market-data ports.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/internal/metrics"
	"github.com/rustyeddy/pilot/market"
)

const (
	DefaultURL = "wss://stream.binance.com:9443/ws"

	handshakeTimeout = 10 * time.Second
	readTimeout      = 30 * time.Second
	writeTimeout     = 5 * time.Second
	pingInterval     = 15 * time.Second
	maxBackoff       = 30 * time.Second
	staleAfter       = time.Minute
)

type envelope struct {
	Stream string `json:"stream"`
	Data   trade  `json:"data"`

	// Plain /ws endpoints deliver the trade unwrapped.
	trade
}

type trade struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Feed is a reconnecting websocket trade stream. It implements
// broker.MarketDataPort: Subscribe/Unsubscribe adjust the stream set on the
// live connection, and HealthCheck reports connection and staleness state.
type Feed struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex
	streams map[string]string // stream name -> controller symbol
	conn    *websocket.Conn
	frameID int64

	connected atomic.Bool
	lastTick  atomic.Int64 // unix nano of last accepted trade
}

func New(url string, log zerolog.Logger) *Feed {
	if url == "" {
		url = DefaultURL
	}
	return &Feed{
		url:     url,
		log:     log.With().Str("component", "feed").Logger(),
		streams: make(map[string]string),
	}
}

// streamName maps a controller symbol ("BTC-USD") to the venue's trade
// stream ("btcusd@trade").
func streamName(symbol string) string {
	return strings.ToLower(market.Base(symbol)+market.Quote(symbol)) + "@trade"
}

// Subscribe adds a symbol to the stream set, updating the live connection
// when there is one.
func (f *Feed) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := streamName(symbol)
	if _, ok := f.streams[name]; ok {
		return nil
	}
	f.streams[name] = symbol
	return f.sendFrameLocked("SUBSCRIBE", name)
}

// Unsubscribe removes a symbol from the stream set.
func (f *Feed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := streamName(symbol)
	if _, ok := f.streams[name]; !ok {
		return nil
	}
	delete(f.streams, name)
	return f.sendFrameLocked("UNSUBSCRIBE", name)
}

// SubscribeAll re-issues subscriptions for the whole tracked set.
func (f *Feed) SubscribeAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendFrameLocked("SUBSCRIBE", f.streamNamesLocked()...)
}

// UnsubscribeAll drops every venue subscription but keeps the tracked set,
// so a later SubscribeAll restores it.
func (f *Feed) UnsubscribeAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendFrameLocked("UNSUBSCRIBE", f.streamNamesLocked()...)
}

func (f *Feed) streamNamesLocked() []string {
	names := make([]string, 0, len(f.streams))
	for name := range f.streams {
		names = append(names, name)
	}
	return names
}

// sendFrameLocked pushes a control frame on the live connection. With no
// connection it is a no-op; the stream set is replayed on the next connect.
func (f *Feed) sendFrameLocked(method string, streams ...string) error {
	if f.conn == nil || len(streams) == 0 {
		return nil
	}
	f.frameID++
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(subscribeFrame{Method: method, Params: streams, ID: f.frameID})
}

// HealthCheck reports the stream state for the supervisor probe.
func (f *Feed) HealthCheck(ctx context.Context) (broker.Health, error) {
	if !f.connected.Load() {
		return broker.Health{Status: "degraded", Issues: []string{"websocket disconnected"}}, nil
	}
	if last := f.lastTick.Load(); last > 0 && time.Since(time.Unix(0, last)) > staleAfter {
		return broker.Health{Status: "degraded", Issues: []string{"no trades received recently"}}, nil
	}
	return broker.Health{Status: "ok"}, nil
}

// Run keeps the stream alive until the context is cancelled, pushing each
// trade onto out. Disconnects are retried with exponential backoff.
func (f *Feed) Run(ctx context.Context, out chan<- market.Tick) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consume(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Err(err).Dur("backoff", backoff).Msg("feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consume(ctx context.Context, out chan<- market.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	f.mu.Lock()
	f.conn = conn
	subErr := f.sendFrameLocked("SUBSCRIBE", f.streamNamesLocked()...)
	f.mu.Unlock()
	if subErr != nil {
		return subErr
	}
	f.connected.Store(true)
	defer func() {
		f.connected.Store(false)
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	f.log.Info().Str("url", f.url).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.keepAlive(pingCtx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok := f.parseTrade(message)
		if !ok {
			continue
		}

		select {
		case out <- tick:
			f.lastTick.Store(tick.Time.UnixNano())
			metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.mu.Unlock()
			if err != nil {
				f.log.Warn().Err(err).Msg("feed ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) parseTrade(message []byte) (market.Tick, bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode feed message")
		return market.Tick{}, false
	}

	data := env.Data
	if env.Stream == "" {
		data = env.trade
	}
	if data.Event != "trade" {
		// Control acks and subscription responses.
		return market.Tick{}, false
	}

	symbol, ok := f.lookupSymbol(env.Stream, data.Symbol)
	if !ok {
		return market.Tick{}, false
	}

	price, err := strconv.ParseFloat(data.Price, 64)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("invalid price from feed")
		return market.Tick{}, false
	}
	size, err := strconv.ParseFloat(data.Quantity, 64)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("invalid quantity from feed")
		return market.Tick{}, false
	}

	return market.Tick{
		Symbol: symbol,
		Price:  price,
		Size:   size,
		Time:   time.UnixMilli(data.TradeTime),
	}, true
}

// lookupSymbol recovers the controller symbol from either the combined
// stream name or the venue symbol in the payload.
func (f *Feed) lookupSymbol(stream, venueSymbol string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if stream != "" {
		if sym, ok := f.streams[stream]; ok {
			return sym, true
		}
	}
	if venueSymbol != "" {
		want := fmt.Sprintf("%s@trade", strings.ToLower(venueSymbol))
		if sym, ok := f.streams[want]; ok {
			return sym, true
		}
	}
	return "", false
}
