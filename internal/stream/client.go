package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okanelabs/tickerdeck/internal/domain"
	"github.com/okanelabs/tickerdeck/internal/telemetry"
)

// State reflects the upstream socket.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Subscription receives trade batches for one symbol. Trades is buffered;
// a consumer that stops draining loses batches, never the whole stream.
type Subscription struct {
	Symbol string
	Trades chan []domain.Trade

	done      chan struct{}
	closeOnce sync.Once
}

// Done returns a channel closed when the subscription is released.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Client multiplexes one upstream trade socket across any number of chart
// subscriptions. It reconnects with exponential backoff and replays the
// active symbol set after every reconnect.
type Client struct {
	url    string
	apiKey string

	mu         sync.RWMutex
	subscribed map[string]struct{} // symbols requested upstream
	watchers   map[string]map[*Subscription]struct{}
	notify     func(State)

	outbound chan controlMessage
	metrics  *telemetry.Metrics
}

func NewClient(wsURL, apiKey string, metrics *telemetry.Metrics) *Client {
	return &Client{
		url:        wsURL,
		apiKey:     apiKey,
		subscribed: make(map[string]struct{}),
		watchers:   make(map[string]map[*Subscription]struct{}),
		outbound:   make(chan controlMessage, 1024),
		metrics:    metrics,
	}
}

// OnStateChange registers a callback invoked on every connection state
// transition. Register before Run.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

func (c *Client) setState(state State) {
	c.mu.RLock()
	notify := c.notify
	c.mu.RUnlock()
	if notify != nil {
		notify(state)
	}
}

// Subscribe registers a watcher for symbol. The first watcher of a symbol
// enqueues an upstream subscribe; later watchers share the feed. Returns nil
// for a blank symbol.
func (c *Client) Subscribe(symbol string) *Subscription {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return nil
	}
	sub := &Subscription{
		Symbol: s,
		Trades: make(chan []domain.Trade, 256),
		done:   make(chan struct{}),
	}
	added := false
	c.mu.Lock()
	if _, ok := c.watchers[s]; !ok {
		c.watchers[s] = make(map[*Subscription]struct{})
	}
	c.watchers[s][sub] = struct{}{}
	if _, ok := c.subscribed[s]; !ok {
		c.subscribed[s] = struct{}{}
		added = true
		// non-blocking so a large initial watchlist never stalls startup;
		// the reconnect path replays the subscribed set anyway
		select {
		case c.outbound <- controlMessage{Type: "subscribe", Symbol: s}:
		default:
		}
	}
	c.mu.Unlock()
	if added {
		c.metrics.Subscriptions(context.Background(), 1)
	}
	return sub
}

// Unsubscribe releases a watcher. The last watcher of a symbol enqueues an
// upstream unsubscribe and drops the symbol from the resubscribe set.
func (c *Client) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.close()
	removed := false
	c.mu.Lock()
	if watchers := c.watchers[sub.Symbol]; watchers != nil {
		delete(watchers, sub)
		if len(watchers) == 0 {
			delete(c.watchers, sub.Symbol)
			delete(c.subscribed, sub.Symbol)
			removed = true
			select {
			case c.outbound <- controlMessage{Type: "unsubscribe", Symbol: sub.Symbol}:
			default:
			}
		}
	}
	c.mu.Unlock()
	if removed {
		c.metrics.Subscriptions(context.Background(), -1)
	}
}

// SubscribeTrades adapts the client to the chart session feed contract.
func (c *Client) SubscribeTrades(symbol string) (<-chan []domain.Trade, func()) {
	sub := c.Subscribe(symbol)
	if sub == nil {
		ch := make(chan []domain.Trade)
		close(ch)
		return ch, func() {}
	}
	return sub.Trades, func() { c.Unsubscribe(sub) }
}

// Run keeps the upstream connection alive until ctx is cancelled. Backoff
// starts at one second and doubles to a 30s ceiling.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		c.setState(StateConnecting)
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.WarnContext(ctx, "trade stream disconnected", "error", err)
		}
		c.setState(StateDisconnected)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.setState(StateConnected)
	slog.InfoContext(ctx, "trade stream connected")

	c.mu.RLock()
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	for _, s := range symbols {
		if err := conn.WriteJSON(controlMessage{Type: "subscribe", Symbol: s}); err != nil {
			return fmt.Errorf("resubscribe %s: %w", s, err)
		}
	}

	ping := time.NewTicker(45 * time.Second)
	defer ping.Stop()

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg streamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			if msg.Type == "trade" {
				c.dispatch(msg.Data)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case msg := <-c.outbound:
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("control write: %w", err)
			}
		case err := <-errCh:
			return err
		}
	}
}

func (c *Client) dialURL() string {
	if c.apiKey == "" {
		return c.url
	}
	sep := "?"
	if strings.Contains(c.url, "?") {
		sep = "&"
	}
	return c.url + sep + "token=" + url.QueryEscape(c.apiKey)
}

// dispatch groups a trade frame by symbol and forwards one batch per
// watcher. Slow consumers lose batches rather than stall the reader.
func (c *Client) dispatch(ticks []tradeTick) {
	if len(ticks) == 0 {
		return
	}
	batches := make(map[string][]domain.Trade, 1)
	for _, tick := range ticks {
		symbol := strings.ToUpper(tick.Symbol)
		batches[symbol] = append(batches[symbol], domain.Trade{
			Symbol:    symbol,
			Price:     tick.Price,
			Volume:    tick.Volume,
			Timestamp: tick.Timestamp,
		})
	}
	for symbol, batch := range batches {
		c.mu.RLock()
		subs := make([]*Subscription, 0, len(c.watchers[symbol]))
		for sub := range c.watchers[symbol] {
			subs = append(subs, sub)
		}
		c.mu.RUnlock()
		for _, sub := range subs {
			select {
			case <-sub.done:
			case sub.Trades <- batch:
			default:
			}
		}
	}
}

type controlMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// streamMessage is the upstream envelope. Only trade frames matter; ping
// and error frames fall through.
type streamMessage struct {
	Type string      `json:"type"`
	Data []tradeTick `json:"data"`
}

type tradeTick struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}
