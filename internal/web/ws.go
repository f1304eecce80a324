package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/okanelabs/tickerdeck/internal/chart"
	"github.com/okanelabs/tickerdeck/internal/domain"
)

const (
	wsWriteBuffer  = 256
	wsPingInterval = 45 * time.Second
	wsReadTimeout  = 90 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the dashboard is same-host or proxied; REST already answers CORS openly
	CheckOrigin: func(*http.Request) bool { return true },
}

// Outbound frames: the Surface and StatusSink operations serialized for the
// browser widget, plus feed connectivity pushes.
type (
	seriesFrame struct {
		Type    string          `json:"type"`
		Candles []domain.Candle `json:"candles"`
	}
	updateFrame struct {
		Type   string        `json:"type"`
		Candle domain.Candle `json:"candle"`
	}
	fitFrame struct {
		Type string `json:"type"`
	}
	priceLineFrame struct {
		Type  string  `json:"type"`
		Price float64 `json:"price"`
	}
	clearPriceLineFrame struct {
		Type string `json:"type"`
	}
	stateFrame struct {
		Type  string `json:"type"`
		State string `json:"state"`
	}
	errorFrame struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	feedFrame struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
)

// Inbound control frames from the dashboard.
type controlFrame struct {
	Type       string `json:"type"`
	Symbol     string `json:"symbol"`
	Resolution string `json:"resolution"`
}

// wsClient is one connected dashboard tab. It implements chart.Surface and
// chart.StatusSink by enqueueing frames for the write pump; enqueueing never
// blocks, a tab that stops reading loses frames rather than stalling the
// session loop.
type wsClient struct {
	conn *websocket.Conn
	out  chan any

	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		out:  make(chan any, wsWriteBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) send(v any) {
	select {
	case c.out <- v:
	case <-c.done:
	default:
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// chart.Surface

func (c *wsClient) SetData(candles []domain.Candle) {
	if candles == nil {
		candles = []domain.Candle{}
	}
	c.send(seriesFrame{Type: "series", Candles: candles})
}

func (c *wsClient) Update(candle domain.Candle) {
	c.send(updateFrame{Type: "update", Candle: candle})
}

func (c *wsClient) FitContent() {
	c.send(fitFrame{Type: "fit"})
}

func (c *wsClient) SetPriceLine(price float64) {
	c.send(priceLineFrame{Type: "priceLine", Price: price})
}

func (c *wsClient) ClearPriceLine() {
	c.send(clearPriceLineFrame{Type: "clearPriceLine"})
}

// Remove is a no-op: the browser disposes its widget when the socket closes.
func (c *wsClient) Remove() {}

// chart.StatusSink

func (c *wsClient) SessionState(state chart.State) {
	c.send(stateFrame{Type: "state", State: state.String()})
}

func (c *wsClient) SessionError(err error) {
	c.send(errorFrame{Type: "error", Error: err.Error()})
}

// clientSet tracks connected dashboard sockets for feed-status broadcasts.
// New clients are greeted with the last known feed state.
type clientSet struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	lastFeed string
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[*wsClient]struct{})}
}

func (s *clientSet) add(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	last := s.lastFeed
	s.mu.Unlock()
	if last != "" {
		c.send(feedFrame{Type: "feed", Status: last})
	}
}

func (s *clientSet) remove(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *clientSet) broadcastFeed(status string) {
	s.mu.Lock()
	s.lastFeed = status
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.send(feedFrame{Type: "feed", Status: status})
	}
}

// FeedStateChanged pushes an upstream connectivity transition to every
// dashboard. Wire it to the stream client's state hook.
func (h *Handlers) FeedStateChanged(status string) {
	h.clients.broadcastFeed(status)
}

// ServeWS handles GET /ws: one chart session per connection. The read pump
// runs in the handler goroutine; the write pump and the session loop are
// torn down with it.
func (h *Handlers) ServeWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	client := newWSClient(conn)
	defer client.close()
	h.clients.add(client)
	defer h.clients.remove(client)
	h.metrics.WSClients(ctx, 1)
	defer h.metrics.WSClients(ctx, -1)

	session := chart.NewSession(h.loader, h.feed, client, client, h.metrics)
	go session.Run(ctx)

	// write pump
	go func() {
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case v := <-client.out:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(v); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-client.done:
				return
			}
		}
	}()

	// read pump
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var ctrl controlFrame
		if err := json.Unmarshal(data, &ctrl); err != nil || ctrl.Type != "chart" {
			continue
		}
		resolution, err := domain.ParseResolution(ctrl.Resolution)
		if err != nil {
			client.send(errorFrame{Type: "error", Error: "unknown resolution"})
			continue
		}
		// the stream client subscribes uppercased, so the session must
		// filter against the same spelling
		symbol := strings.ToUpper(strings.TrimSpace(ctrl.Symbol))
		if symbol == "" {
			client.send(errorFrame{Type: "error", Error: "symbol is required"})
			continue
		}
		slog.DebugContext(ctx, "dashboard chart bind", "symbol", symbol, "resolution", resolution)
		session.Bind(symbol, resolution)
	}
}
