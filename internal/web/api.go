package web

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okanelabs/tickerdeck/internal/chart"
	"github.com/okanelabs/tickerdeck/internal/chat"
	"github.com/okanelabs/tickerdeck/internal/markethours"
	"github.com/okanelabs/tickerdeck/internal/sentiment"
	"github.com/okanelabs/tickerdeck/internal/telemetry"
	"github.com/okanelabs/tickerdeck/internal/watchlist"
)

const (
	requestIDContextKey = "request_id"
	requestIDHeaderKey  = "X-Request-ID"
)

// Interface requirements for the dashboard's collaborators.
type (
	sentimentSource interface {
		Snapshot(ctx context.Context) ([]sentiment.Quote, error)
	}

	marketClock interface {
		Status(now time.Time) []markethours.MarketStatus
	}

	agentClient interface {
		Submit(ctx context.Context, message, userID, sessionID string) (chat.Submission, error)
		Status(ctx context.Context, taskID string) (chat.TaskStatus, error)
		Await(ctx context.Context, taskID string, policy chat.RetryPolicy) (chat.TaskStatus, error)
	}

	watchlistStore interface {
		Entries() []watchlist.Entry
		Add(entry watchlist.Entry) error
		Remove(symbol string) error
		Reload() error
	}
)

// Handlers serves the dashboard API: REST glue around the collaborators and
// the websocket endpoint that runs a chart session per connection.
type Handlers struct {
	loader    chart.HistoryLoader
	feed      chart.TradeFeed
	watchlist watchlistStore
	sentiment sentimentSource
	clock     marketClock
	agent     agentClient
	retry     chat.RetryPolicy
	metrics   *telemetry.Metrics

	clients *clientSet
}

func NewHandlers(
	loader chart.HistoryLoader,
	feed chart.TradeFeed,
	wl watchlistStore,
	sent sentimentSource,
	clock marketClock,
	agent agentClient,
	metrics *telemetry.Metrics,
) *Handlers {
	return &Handlers{
		loader:    loader,
		feed:      feed,
		watchlist: wl,
		sentiment: sent,
		clock:     clock,
		agent:     agent,
		retry:     chat.DefaultRetryPolicy,
		metrics:   metrics,
		clients:   newClientSet(),
	}
}

// Routes builds the gin engine for everything below /api plus /ws.
func (h *Handlers) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(slogMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	api := router.Group("/api")
	api.GET("/health", h.Health)
	api.GET("/candles", h.Candles)
	api.GET("/watchlist", h.GetWatchlist)
	api.POST("/watchlist", h.AddWatchlistEntry)
	api.DELETE("/watchlist/:symbol", h.RemoveWatchlistEntry)
	api.POST("/watchlist/reload", h.ReloadWatchlist)
	api.GET("/sentiment", h.Sentiment)
	api.GET("/market-hours", h.MarketHours)
	api.POST("/chat", h.SubmitChat)
	api.GET("/chat/:taskID", h.ChatStatus)

	router.GET("/ws", h.ServeWS)

	return router
}
