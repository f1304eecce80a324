package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okanelabs/tickerdeck/internal/chat"
	"github.com/okanelabs/tickerdeck/internal/domain"
	"github.com/okanelabs/tickerdeck/internal/watchlist"
)

// Health handles GET /api/health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Candles handles GET /api/candles: the manual history reload for the chart.
func (h *Handlers) Candles(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	resolution, err := domain.ParseResolution(c.DefaultQuery("resolution", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resolution"})
		return
	}

	candles, err := h.loader.Load(c.Request.Context(), symbol, resolution)
	if err != nil {
		h.serverError(c, http.StatusBadGateway, "history fetch failed", err)
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "resolution": resolution.String(), "candles": candles})
}

// GetWatchlist handles GET /api/watchlist.
func (h *Handlers) GetWatchlist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"watchlist": h.watchlist.Entries()})
}

// AddWatchlistEntry handles POST /api/watchlist.
func (h *Handlers) AddWatchlistEntry(c *gin.Context) {
	var entry watchlist.Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.watchlist.Add(entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"watchlist": h.watchlist.Entries()})
}

// RemoveWatchlistEntry handles DELETE /api/watchlist/:symbol.
func (h *Handlers) RemoveWatchlistEntry(c *gin.Context) {
	err := h.watchlist.Remove(c.Param("symbol"))
	if errors.Is(err, watchlist.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not in watchlist"})
		return
	}
	if err != nil {
		h.serverError(c, http.StatusInternalServerError, "watchlist update failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReloadWatchlist handles POST /api/watchlist/reload.
func (h *Handlers) ReloadWatchlist(c *gin.Context) {
	if err := h.watchlist.Reload(); err != nil {
		h.serverError(c, http.StatusInternalServerError, "watchlist reload failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": h.watchlist.Entries()})
}

// Sentiment handles GET /api/sentiment.
func (h *Handlers) Sentiment(c *gin.Context) {
	quotes, err := h.sentiment.Snapshot(c.Request.Context())
	if err != nil {
		h.serverError(c, http.StatusBadGateway, "sentiment fetch failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

// MarketHours handles GET /api/market-hours.
func (h *Handlers) MarketHours(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markets": h.clock.Status(time.Now())})
}

type chatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SubmitChat handles POST /api/chat: proxy the message to the agent task
// manager and answer 202 with the task handle.
func (h *Handlers) SubmitChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	sub, err := h.agent.Submit(c.Request.Context(), req.Message, req.UserID, req.SessionID)
	if errors.Is(err, chat.ErrUnavailable) {
		h.serverError(c, http.StatusServiceUnavailable, "agent unreachable", err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    sub.TaskID,
		"user_id":    sub.UserID,
		"session_id": sub.SessionID,
		"status":     sub.Status,
		"message":    "Task started successfully",
	})
}

// ChatStatus handles GET /api/chat/:taskID. A single poll by default;
// ?wait=true blocks under the retry policy until the task is terminal.
func (h *Handlers) ChatStatus(c *gin.Context) {
	taskID := c.Param("taskID")

	var (
		status chat.TaskStatus
		err    error
	)
	if c.Query("wait") == "true" {
		status, err = h.agent.Await(c.Request.Context(), taskID, h.retry)
	} else {
		status, err = h.agent.Status(c.Request.Context(), taskID)
	}

	switch {
	case errors.Is(err, chat.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found", "status": "NOT_FOUND"})
	case errors.Is(err, chat.ErrAwaitTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "task still pending", "status": chat.StatusPending})
	case errors.Is(err, chat.ErrUnavailable):
		h.serverError(c, http.StatusServiceUnavailable, "agent unreachable", err)
	case err != nil:
		h.serverError(c, http.StatusInternalServerError, "chat status failed", err)
	default:
		c.JSON(http.StatusOK, status)
	}
}

func (h *Handlers) serverError(c *gin.Context, status int, message string, err error) {
	slog.ErrorContext(c.Request.Context(), message,
		"error", err,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetString(requestIDContextKey),
	)
	c.JSON(status, gin.H{"error": message, "request_id": c.GetString(requestIDContextKey)})
}
