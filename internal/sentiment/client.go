package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrRequestFailed = errors.New("sentiment request failed")

// Quote is one treemap cell: a large-cap symbol weighted by market cap and
// colored by daily change.
type Quote struct {
	Symbol        string  `json:"symbol"`
	MarketCap     float64 `json:"marketCap"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
	Change        float64 `json:"change"`
}

// Client fetches the market-sentiment snapshot from the quote API and caches
// it for a TTL, so the treemap's polling doesn't hammer the upstream. A fetch
// failure with a warm cache serves the stale snapshot instead of an error.
type Client struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	mu        sync.Mutex
	cached    []Quote
	fetchedAt time.Time
}

func NewClient(baseURL string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
	}
}

// Snapshot returns the sentiment quotes sorted by market cap descending.
func (c *Client) Snapshot(ctx context.Context) ([]Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.copyCached(), nil
	}

	quotes, err := c.fetch(ctx)
	if err != nil {
		if c.cached == nil {
			return nil, err
		}
		slog.DebugContext(ctx, "sentiment fetch failed, serving stale snapshot", "error", err, "age", time.Since(c.fetchedAt))
		return c.copyCached(), nil
	}

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].MarketCap > quotes[j].MarketCap })
	c.cached = quotes
	c.fetchedAt = time.Now()
	return c.copyCached(), nil
}

func (c *Client) copyCached() []Quote {
	out := make([]Quote, len(c.cached))
	copy(out, c.cached)
	return out
}

func (c *Client) fetch(ctx context.Context) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stocks/market-sentiment/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var quotes []Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRequestFailed, err)
	}
	return quotes, nil
}
