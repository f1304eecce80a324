package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/okanelabs/tickerdeck/internal/chat"
	"github.com/okanelabs/tickerdeck/internal/domain"
	"github.com/okanelabs/tickerdeck/internal/markethours"
	"github.com/okanelabs/tickerdeck/internal/sentiment"
	"github.com/okanelabs/tickerdeck/internal/watchlist"
)

type fakeLoader struct {
	candles []domain.Candle
	err     error
}

func (l *fakeLoader) Load(_ context.Context, _ string, _ domain.Resolution) ([]domain.Candle, error) {
	return l.candles, l.err
}

type fakeFeed struct{}

func (fakeFeed) SubscribeTrades(string) (<-chan []domain.Trade, func()) {
	ch := make(chan []domain.Trade)
	return ch, func() {}
}

type fakeSentiment struct {
	quotes []sentiment.Quote
	err    error
}

func (s *fakeSentiment) Snapshot(context.Context) ([]sentiment.Quote, error) {
	return s.quotes, s.err
}

type fakeClock struct{}

func (fakeClock) Status(time.Time) []markethours.MarketStatus {
	return []markethours.MarketStatus{{Market: "NYSE", Zone: "America/New_York", Open: true}}
}

type mockAgent struct {
	mock.Mock
}

func (m *mockAgent) Submit(ctx context.Context, message, userID, sessionID string) (chat.Submission, error) {
	args := m.Called(ctx, message, userID, sessionID)
	return args.Get(0).(chat.Submission), args.Error(1)
}

func (m *mockAgent) Status(ctx context.Context, taskID string) (chat.TaskStatus, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(chat.TaskStatus), args.Error(1)
}

func (m *mockAgent) Await(ctx context.Context, taskID string, policy chat.RetryPolicy) (chat.TaskStatus, error) {
	args := m.Called(ctx, taskID, policy)
	return args.Get(0).(chat.TaskStatus), args.Error(1)
}

type testHandlers struct {
	*Handlers
	loader    *fakeLoader
	sentiment *fakeSentiment
	agent     *mockAgent
	router    *gin.Engine
}

func newTestHandlers(t *testing.T) *testHandlers {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wl, err := watchlist.Open(afero.NewMemMapFs(), "/watchlist.yaml")
	require.NoError(t, err)

	loader := &fakeLoader{}
	sent := &fakeSentiment{}
	agent := &mockAgent{}
	h := NewHandlers(loader, fakeFeed{}, wl, sent, fakeClock{}, agent, nil)
	return &testHandlers{Handlers: h, loader: loader, sentiment: sent, agent: agent, router: h.Routes()}
}

func (th *testHandlers) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestCandlesReturnsHistory(t *testing.T) {
	th := newTestHandlers(t)
	th.loader.candles = []domain.Candle{{Time: 900, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}

	rec := th.do(http.MethodGet, "/api/candles?symbol=aapl&resolution=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Symbol     string          `json:"symbol"`
		Resolution string          `json:"resolution"`
		Candles    []domain.Candle `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AAPL", body.Symbol)
	assert.Equal(t, "5", body.Resolution)
	require.Len(t, body.Candles, 1)
	assert.Equal(t, int64(900), body.Candles[0].Time)
}

func TestCandlesValidation(t *testing.T) {
	th := newTestHandlers(t)

	assert.Equal(t, http.StatusBadRequest, th.do(http.MethodGet, "/api/candles", "").Code)
	assert.Equal(t, http.StatusBadRequest, th.do(http.MethodGet, "/api/candles?symbol=AAPL&resolution=2h", "").Code)
}

func TestCandlesUpstreamFailure(t *testing.T) {
	th := newTestHandlers(t)
	th.loader.err = errors.New("connection refused")

	rec := th.do(http.MethodGet, "/api/candles?symbol=AAPL", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWatchlistCRUD(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodPost, "/api/watchlist", `{"symbol":"nvda","name":"NVIDIA"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = th.do(http.MethodGet, "/api/watchlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"NVDA"`)

	rec = th.do(http.MethodDelete, "/api/watchlist/NVDA", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = th.do(http.MethodDelete, "/api/watchlist/NVDA", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchlistReload(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodPost, "/api/watchlist/reload", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSentiment(t *testing.T) {
	th := newTestHandlers(t)
	th.sentiment.quotes = []sentiment.Quote{{Symbol: "NVDA", MarketCap: 3.4e12}}

	rec := th.do(http.MethodGet, "/api/sentiment", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"NVDA"`)
}

func TestSentimentColdCacheFailure(t *testing.T) {
	th := newTestHandlers(t)
	th.sentiment.err = sentiment.ErrRequestFailed

	rec := th.do(http.MethodGet, "/api/sentiment", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMarketHours(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodGet, "/api/market-hours", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"NYSE"`)
}

func TestSubmitChat(t *testing.T) {
	th := newTestHandlers(t)
	th.agent.On("Submit", mock.Anything, "what moved AAPL?", "", "").
		Return(chat.Submission{TaskID: "t-1", UserID: "u-1", SessionID: "s-1", Status: chat.StatusPending}, nil)

	rec := th.do(http.MethodPost, "/api/chat", `{"message":"what moved AAPL?"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"t-1"`)
	th.agent.AssertExpectations(t)
}

func TestSubmitChatEmptyMessage(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodPost, "/api/chat", `{"message":"  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitChatAgentDown(t *testing.T) {
	th := newTestHandlers(t)
	th.agent.On("Submit", mock.Anything, "hi", "", "").
		Return(chat.Submission{}, chat.ErrUnavailable)

	rec := th.do(http.MethodPost, "/api/chat", `{"message":"hi"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatStatusSinglePoll(t *testing.T) {
	th := newTestHandlers(t)
	th.agent.On("Status", mock.Anything, "t-2").
		Return(chat.TaskStatus{TaskID: "t-2", Status: chat.StatusSuccess}, nil)

	rec := th.do(http.MethodGet, "/api/chat/t-2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), chat.StatusSuccess)
}

func TestChatStatusNotFound(t *testing.T) {
	th := newTestHandlers(t)
	th.agent.On("Status", mock.Anything, "nope").
		Return(chat.TaskStatus{}, chat.ErrTaskNotFound)

	rec := th.do(http.MethodGet, "/api/chat/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStatusWaitTimesOut(t *testing.T) {
	th := newTestHandlers(t)
	th.agent.On("Await", mock.Anything, "t-3", chat.DefaultRetryPolicy).
		Return(chat.TaskStatus{}, chat.ErrAwaitTimeout)

	rec := th.do(http.MethodGet, "/api/chat/t-3?wait=true", "")

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodGet, "/api/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	echo := httptest.NewRecorder()
	th.router.ServeHTTP(echo, req)
	assert.Equal(t, "fixed-id", echo.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	th := newTestHandlers(t)

	rec := th.do(http.MethodOptions, "/api/watchlist", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
