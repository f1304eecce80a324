package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanelabs/tickerdeck/internal/chart"
	"github.com/okanelabs/tickerdeck/internal/domain"
)

func TestLoadSecondResolutionSkipsNetwork(t *testing.T) {
	// an unroutable base URL proves no request is made
	loader := NewLoader("http://127.0.0.1:0", nil)

	candles, err := loader.Load(context.Background(), "AAPL", domain.ResolutionSecond)

	require.NoError(t, err)
	assert.Nil(t, candles)
}

func TestLoadParsesMinuteBars(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"symbol":   r.URL.Query().Get("symbol"),
			"interval": r.URL.Query().Get("interval"),
			"period":   r.URL.Query().Get("period"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[
			{"date":1700000060,"open":10,"high":12,"low":9,"close":11,"volume":100},
			{"date":1700000000,"open":9,"high":10,"low":8,"close":10,"volume":50}
		]}`))
	}))
	defer server.Close()

	loader := NewLoader(server.URL+"/", nil)
	candles, err := loader.Load(context.Background(), "AAPL", domain.ResolutionMinute)

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"symbol": "AAPL", "interval": "1m", "period": "1d"}, gotQuery)
	require.Len(t, candles, 2)
	// stamps are floored onto the minute grid
	assert.Equal(t, domain.Candle{Time: 1699999980, Open: 9, High: 10, Low: 8, Close: 10, Volume: 50}, candles[0])
	assert.Equal(t, int64(1700000040), candles[1].Time)
}

func TestLoadAcceptsTimeField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[
			{"time":1700000040,"open":9,"high":10,"low":8,"close":10}
		]}`))
	}))
	defer server.Close()

	candles, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionMinute)

	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1700000040), candles[0].Time)
	assert.Zero(t, candles[0].Volume)
}

func TestLoadDropsMalformedRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[
			{"date":1700000000,"open":9,"high":10,"low":8,"close":10},
			{"date":1700000060,"high":10,"low":8,"close":10},
			{"open":9,"high":10,"low":8,"close":10},
			{"date":1700000120,"open":null,"high":10,"low":8,"close":10}
		]}`))
	}))
	defer server.Close()

	candles, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionMinute)

	require.NoError(t, err)
	assert.Len(t, candles, 1)
}

func TestLoadDedupsKeepingLast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[
			{"date":1700000000,"open":1,"high":1,"low":1,"close":1},
			{"date":1700000000,"open":2,"high":2,"low":2,"close":2}
		]}`))
	}))
	defer server.Close()

	candles, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionMinute)

	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2.0, candles[0].Close)
}

func TestLoadDownsamplesWideIntraday(t *testing.T) {
	var gotInterval, gotPeriod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInterval = r.URL.Query().Get("interval")
		gotPeriod = r.URL.Query().Get("period")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[
			{"date":1700000100,"open":10,"high":12,"low":9,"close":11,"volume":100},
			{"date":1700000160,"open":11,"high":14,"low":10,"close":13,"volume":50},
			{"date":1700000400,"open":13,"high":13,"low":12,"close":12,"volume":25}
		]}`))
	}))
	defer server.Close()

	candles, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.Resolution5Minutes)

	require.NoError(t, err)
	assert.Equal(t, "1m", gotInterval)
	assert.Equal(t, "5d", gotPeriod)
	require.Len(t, candles, 2)
	// 1700000100 is 5m-aligned, so the first two bars share its bucket
	assert.Equal(t, domain.Candle{Time: 1700000100, Open: 10, High: 14, Low: 9, Close: 13, Volume: 150}, candles[0])
	assert.Equal(t, domain.Candle{Time: 1700000400, Open: 13, High: 13, Low: 12, Close: 12, Volume: 25}, candles[1])
}

func TestLoadDailyParams(t *testing.T) {
	var gotInterval, gotPeriod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInterval = r.URL.Query().Get("interval")
		gotPeriod = r.URL.Query().Get("period")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[]}`))
	}))
	defer server.Close()

	candles, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionDay)

	require.NoError(t, err)
	assert.Empty(t, candles)
	assert.Equal(t, "1d", gotInterval)
	assert.Equal(t, "1mo", gotPeriod)
}

func TestLoadAlignsDailyStamps(t *testing.T) {
	// yfinance-style daily bars are stamped midnight exchange-local:
	// 1700024400 is 05:00 utc, not a multiple of 86400
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"AAPL","prices":[
			{"date":1700024400,"open":9,"high":10,"low":8,"close":10,"volume":100},
			{"date":1700092800,"open":10,"high":11,"low":9,"close":11,"volume":80}
		]}`))
	}))
	defer server.Close()

	candles, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionDay)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700006400), candles[0].Time)
	assert.Equal(t, int64(1700092800), candles[1].Time)
	for _, c := range candles {
		assert.Zero(t, c.Time%domain.ResolutionDay.Seconds())
	}

	// a live trade later the same day folds into the seeded candle instead
	// of being dropped as out of order
	store := chart.NewStore()
	store.ReplaceAll(candles)
	sig, ok := store.ApplyTrade(domain.Trade{Symbol: "AAPL", Price: 12, Volume: 1, Timestamp: 1_700_146_800_000}, domain.ResolutionDay)
	require.True(t, ok)
	assert.Equal(t, chart.SignalUpdate, sig.Kind)
	assert.Equal(t, 12.0, sig.Candle.Close)
}

func TestLoadUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionMinute)

	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestLoadBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":`))
	}))
	defer server.Close()

	_, err := NewLoader(server.URL, nil).Load(context.Background(), "AAPL", domain.ResolutionMinute)

	assert.ErrorIs(t, err, ErrRequestFailed)
}
