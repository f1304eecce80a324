package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotBody = `[
	{"symbol":"AAPL","marketCap":3.0e12,"price":230,"changePercent":0.5,"change":1.15},
	{"symbol":"NVDA","marketCap":3.4e12,"price":130,"changePercent":-1.2,"change":-1.58},
	{"symbol":"MSFT","marketCap":3.2e12,"price":420,"changePercent":0.1,"change":0.42}
]`

func TestSnapshotSortsByMarketCapDescending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stocks/market-sentiment/", r.URL.Path)
		_, _ = w.Write([]byte(snapshotBody))
	}))
	defer server.Close()

	quotes, err := NewClient(server.URL, time.Minute).Snapshot(context.Background())

	require.NoError(t, err)
	require.Len(t, quotes, 3)
	assert.Equal(t, "NVDA", quotes[0].Symbol)
	assert.Equal(t, "MSFT", quotes[1].Symbol)
	assert.Equal(t, "AAPL", quotes[2].Symbol)
}

func TestSnapshotCachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(snapshotBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Minute)
	for i := 0; i < 5; i++ {
		_, err := client.Snapshot(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), hits.Load())
}

func TestSnapshotServesStaleOnFetchFailure(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(snapshotBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Nanosecond) // every call refetches
	warm, err := client.Snapshot(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	stale, err := client.Snapshot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, warm, stale)
}

func TestSnapshotColdCacheFailureReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Minute).Snapshot(context.Background())

	assert.ErrorIs(t, err, ErrRequestFailed)
}
