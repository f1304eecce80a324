package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/okanelabs/tickerdeck/internal/domain"
	"github.com/okanelabs/tickerdeck/internal/telemetry"
)

var ErrRequestFailed = errors.New("history request failed")

// Loader fetches seed candles from the quote API.
type Loader struct {
	baseURL string
	client  *http.Client
	metrics *telemetry.Metrics
}

func NewLoader(baseURL string, metrics *telemetry.Metrics) *Loader {
	return &Loader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: metrics,
	}
}

// Load returns history for symbol at the requested resolution, sorted by
// bucket start with duplicates collapsed. The second resolution has no
// historical source; it seeds empty and fills from the live stream.
func (l *Loader) Load(ctx context.Context, symbol string, resolution domain.Resolution) ([]domain.Candle, error) {
	if resolution == domain.ResolutionSecond {
		return nil, nil
	}
	start := time.Now()
	candles, err := l.fetch(ctx, symbol, resolution)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.metrics.HistoryRequest(ctx, outcome, time.Since(start).Seconds())
	return candles, err
}

func (l *Loader) fetch(ctx context.Context, symbol string, resolution domain.Resolution) ([]domain.Candle, error) {
	interval, period := upstreamParams(resolution)
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("period", period)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/stocks/?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRequestFailed, err)
	}

	candles := make([]domain.Candle, 0, len(payload.Prices))
	for _, record := range payload.Prices {
		candle, ok := record.candle()
		if !ok {
			continue
		}
		candles = append(candles, candle)
	}
	// upstream stamps are not guaranteed on the bucket grid: daily bars
	// arrive at midnight exchange-local time, not midnight utc. Realign so
	// live trades land in the seeded buckets instead of being dropped as
	// out of order.
	grid := domain.ResolutionMinute
	if resolution == domain.ResolutionDay {
		grid = domain.ResolutionDay
	}
	for i := range candles {
		candles[i].Time = grid.BucketStart(candles[i].Time)
	}
	candles = dedupSorted(candles)
	switch resolution {
	case domain.Resolution5Minutes, domain.Resolution15Minutes, domain.ResolutionHour:
		candles = downsample(candles, resolution)
	}
	return candles, nil
}

// upstreamParams maps a resolution to the quote API's supported interval and
// lookback. The API only serves 1m and 1d bars; wider intra-day resolutions
// fetch minute bars and fold them locally.
func upstreamParams(resolution domain.Resolution) (interval, period string) {
	switch resolution {
	case domain.ResolutionDay:
		return "1d", "1mo"
	case domain.ResolutionMinute:
		return "1m", "1d"
	default:
		return "1m", "5d"
	}
}

// downsample folds sorted minute bars into wider buckets: first open,
// running high/low, last close, summed volume.
func downsample(minutes []domain.Candle, resolution domain.Resolution) []domain.Candle {
	if len(minutes) == 0 {
		return minutes
	}
	out := make([]domain.Candle, 0, len(minutes))
	for _, minute := range minutes {
		bucket := resolution.BucketStart(minute.Time)
		if len(out) > 0 && out[len(out)-1].Time == bucket {
			last := &out[len(out)-1]
			last.High = math.Max(last.High, minute.High)
			last.Low = math.Min(last.Low, minute.Low)
			last.Close = minute.Close
			last.Volume += minute.Volume
			continue
		}
		out = append(out, domain.Candle{
			Time:   bucket,
			Open:   minute.Open,
			High:   minute.High,
			Low:    minute.Low,
			Close:  minute.Close,
			Volume: minute.Volume,
		})
	}
	return out
}

// dedupSorted sorts ascending by bucket start and keeps the last record for
// any duplicated timestamp.
func dedupSorted(candles []domain.Candle) []domain.Candle {
	if len(candles) < 2 {
		return candles
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	out := candles[:1]
	for _, candle := range candles[1:] {
		if candle.Time == out[len(out)-1].Time {
			out[len(out)-1] = candle
			continue
		}
		out = append(out, candle)
	}
	return out
}

type historyResponse struct {
	Symbol string          `json:"symbol"`
	Prices []historyRecord `json:"prices"`
}

// historyRecord tolerates both spellings the quote API has used for the bar
// timestamp and drops rows with missing or non-finite prices.
type historyRecord struct {
	Date   *int64   `json:"date"`
	Time   *int64   `json:"time"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`
}

func (r historyRecord) candle() (domain.Candle, bool) {
	ts := r.Date
	if ts == nil {
		ts = r.Time
	}
	if ts == nil || r.Open == nil || r.High == nil || r.Low == nil || r.Close == nil {
		return domain.Candle{}, false
	}
	for _, v := range []float64{*r.Open, *r.High, *r.Low, *r.Close} {
		if !finite(v) {
			return domain.Candle{}, false
		}
	}
	candle := domain.Candle{Time: *ts, Open: *r.Open, High: *r.High, Low: *r.Low, Close: *r.Close}
	if r.Volume != nil && finite(*r.Volume) {
		candle.Volume = *r.Volume
	}
	return candle, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
