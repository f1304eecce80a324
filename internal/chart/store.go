package chart

import (
	"math"
	"sort"

	"github.com/okanelabs/tickerdeck/internal/domain"
)

type SignalKind uint8

const (
	SignalAppend SignalKind = iota
	SignalUpdate
)

func (k SignalKind) String() string {
	if k == SignalAppend {
		return "append"
	}
	return "update"
}

// Signal reports how a trade landed in the store, so the renderer can mirror
// the change without a full redraw.
type Signal struct {
	Kind   SignalKind
	Candle domain.Candle
}

// Store holds the ordered candle series for one (symbol, resolution) binding.
// Times are strictly increasing and unique. The store is owned by a single
// session loop and does no locking of its own.
type Store struct {
	candles []domain.Candle
}

func NewStore() *Store {
	return &Store{}
}

// ReplaceAll seeds the store from a fetched series. Input may arrive unsorted
// and with duplicate timestamps; the last occurrence of a timestamp wins.
func (s *Store) ReplaceAll(candles []domain.Candle) {
	out := make([]domain.Candle, 0, len(candles))
	seen := make(map[int64]int, len(candles))
	for _, c := range candles {
		if i, ok := seen[c.Time]; ok {
			out[i] = c
			continue
		}
		seen[c.Time] = len(out)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time < out[j].Time
	})
	s.candles = out
}

// ApplyTrade folds one tick into the series. It reports false when the tick
// was dropped: a non-finite price, or a bucket older than the last candle.
// Late ticks never rewrite history.
func (s *Store) ApplyTrade(trade domain.Trade, resolution domain.Resolution) (Signal, bool) {
	price := trade.Price
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Signal{}, false
	}

	bucket := resolution.TradeBucket(trade)
	if n := len(s.candles); n > 0 {
		last := &s.candles[n-1]
		if bucket == last.Time {
			last.High = math.Max(last.High, price)
			last.Low = math.Min(last.Low, price)
			last.Close = price
			last.Volume += trade.Volume
			return Signal{Kind: SignalUpdate, Candle: *last}, true
		}
		if bucket < last.Time {
			return Signal{}, false
		}
	}

	c := domain.Candle{
		Time:   bucket,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: trade.Volume,
	}
	s.candles = append(s.candles, c)
	return Signal{Kind: SignalAppend, Candle: c}, true
}

func (s *Store) Len() int {
	return len(s.candles)
}

func (s *Store) Last() (domain.Candle, bool) {
	if len(s.candles) == 0 {
		return domain.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Candles returns a copy of the series; renderers hand it off asynchronously.
func (s *Store) Candles() []domain.Candle {
	out := make([]domain.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *Store) Reset() {
	s.candles = nil
}
