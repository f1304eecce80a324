package chart

import (
	"context"
	"log/slog"

	"github.com/okanelabs/tickerdeck/internal/domain"
	"github.com/okanelabs/tickerdeck/internal/telemetry"
)

// State is the session lifecycle: Empty until the first bind, Loading while
// the history fetch is in flight, Seeded once history applied, Live after the
// first trade folded.
type State uint8

const (
	StateEmpty State = iota
	StateLoading
	StateSeeded
	StateLive
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSeeded:
		return "seeded"
	case StateLive:
		return "live"
	default:
		return "empty"
	}
}

// HistoryLoader fetches the seed series for a binding.
type HistoryLoader interface {
	Load(ctx context.Context, symbol string, resolution domain.Resolution) ([]domain.Candle, error)
}

// TradeFeed is the slice of the stream client a session needs: a channel of
// symbol-filtered trade batches plus a cancel that detaches the subscription.
type TradeFeed interface {
	SubscribeTrades(symbol string) (batches <-chan []domain.Trade, cancel func())
}

// StatusSink receives session lifecycle signals for the UI indicator.
type StatusSink interface {
	SessionState(state State)
	SessionError(err error)
}

type binding struct {
	symbol     string
	resolution domain.Resolution
}

type historyResult struct {
	generation uint64
	candles    []domain.Candle
	err        error
}

// Session binds one (symbol, resolution) to one store, one renderer and one
// feed subscription. Run owns all of it from a single goroutine; rebinding
// bumps a generation counter so responses raced by a switch are discarded.
type Session struct {
	loader   HistoryLoader
	feed     TradeFeed
	renderer *Renderer
	status   StatusSink
	store    *Store
	agg      *Aggregator

	binds chan binding
	done  chan struct{}

	// owned by the Run loop
	generation uint64
	state      State
	symbol     string
	resolution domain.Resolution
}

func NewSession(loader HistoryLoader, feed TradeFeed, surface Surface, status StatusSink, metrics *telemetry.Metrics) *Session {
	store := NewStore()
	return &Session{
		loader:   loader,
		feed:     feed,
		renderer: NewRenderer(surface),
		status:   status,
		store:    store,
		agg:      NewAggregator(store, metrics),
		binds:    make(chan binding, 8),
		done:     make(chan struct{}),
	}
}

// Bind points the session at a new (symbol, resolution). The previous store,
// fit state and subscription are discarded; a pending history response for
// the old binding resolves into nothing.
func (s *Session) Bind(symbol string, resolution domain.Resolution) {
	select {
	case s.binds <- binding{symbol: symbol, resolution: resolution}:
	case <-s.done:
	}
}

// Run processes binds, history results and trade batches until ctx ends.
// All session state is confined to this goroutine.
func (s *Session) Run(ctx context.Context) {
	var (
		trades      <-chan []domain.Trade
		unsubscribe func()
	)
	history := make(chan historyResult, 1)

	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		s.renderer.Remove()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case b := <-s.binds:
			s.generation++
			if unsubscribe != nil {
				unsubscribe()
				unsubscribe = nil
				trades = nil
			}
			s.symbol = b.symbol
			s.resolution = b.resolution
			s.store.Reset()
			s.renderer.Reset()
			s.renderer.SetFullSeries(nil)
			s.setState(StateLoading)
			slog.DebugContext(ctx, "chart session bound", "symbol", s.symbol, "resolution", s.resolution, "generation", s.generation)

			trades, unsubscribe = s.feed.SubscribeTrades(b.symbol)
			go s.fetchHistory(ctx, s.generation, b.symbol, b.resolution, history)

		case res := <-history:
			s.applyHistory(ctx, res)

		case batch, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			s.applyBatch(ctx, batch)
		}
	}
}

func (s *Session) fetchHistory(ctx context.Context, generation uint64, symbol string, resolution domain.Resolution, out chan<- historyResult) {
	candles, err := s.loader.Load(ctx, symbol, resolution)
	select {
	case out <- historyResult{generation: generation, candles: candles, err: err}:
	case <-ctx.Done():
	}
}

func (s *Session) applyHistory(ctx context.Context, res historyResult) {
	if res.generation != s.generation {
		slog.DebugContext(ctx, "discarding stale history response", "symbol", s.symbol, "generation", res.generation)
		return
	}
	if res.err != nil {
		slog.WarnContext(ctx, "history load failed", "symbol", s.symbol, "resolution", s.resolution, "error", res.err)
		s.status.SessionError(res.err)
		return
	}
	if s.state == StateLive {
		// live trades already extended the series; seeding now would clobber them
		slog.DebugContext(ctx, "history arrived after live trades, keeping live series", "symbol", s.symbol)
		return
	}

	s.store.ReplaceAll(res.candles)
	s.renderer.SetFullSeries(s.store.Candles())
	s.setState(StateSeeded)
	slog.DebugContext(ctx, "chart session seeded", "symbol", s.symbol, "candle_count", s.store.Len())
}

func (s *Session) applyBatch(ctx context.Context, batch []domain.Trade) {
	signals := s.agg.Apply(ctx, s.symbol, s.resolution, batch)
	if len(signals) == 0 {
		return
	}
	for _, sig := range signals {
		s.renderer.UpdateLastCandle(sig.Candle)
	}
	if s.state != StateLive {
		s.setState(StateLive)
	}
}

func (s *Session) setState(state State) {
	s.state = state
	s.status.SessionState(state)
}
