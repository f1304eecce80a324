package chart

import (
	"context"
	"math"

	"github.com/okanelabs/tickerdeck/internal/domain"
	"github.com/okanelabs/tickerdeck/internal/telemetry"
)

// Aggregator folds socket trade batches into a store and collects the
// per-trade signals for the renderer, preserving arrival order. The
// resolution is passed per batch, so a resolution switch re-buckets the very
// next message instead of the one captured at subscription time.
type Aggregator struct {
	store   *Store
	metrics *telemetry.Metrics
}

func NewAggregator(store *Store, metrics *telemetry.Metrics) *Aggregator {
	return &Aggregator{
		store:   store,
		metrics: metrics,
	}
}

// Apply folds one batch. Trades for other symbols are skipped: a batch
// buffered across a symbol switch must not corrupt the new symbol's buckets.
func (a *Aggregator) Apply(ctx context.Context, symbol string, resolution domain.Resolution, trades []domain.Trade) []Signal {
	signals := make([]Signal, 0, len(trades))
	for _, trade := range trades {
		if trade.Symbol != symbol {
			a.metrics.TradeDropped(ctx, telemetry.DropOtherSymbol)
			continue
		}
		if math.IsNaN(trade.Price) || math.IsInf(trade.Price, 0) {
			a.metrics.TradeDropped(ctx, telemetry.DropBadPrice)
			continue
		}

		sig, ok := a.store.ApplyTrade(trade, resolution)
		if !ok {
			a.metrics.TradeDropped(ctx, telemetry.DropOutOfOrder)
			continue
		}

		if sig.Kind == SignalAppend {
			a.metrics.CandleAppended(ctx)
		} else {
			a.metrics.CandleUpdated(ctx)
		}
		signals = append(signals, sig)
	}
	if len(signals) > 0 {
		a.metrics.TradesApplied(ctx, len(signals))
	}
	return signals
}
