package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Trade drop reasons recorded on the dropped-trades counter.
const (
	DropOutOfOrder  = "out_of_order"
	DropBadPrice    = "bad_price"
	DropOtherSymbol = "other_symbol"
)

// Metrics carries the pipeline instruments. A nil *Metrics drops every
// measurement, so components and their tests never need a provider.
type Metrics struct {
	tradesApplied   metric.Int64Counter
	tradesDropped   metric.Int64Counter
	candlesAppended metric.Int64Counter
	candlesUpdated  metric.Int64Counter
	historyRequests metric.Int64Counter
	historyDuration metric.Float64Histogram
	wsClients       metric.Int64UpDownCounter
	subscriptions   metric.Int64UpDownCounter
}

// New wires the Prometheus exporter into a meter provider and builds the
// dashboard instruments. The exporter registers with the default prometheus
// registry, which the web server exposes on /metrics.
func New() (*Metrics, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("tickerdeck")

	m := &Metrics{}
	if m.tradesApplied, err = meter.Int64Counter("tickerdeck.trades.applied",
		metric.WithDescription("Trade ticks folded into the candle series")); err != nil {
		return nil, nil, err
	}
	if m.tradesDropped, err = meter.Int64Counter("tickerdeck.trades.dropped",
		metric.WithDescription("Trade ticks discarded before folding")); err != nil {
		return nil, nil, err
	}
	if m.candlesAppended, err = meter.Int64Counter("tickerdeck.candles.appended",
		metric.WithDescription("New candles opened by live trades")); err != nil {
		return nil, nil, err
	}
	if m.candlesUpdated, err = meter.Int64Counter("tickerdeck.candles.updated",
		metric.WithDescription("In-place updates to the last candle")); err != nil {
		return nil, nil, err
	}
	if m.historyRequests, err = meter.Int64Counter("tickerdeck.history.requests",
		metric.WithDescription("History fetches by outcome")); err != nil {
		return nil, nil, err
	}
	if m.historyDuration, err = meter.Float64Histogram("tickerdeck.history.duration",
		metric.WithDescription("History fetch duration"),
		metric.WithUnit("s")); err != nil {
		return nil, nil, err
	}
	if m.wsClients, err = meter.Int64UpDownCounter("tickerdeck.ws.clients",
		metric.WithDescription("Connected dashboard sockets")); err != nil {
		return nil, nil, err
	}
	if m.subscriptions, err = meter.Int64UpDownCounter("tickerdeck.stream.subscriptions",
		metric.WithDescription("Active trade-feed subscriptions")); err != nil {
		return nil, nil, err
	}

	return m, provider, nil
}

func (m *Metrics) TradesApplied(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.tradesApplied.Add(ctx, int64(n))
}

func (m *Metrics) TradeDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.tradesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) CandleAppended(ctx context.Context) {
	if m == nil {
		return
	}
	m.candlesAppended.Add(ctx, 1)
}

func (m *Metrics) CandleUpdated(ctx context.Context) {
	if m == nil {
		return
	}
	m.candlesUpdated.Add(ctx, 1)
}

func (m *Metrics) HistoryRequest(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.historyRequests.Add(ctx, 1, attrs)
	m.historyDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) WSClients(ctx context.Context, delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(ctx, int64(delta))
}

func (m *Metrics) Subscriptions(ctx context.Context, delta int) {
	if m == nil {
		return
	}
	m.subscriptions.Add(ctx, int64(delta))
}
