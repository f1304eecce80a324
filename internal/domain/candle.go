package domain

// Candle is one OHLC bar for a fixed time bucket. Time is the bucket start in
// unix seconds, aligned to the resolution interval; the JSON shape is what the
// chart widget consumes directly.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Trade is a single execution tick from the live feed. Timestamp is in
// milliseconds; trades are folded into candles and discarded.
type Trade struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp int64
}
