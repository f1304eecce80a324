package domain

import (
	"errors"
	"time"
)

var ErrInvalidResolution = errors.New("invalid resolution")

// Resolution selects the candle bucket width. The wire strings follow the
// chart widget's conventions: minute counts, "1S" for the live-only second
// stream and "D" for daily.
type Resolution time.Duration

const (
	ResolutionSecond    = Resolution(time.Second)
	ResolutionMinute    = Resolution(time.Minute)
	Resolution5Minutes  = Resolution(5 * time.Minute)
	Resolution15Minutes = Resolution(15 * time.Minute)
	ResolutionHour      = Resolution(time.Hour)
	ResolutionDay       = Resolution(24 * time.Hour)
)

func (r Resolution) String() string {
	return resolutionToString[r]
}

func ParseResolution(s string) (Resolution, error) {
	r, ok := stringToResolution[s]
	if !ok {
		return 0, ErrInvalidResolution
	}
	return r, nil
}

// Seconds returns the bucket width in whole seconds.
func (r Resolution) Seconds() int64 {
	return int64(time.Duration(r) / time.Second)
}

// BucketStart maps a unix-seconds timestamp to the start of its bucket:
// floor(ts/interval)*interval. Idempotent.
func (r Resolution) BucketStart(ts int64) int64 {
	interval := r.Seconds()
	start := ts - ts%interval
	if ts < 0 && ts%interval != 0 {
		start -= interval
	}
	return start
}

// TradeBucket maps a trade's millisecond timestamp to its bucket start.
func (r Resolution) TradeBucket(t Trade) int64 {
	return r.BucketStart(t.Timestamp / 1000)
}

var resolutionToString = map[Resolution]string{
	ResolutionSecond:    "1S",
	ResolutionMinute:    "1",
	Resolution5Minutes:  "5",
	Resolution15Minutes: "15",
	ResolutionHour:      "60",
	ResolutionDay:       "D",
}

var stringToResolution = map[string]Resolution{
	"1S": ResolutionSecond,
	"1":  ResolutionMinute,
	"5":  Resolution5Minutes,
	"15": Resolution15Minutes,
	"60": ResolutionHour,
	"D":  ResolutionDay,
}
