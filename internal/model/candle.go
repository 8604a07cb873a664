package model

import (
	"sort"
	"time"
)

// Timestamp layouts used across the tracker and resolver.
// A precise timestamp carries the session date and can be matched against
// "today" during cleanup; a coarse (scan-time) timestamp has no date and is
// always treated as stale at the next session start.
const (
	PreciseTimeLayout = "2006-01-02 15:04:05"
	CoarseTimeLayout  = "15:04:05"
)

// Candle is one OHLCV record for a time bucket (daily or intraday).
// Prices are in rupees as returned by the broker historical APIs.
// Immutable once fetched.
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Date returns the calendar date of the candle in its own location,
// truncated to midnight.
func (c Candle) Date() time.Time {
	y, m, d := c.TS.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.TS.Location())
}

// SortAscending orders candles by timestamp, oldest first. Some feeds
// return candles newest-first; the engine always works on ascending series.
func SortAscending(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].TS.Before(candles[j].TS)
	})
}

// MaxHigh returns the highest high across the series, or 0 for an empty series.
func MaxHigh(candles []Candle) float64 {
	max := 0.0
	for _, c := range candles {
		if c.High > max {
			max = c.High
		}
	}
	return max
}

// Closes extracts the closing-price series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
