package model

import "time"

// Event is a newly detected breakout or strategy trigger that still needs a
// first-occurrence timestamp. Exactly one of Window/Strategy is set.
type Event struct {
	Window   string    // breakout window label ("1d", "52w", "all", ...)
	Strategy string    // strategy name for trigger events
	Bullish  bool      // direction of the cross
	Level    float64   // price level to resolve against; 0 → no intraday resolution
	Date     time.Time // calendar date of the breakout candle
}

// Resolvable reports whether the event carries a price level the intraday
// resolver can search for.
func (e Event) Resolvable() bool { return e.Level > 0 }
