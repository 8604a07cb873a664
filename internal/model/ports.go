package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These decouple the scan engine from concrete collaborators (broker APIs,
// scrip master). Fakes satisfy them in tests.

// HistoryProvider fetches candle history from one upstream data source.
// The orchestrator holds a priority-ordered list and tries each until one
// returns non-empty data.
type HistoryProvider interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// DailyCandles returns daily candles for the token over [from, to].
	DailyCandles(ctx context.Context, token string, from, to time.Time) ([]Candle, error)

	// IntradayCandles returns finer-granularity (5-minute) candles for the
	// token on the given trading date.
	IntradayCandles(ctx context.Context, token string, date time.Time) ([]Candle, error)
}

// UniverseProvider supplies the symbol universe to scan and resolves symbols
// to instrument tokens. The universe may grow or shrink between cycles.
type UniverseProvider interface {
	// Instruments returns the current scan universe.
	Instruments(ctx context.Context) ([]Instrument, error)

	// Lookup resolves a trading symbol to its instrument token.
	Lookup(symbol string) (token string, ok bool)
}
