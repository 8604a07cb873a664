// Package resolver pins a detected breakout or strategy trigger to the
// earliest intraday timestamp at which the price level was actually crossed.
//
// Daily-resolution detection is cheap but coarse; the resolver trades one
// extra intraday fetch per symbol with events for a human-meaningful
// "it happened at HH:MM" timestamp. Symbols with no events never pay the
// fetch.
package resolver

import (
	"context"
	"errors"
	"time"

	"stock-scanner/internal/markethours"
	"stock-scanner/internal/model"
)

// ErrUnresolved means the intraday feed was empty or unavailable; the caller
// keeps no timestamp and retries next cycle.
var ErrUnresolved = errors.New("resolver: no intraday data for event")

// FetchFunc fetches intraday candles for a token on a trading date. The
// orchestrator injects its provider-failover fetch here.
type FetchFunc func(ctx context.Context, token string, date time.Time) ([]model.Candle, error)

// Memo caches one symbol's intraday candles for the duration of a single
// cycle so multiple events on the same symbol share one fetch. It is scoped
// to the worker processing the symbol and discarded afterwards.
type Memo struct {
	candles []model.Candle
	err     error
	loaded  bool
}

// Resolver searches intraday candles for the first crossing of an event's
// trigger level.
type Resolver struct {
	fetch FetchFunc
}

// New creates a Resolver backed by the given intraday fetch.
func New(fetch FetchFunc) *Resolver {
	return &Resolver{fetch: fetch}
}

// Resolve returns the precise first-cross timestamp for the event, formatted
// with the session date so tracker cleanup can match it against "today".
//
// Rules, in order:
//  1. Strict match: the first candle whose open already satisfies the level
//     (gap) or whose high/low crosses it mid-session.
//  2. Best-effort fallback: no candle strictly crossed (daily and intraday
//     feeds disagree), so the single best candle's timestamp is returned.
//     This is an approximation, not a guaranteed-exact time.
//  3. ErrUnresolved when the intraday feed is empty.
func (r *Resolver) Resolve(ctx context.Context, token string, ev model.Event, memo *Memo) (string, error) {
	if !ev.Resolvable() {
		return "", ErrUnresolved
	}

	if !memo.loaded {
		memo.candles, memo.err = r.fetch(ctx, token, ev.Date)
		if memo.err == nil {
			model.SortAscending(memo.candles)
		}
		memo.loaded = true
	}
	if memo.err != nil || len(memo.candles) == 0 {
		return "", ErrUnresolved
	}

	for _, c := range memo.candles {
		if ev.Bullish {
			if c.Open >= ev.Level || c.High >= ev.Level {
				return stamp(c), nil
			}
		} else {
			if c.Open <= ev.Level || c.Low <= ev.Level {
				return stamp(c), nil
			}
		}
	}

	return stamp(bestCandidate(memo.candles, ev.Bullish)), nil
}

// bestCandidate picks the session's extreme candle: highest high for bullish
// events, lowest low for bearish.
func bestCandidate(candles []model.Candle, bullish bool) model.Candle {
	best := candles[0]
	for _, c := range candles[1:] {
		if bullish && c.High > best.High {
			best = c
		}
		if !bullish && c.Low < best.Low {
			best = c
		}
	}
	return best
}

func stamp(c model.Candle) string {
	return c.TS.In(markethours.IST).Format(model.PreciseTimeLayout)
}
