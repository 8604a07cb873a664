// Package calculator computes one symbol's full per-cycle analysis snapshot
// from its recent daily candles and previously known all-time-high.
//
// Compute is a pure function: it receives prior state as input and returns
// proposed updates (new ATH, detected events) without touching any shared
// store. The orchestrator owns all merging.
package calculator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stock-scanner/internal/indicator"
	"stock-scanner/internal/markethours"
	"stock-scanner/internal/model"
)

var (
	// ErrInsufficientData means the series is too short to analyze.
	ErrInsufficientData = errors.New("calculator: insufficient candle data")

	// ErrStaleData means the freshest candle is too old to surface; the
	// symbol is suppressed for this cycle rather than shown with dead data.
	ErrStaleData = errors.New("calculator: candle data is stale")
)

const (
	minCandles        = 5
	maxStaleDays      = 5
	rsiPeriod         = 14
	macdFast          = 12
	macdSlow          = 26
	macdSignal        = 9
	fiftyTwoWeekDays  = 250 // approx 52 weeks of trading days
	avgVolumeLookback = 10
)

// breakout lookback windows in trading days, keyed by label ("all" excluded:
// the all-time window classifies against the prior ATH instead of a slice).
var windows = []struct {
	Label string
	Days  int
}{
	{"1d", 1}, {"2d", 2}, {"10d", 10}, {"30d", 30},
	{"50d", 50}, {"100d", 100}, {"52w", fiftyTwoWeekDays},
}

// Result is the calculator's output: the snapshot plus proposed state
// updates for the orchestrator to merge.
type Result struct {
	Snapshot *model.Snapshot

	// NewATH is the proposed all-time-high update; 0 when the prior ATH
	// still stands.
	NewATH float64

	// Events are newly detected breakouts and strategy triggers that need
	// first-occurrence timestamps resolved.
	Events []model.Event
}

// Compute analyzes the daily candle series for one symbol. candles may arrive
// in either order; priorATH is 0 when unknown (stateless mode). now anchors
// the freshness guard and the coarse scan time.
func Compute(symbol, token string, candles []model.Candle, priorATH float64, now time.Time) (*Result, error) {
	if len(candles) < minCandles {
		return nil, fmt.Errorf("%w: %s has %d candles", ErrInsufficientData, symbol, len(candles))
	}

	series := make([]model.Candle, len(candles))
	copy(series, candles)
	model.SortAscending(series)

	today := series[len(series)-1]
	if now.Sub(today.TS) > maxStaleDays*24*time.Hour {
		return nil, fmt.Errorf("%w: %s last candle %s", ErrStaleData, symbol, today.TS.Format("2006-01-02"))
	}

	n := len(series)
	c0 := series[n-1].Close
	c1 := series[n-2].Close
	c2 := series[n-3].Close
	c3 := series[n-4].Close
	c4 := series[n-5].Close
	if c1 == 0 || c2 == 0 || c3 == 0 || c4 == 0 {
		return nil, fmt.Errorf("calculator: %s has zero prior close", symbol)
	}

	changeNow := (c0 - c1) / c1 * 100
	change1 := (c1 - c2) / c2 * 100
	change2 := (c2 - c3) / c3 * 100
	change3 := (c3 - c4) / c4 * 100
	avgChange := (changeNow + change1 + change2 + change3) / 4.0

	domNow := dominance(series[n-1])
	dom1 := dominance(series[n-2])
	dom2 := dominance(series[n-3])
	dom3 := dominance(series[n-4])
	domMajority := majority(domNow, dom1, dom2, dom3)

	closes := model.Closes(series)
	rsiNow := indicator.Last(indicator.RSI(closes, rsiPeriod), 50)
	macd := indicator.MACD(closes, macdFast, macdSlow, macdSignal)

	dayHigh := series[n-1].High
	dayLow := series[n-1].Low

	score := compositeScore(series, closes, macd, rsiNow, domNow)
	sentiment := sentimentLabel(score)

	// Window levels exclude today; classification runs on today's high/low.
	breakouts := make(map[string]model.BreakoutStatus, len(windows)+1)
	levels := make(map[string]*model.Level, len(windows))
	var events []model.Event
	for _, w := range windows {
		lvl := windowLevel(series, w.Days)
		levels[w.Label] = lvl
		status := classify(lvl, dayHigh, dayLow)
		breakouts[w.Label] = status

		switch status {
		case model.BullishBreakout:
			events = append(events, model.Event{
				Window: w.Label, Bullish: true, Level: lvl.High, Date: today.Date(),
			})
		case model.BearishBreakout:
			events = append(events, model.Event{
				Window: w.Label, Bullish: false, Level: lvl.Low, Date: today.Date(),
			})
		}
	}

	// All-time window: bullish iff the prior ATH is known and today's high
	// reached it. ATH itself is monotonically non-decreasing.
	newATH := priorATH
	if c0 > newATH {
		newATH = c0
	}
	if dayHigh > newATH {
		newATH = dayHigh
	}
	breakouts["all"] = model.Consolidating
	if priorATH > 0 && dayHigh >= priorATH {
		breakouts["all"] = model.BullishBreakout
		events = append(events, model.Event{
			Window: "all", Bullish: true, Level: priorATH, Date: today.Date(),
		})
	}

	signals := strategySignals(changeNow, score, rsiNow)
	events = append(events, strategyEvents(signals, c1, today.Date())...)

	snap := &model.Snapshot{
		Symbol:        symbol,
		Token:         token,
		ScanTime:      now.In(markethours.IST).Format(model.CoarseTimeLayout),
		LTP:           c0,
		ChangePct:     round2(changeNow),
		Change1D:      round2(change1),
		Change2D:      round2(change2),
		Change3D:      round2(change3),
		AvgChange:     round2(avgChange),
		DomCurrent:    domNow,
		Dom1D:         dom1,
		Dom2D:         dom2,
		Dom3D:         dom3,
		DomMajority:   domMajority,
		RSI:           round2(rsiNow),
		MACDSignal:    macdLabel(macd),
		StrengthScore: score,
		Sentiment:     sentiment,
		Breakouts:     breakouts,
		Levels:        levels,
		ATH:           newATH,
		DayHigh:       dayHigh,
		DayLow:        dayLow,
		Volume:        series[n-1].Volume,
		Turnover:      round2(c0 * float64(series[n-1].Volume) / 1e7),
		Strategies:    signals,
	}

	res := &Result{Snapshot: snap, Events: events}
	if newATH > priorATH {
		res.NewATH = newATH
	}
	return res, nil
}

// dominance labels a single day: Buyers when the close beats the open.
func dominance(c model.Candle) string {
	if c.Close > c.Open {
		return "Buyers"
	}
	return "Sellers"
}

// majority votes over the last 4 days: ≥3 buyer-days → Buyers, ≤1 → Sellers.
func majority(doms ...string) string {
	bulls := 0
	for _, d := range doms {
		if d == "Buyers" {
			bulls++
		}
	}
	switch {
	case bulls >= 3:
		return "Buyers"
	case bulls <= 1:
		return "Sellers"
	default:
		return "Balance"
	}
}

// windowLevel computes the max-high/min-low over the `days` candles preceding
// today. Nil when the series is too short for the window.
func windowLevel(series []model.Candle, days int) *model.Level {
	if len(series) < days+2 {
		return nil
	}
	past := series[len(series)-1-days : len(series)-1]
	lvl := &model.Level{High: past[0].High, Low: past[0].Low}
	for _, c := range past[1:] {
		if c.High > lvl.High {
			lvl.High = c.High
		}
		if c.Low < lvl.Low {
			lvl.Low = c.Low
		}
	}
	return lvl
}

// classify never reports both directions: the bullish check wins on the
// (rare) day that crosses both sides.
func classify(lvl *model.Level, dayHigh, dayLow float64) model.BreakoutStatus {
	if lvl == nil {
		return model.Consolidating
	}
	if dayHigh > lvl.High {
		return model.BullishBreakout
	}
	if dayLow < lvl.Low {
		return model.BearishBreakout
	}
	return model.Consolidating
}

// macdLabel describes the histogram's direction and momentum.
func macdLabel(m indicator.MACDResult) string {
	n := len(m.Hist)
	if n < 2 {
		return "Neutral"
	}
	h, prev := m.Hist[n-1], m.Hist[n-2]
	switch {
	case h > 0 && h > prev:
		return "Bullish Growing"
	case h > 0:
		return "Bullish Waning"
	case h < 0 && h < prev:
		return "Bearish Growing"
	case h < 0:
		return "Bearish Waning"
	default:
		return "Neutral"
	}
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
