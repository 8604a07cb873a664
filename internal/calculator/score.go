package calculator

import (
	"time"

	"stock-scanner/internal/indicator"
	"stock-scanner/internal/model"
)

// Strategy trigger thresholds, in percent day change.
const (
	burstShortMin      = 0.5
	burstLongMin       = 3.0
	contractionMaxAbs  = 0.25
	contractionMinRank = 50.0
	reversalDrop       = -2.0
	oversoldRSI        = 40.0
)

// compositeScore blends trend (0–40), momentum (0–40), and volume/price
// action (0–20) into a 0–100 strength score.
func compositeScore(series []model.Candle, closes []float64, macd indicator.MACDResult, rsi float64, domToday string) float64 {
	n := len(series)
	price := closes[n-1]
	score := 0.0

	// Trend: position against EMAs and the trailing 10-day high.
	ema50 := indicator.Last(indicator.EMA(closes, 50), 0)
	ema20 := indicator.Last(indicator.EMA(closes, 20), 0)
	if price > ema50 {
		score += 20
	}
	if price > ema20 {
		score += 10
	}
	if lvl := windowLevel(series, 10); lvl != nil && price > lvl.High {
		score += 10
	}

	// Momentum: RSI sweet spot pays more than an overbought reading.
	switch {
	case rsi >= 50 && rsi <= 70:
		score += 20
	case rsi > 70:
		score += 10
	}
	last := len(macd.Line) - 1
	if macd.Line[last] > macd.Signal[last] {
		score += 10
	}
	if last >= 1 && macd.Hist[last] > 0 && macd.Hist[last] > macd.Hist[last-1] {
		score += 10
	}

	// Volume / price action.
	if domToday == "Buyers" {
		score += 10
	}
	if avg := trailingAvgVolume(series, avgVolumeLookback); avg > 0 && float64(series[n-1].Volume) > avg {
		score += 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// trailingAvgVolume averages volume over the `days` candles preceding today.
// Returns 0 when the series is too short.
func trailingAvgVolume(series []model.Candle, days int) float64 {
	if len(series) < days+1 {
		return 0
	}
	past := series[len(series)-1-days : len(series)-1]
	sum := int64(0)
	for _, c := range past {
		sum += c.Volume
	}
	return float64(sum) / float64(days)
}

func sentimentLabel(score float64) string {
	switch {
	case score >= 80:
		return "STRONG BUY"
	case score >= 60:
		return "Bullish"
	case score <= 20:
		return "STRONG SELL"
	case score <= 40:
		return "Bearish"
	default:
		return "Neutral"
	}
}

// strategySignals evaluates the ad-hoc strategy triggers on today's change,
// score, and RSI. Thresholds are fixed.
func strategySignals(change, score, rsi float64) model.StrategySignals {
	abs := change
	if abs < 0 {
		abs = -abs
	}
	return model.StrategySignals{
		MomentumBurstShort:     change >= burstShortMin && change <= burstLongMin,
		MomentumBurstLong:      change > burstLongMin,
		MomentumBurstBearShort: change <= -burstShortMin && change >= -burstLongMin,
		MomentumBurstBearLong:  change < -burstLongMin,
		Contraction:            abs < contractionMaxAbs && score > contractionMinRank,
		OversoldReversal:       change < reversalDrop && rsi < oversoldRSI,
		SharpReversal:          change < reversalDrop,
	}
}

// strategyEvents maps fired triggers to resolvable events. The trigger level
// is the price at which the day change crosses the threshold, derived from
// the previous close. Contraction has no meaningful price level and is
// stamped with the coarse scan time instead.
func strategyEvents(s model.StrategySignals, prevClose float64, date time.Time) []model.Event {
	var events []model.Event
	add := func(name string, bullish bool, level float64) {
		events = append(events, model.Event{Strategy: name, Bullish: bullish, Level: level, Date: date})
	}

	if s.MomentumBurstShort {
		add(model.StrategyMomentumBurstShort, true, prevClose*(1+burstShortMin/100))
	}
	if s.MomentumBurstLong {
		add(model.StrategyMomentumBurstLong, true, prevClose*(1+burstLongMin/100))
	}
	if s.MomentumBurstBearShort {
		add(model.StrategyMomentumBurstBearShort, false, prevClose*(1-burstShortMin/100))
	}
	if s.MomentumBurstBearLong {
		add(model.StrategyMomentumBurstBearLong, false, prevClose*(1-burstLongMin/100))
	}
	if s.OversoldReversal {
		add(model.StrategyOversoldReversal, false, prevClose*(1+reversalDrop/100))
	}
	if s.SharpReversal {
		add(model.StrategySharpReversal, false, prevClose*(1+reversalDrop/100))
	}
	if s.Contraction {
		add(model.StrategyContraction, false, 0)
	}
	return events
}
