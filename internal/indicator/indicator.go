// Package indicator provides pure technical indicator calculations over an
// ordered price series.
//
// All functions are stateless and deterministic. Values that cannot be
// computed yet (warm-up) are NaN, except RSI which defaults to a neutral 50.
// Short series never cause an error or panic.
package indicator

import "math"

// SMA returns the simple moving average series for the given window.
// Positions before the window has filled are NaN.
func SMA(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	if window <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	sum := 0.0
	for i, v := range series {
		sum += v
		if i >= window {
			sum -= series[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA returns the exponential moving average series with smoothing factor
// 2/(span+1), seeded by the first value rather than an SMA warm-up.
func EMA(series []float64, span int) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}

	alpha := 2.0 / float64(span+1)
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = series[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// RSI returns the relative strength index series using a simple rolling mean
// of gains and losses over the period. Positions with insufficient data are
// the neutral 50. A window with gains but zero losses is 100; all-zero
// deltas stay at 50 (avoids a zero division either way).
func RSI(series []float64, period int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		out[i] = 50.0
	}
	if period <= 0 || len(series) <= period {
		return out
	}

	gains := make([]float64, len(series))
	losses := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(series); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}

		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = 50.0
		case avgLoss == 0:
			out[i] = 100.0
		default:
			rs := avgGain / avgLoss
			out[i] = 100.0 - 100.0/(1.0+rs)
		}
	}
	return out
}

// MACDResult holds the MACD line, signal line, and histogram series.
type MACDResult struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

// MACD returns the moving average convergence/divergence series:
// EMA(fast) - EMA(slow) as the line, EMA(line, signal) as the signal,
// and line - signal as the histogram.
func MACD(series []float64, fast, slow, signal int) MACDResult {
	emaFast := EMA(series, fast)
	emaSlow := EMA(series, slow)

	line := make([]float64, len(series))
	for i := range series {
		line[i] = emaFast[i] - emaSlow[i]
	}

	sig := EMA(line, signal)
	hist := make([]float64, len(series))
	for i := range series {
		hist[i] = line[i] - sig[i]
	}

	return MACDResult{Line: line, Signal: sig, Hist: hist}
}

// Last returns the final value of a series, or the fallback for an empty or
// NaN tail.
func Last(series []float64, fallback float64) float64 {
	if len(series) == 0 {
		return fallback
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return fallback
	}
	return v
}
