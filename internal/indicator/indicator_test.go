package indicator

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA_WarmupAndValues(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5}
	out := SMA(series, 3)

	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Errorf("expected NaN warm-up, got %v %v", out[0], out[1])
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almostEqual(out[i+2], w) {
			t.Errorf("SMA[%d]: expected %v, got %v", i+2, w, out[i+2])
		}
	}
}

func TestSMA_InvalidWindow(t *testing.T) {
	out := SMA([]float64{1, 2, 3}, 0)
	for i, v := range out {
		if !math.IsNaN(v) {
			t.Errorf("SMA[%d]: expected NaN for window 0, got %v", i, v)
		}
	}
}

func TestEMA_SeededByFirstValue(t *testing.T) {
	series := []float64{10, 12, 14}
	out := EMA(series, 9)

	if !almostEqual(out[0], 10) {
		t.Errorf("expected EMA[0]=10, got %v", out[0])
	}

	// alpha = 2/10 = 0.2
	want1 := 12*0.2 + 10*0.8
	if !almostEqual(out[1], want1) {
		t.Errorf("expected EMA[1]=%v, got %v", want1, out[1])
	}
}

func TestEMA_Empty(t *testing.T) {
	if out := EMA(nil, 9); len(out) != 0 {
		t.Errorf("expected empty output, got %v", out)
	}
}

func TestRSI_ShortSeriesNeutral(t *testing.T) {
	out := RSI([]float64{100, 101, 102}, 14)
	for i, v := range out {
		if v != 50 {
			t.Errorf("RSI[%d]: expected neutral 50, got %v", i, v)
		}
	}
}

func TestRSI_MonotonicRiseHits100(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 100 + float64(i)
	}
	out := RSI(series, 14)

	if got := out[len(out)-1]; got != 100 {
		t.Errorf("expected RSI 100 for pure uptrend, got %v", got)
	}
}

func TestRSI_MonotonicFallNearZero(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 200 - float64(i)
	}
	out := RSI(series, 14)

	if got := out[len(out)-1]; got != 0 {
		t.Errorf("expected RSI 0 for pure downtrend, got %v", got)
	}
}

func TestRSI_FlatSeriesStaysNeutral(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 100
	}
	out := RSI(series, 14)

	if got := out[len(out)-1]; got != 50 {
		t.Errorf("expected RSI 50 for flat series, got %v", got)
	}
}

func TestRSI_BoundedBetween0And100(t *testing.T) {
	series := []float64{100, 105, 95, 110, 90, 120, 85, 115, 100, 108, 92, 111, 97, 103, 99, 106}
	out := RSI(series, 14)
	for i, v := range out {
		if v < 0 || v > 100 {
			t.Errorf("RSI[%d]=%v out of bounds", i, v)
		}
	}
}

func TestMACD_UptrendPositiveLine(t *testing.T) {
	series := make([]float64, 60)
	for i := range series {
		series[i] = 100 + float64(i)*2
	}
	m := MACD(series, 12, 26, 9)

	last := len(series) - 1
	if m.Line[last] <= 0 {
		t.Errorf("expected positive MACD line in uptrend, got %v", m.Line[last])
	}
	if !almostEqual(m.Hist[last], m.Line[last]-m.Signal[last]) {
		t.Errorf("histogram != line - signal")
	}
}

func TestMACD_ShortSeriesNoPanic(t *testing.T) {
	m := MACD([]float64{100, 101}, 12, 26, 9)
	if len(m.Line) != 2 || len(m.Signal) != 2 || len(m.Hist) != 2 {
		t.Errorf("expected output lengths 2, got %d %d %d", len(m.Line), len(m.Signal), len(m.Hist))
	}
}

func TestLast(t *testing.T) {
	cases := []struct {
		name     string
		series   []float64
		fallback float64
		want     float64
	}{
		{"empty", nil, 42, 42},
		{"normal", []float64{1, 2, 3}, 42, 3},
		{"nan tail", []float64{1, math.NaN()}, 42, 42},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Last(tc.series, tc.fallback); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
