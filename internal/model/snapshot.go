package model

import "encoding/json"

// BreakoutStatus classifies a symbol's price action against a lookback
// window's prior high/low.
type BreakoutStatus string

const (
	BullishBreakout BreakoutStatus = "Bullish Breakout"
	BearishBreakout BreakoutStatus = "Bearish Breakout"
	Consolidating   BreakoutStatus = "Consolidating"
)

// Breakout lookback window labels, in display order. "52w" is ~250 trading
// days; "all" is the all-time-high window.
var WindowLabels = []string{"1d", "2d", "10d", "30d", "50d", "100d", "52w", "all"}

// Strategy trigger names used as keys in the strategy tracker.
const (
	StrategyMomentumBurstShort     = "momentum_burst_short"
	StrategyMomentumBurstLong      = "momentum_burst_long"
	StrategyMomentumBurstBearShort = "momentum_burst_bear_short"
	StrategyMomentumBurstBearLong  = "momentum_burst_bear_long"
	StrategyContraction            = "contraction"
	StrategyOversoldReversal       = "oversold_reversal"
	StrategySharpReversal          = "sharp_reversal"
)

// Level holds a window's reference high/low computed over the candles
// preceding today. Nil when the series is too short for the window.
type Level struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// StrategySignals is the set of ad-hoc strategy triggers evaluated each cycle.
type StrategySignals struct {
	MomentumBurstShort     bool `json:"momentum_burst_short"`
	MomentumBurstLong      bool `json:"momentum_burst_long"`
	MomentumBurstBearShort bool `json:"momentum_burst_bear_short"`
	MomentumBurstBearLong  bool `json:"momentum_burst_bear_long"`
	Contraction            bool `json:"contraction"`
	OversoldReversal       bool `json:"oversold_reversal"`
	SharpReversal          bool `json:"sharp_reversal"`
}

// Snapshot is one symbol's fully computed analysis for a scan cycle.
// Created fresh every cycle and never mutated after the orchestrator attaches
// the persisted breakout/strategy times; superseded wholesale next cycle.
type Snapshot struct {
	Symbol   string  `json:"symbol"`
	Token    string  `json:"token"`
	ScanTime string  `json:"scan_time"`
	LTP      float64 `json:"ltp"`

	ChangePct     float64 `json:"change_pct"`
	Change1D      float64 `json:"change_1d"`
	Change2D      float64 `json:"change_2d"`
	Change3D      float64 `json:"change_3d"`
	AvgChange     float64 `json:"avg_3d"`
	DomCurrent    string  `json:"dom_current"`
	Dom1D         string  `json:"dom_1d"`
	Dom2D         string  `json:"dom_2d"`
	Dom3D         string  `json:"dom_3d"`
	DomMajority   string  `json:"avg_dom_3d"`
	RSI           float64 `json:"rsi"`
	MACDSignal    string  `json:"macd_signal"`
	StrengthScore float64 `json:"strength_score"`
	Sentiment     string  `json:"sentiment"`

	Breakouts map[string]BreakoutStatus `json:"breakouts"`
	Levels    map[string]*Level         `json:"levels"`
	ATH       float64                   `json:"high_all"`

	DayHigh  float64 `json:"day_high"`
	DayLow   float64 `json:"day_low"`
	Volume   int64   `json:"volume"`
	Turnover float64 `json:"turnover"` // crores

	Strategies StrategySignals `json:"strategies"`

	// First-of-session timestamps from the tracker store, attached by the
	// orchestrator during merge.
	BreakoutTimes map[string]string `json:"breakout_times,omitempty"`
	StrategyTimes map[string]string `json:"strategy_times,omitempty"`
}

// JSON returns the JSON-encoded snapshot (errors ignored for hot-path usage).
func (s *Snapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
