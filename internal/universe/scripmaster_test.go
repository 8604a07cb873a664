package universe

import "testing"

func TestDerive_FnOCashUniverse(t *testing.T) {
	records := []record{
		{Token: "2885", Symbol: "RELIANCE-EQ", Name: "RELIANCE", InstrumentType: "", ExchSeg: "NSE"},
		{Token: "52", Symbol: "RELIANCE25SEPFUT", Name: "RELIANCE", InstrumentType: "FUTSTK", ExchSeg: "NFO"},
		{Token: "11536", Symbol: "TCS-EQ", Name: "TCS", InstrumentType: "", ExchSeg: "NSE"},
		{Token: "77", Symbol: "TCS25SEPFUT", Name: "TCS", InstrumentType: "FUTSTK", ExchSeg: "NFO"},

		// Cash-only name without an F&O contract: excluded.
		{Token: "999", Symbol: "SMALLCAP-EQ", Name: "SMALLCAP", InstrumentType: "", ExchSeg: "NSE"},

		// Index future, not a stock future: no cash leg to include.
		{Token: "26000", Symbol: "NIFTY25SEPFUT", Name: "NIFTY", InstrumentType: "FUTIDX", ExchSeg: "NFO"},

		// BSE listing of an F&O name: wrong segment.
		{Token: "500325", Symbol: "RELIANCE", Name: "RELIANCE", InstrumentType: "", ExchSeg: "BSE"},
	}

	instruments, bySymbol := derive(records)

	if len(instruments) != 2 {
		t.Fatalf("expected 2 instruments, got %d: %+v", len(instruments), instruments)
	}
	// Sorted by symbol.
	if instruments[0].Symbol != "RELIANCE" || instruments[1].Symbol != "TCS" {
		t.Errorf("unexpected order: %s, %s", instruments[0].Symbol, instruments[1].Symbol)
	}
	if instruments[0].Token != "2885" {
		t.Errorf("expected cash token 2885, got %s", instruments[0].Token)
	}
	if instruments[0].Exchange != "NSE" {
		t.Errorf("expected NSE, got %s", instruments[0].Exchange)
	}

	if tok := bySymbol["TCS"]; tok != "11536" {
		t.Errorf("expected TCS resolved to 11536, got %s", tok)
	}
	if _, ok := bySymbol["SMALLCAP"]; ok {
		t.Error("expected non-F&O name excluded from lookup")
	}
}

func TestDerive_DuplicateCashRowsKeepFirst(t *testing.T) {
	records := []record{
		{Token: "1", Symbol: "INFY25SEPFUT", Name: "INFY", InstrumentType: "FUTSTK", ExchSeg: "NFO"},
		{Token: "1594", Symbol: "INFY-EQ", Name: "INFY", InstrumentType: "", ExchSeg: "NSE"},
		{Token: "9999", Symbol: "INFY-EQ", Name: "INFY", InstrumentType: "", ExchSeg: "NSE"},
	}

	instruments, bySymbol := derive(records)
	if len(instruments) != 1 {
		t.Fatalf("expected 1 instrument, got %d", len(instruments))
	}
	if bySymbol["INFY"] != "1594" {
		t.Errorf("expected first row's token kept, got %s", bySymbol["INFY"])
	}
}
