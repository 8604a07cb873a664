package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"stock-scanner/internal/markethours"
	"stock-scanner/internal/model"
)

// fakeProvider serves canned candles regardless of the requested range.
type fakeProvider struct {
	name     string
	daily    []model.Candle
	intraday []model.Candle
	ltp      float64
	failAll  bool

	mu         sync.Mutex
	dailyCalls int
	lastFrom   time.Time
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) DailyCandles(ctx context.Context, token string, from, to time.Time) ([]model.Candle, error) {
	f.mu.Lock()
	f.dailyCalls++
	f.lastFrom = from
	f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("upstream down")
	}
	return f.daily, nil
}

func (f *fakeProvider) IntradayCandles(ctx context.Context, token string, date time.Time) ([]model.Candle, error) {
	if f.failAll {
		return nil, errors.New("upstream down")
	}
	return f.intraday, nil
}

func (f *fakeProvider) LTP(ctx context.Context, symbol, token string) (float64, error) {
	if f.failAll || f.ltp == 0 {
		return 0, errors.New("no quote")
	}
	return f.ltp, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dailyCalls
}

func (f *fakeProvider) from() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFrom
}

type fakeUniverse struct {
	insts []model.Instrument
}

func (f *fakeUniverse) Instruments(ctx context.Context) ([]model.Instrument, error) {
	return f.insts, nil
}

func (f *fakeUniverse) Lookup(symbol string) (string, bool) {
	for _, inst := range f.insts {
		if inst.Symbol == symbol {
			return inst.Token, true
		}
	}
	return "", false
}

// risingDaily builds a steady ~1%-per-day uptrend ending today, which fires
// the short momentum burst and every short-window bullish breakout.
func risingDaily(days int) []model.Candle {
	now := time.Now().In(markethours.IST)
	out := make([]model.Candle, days)
	price := 100.0
	for i := 0; i < days; i++ {
		ts := now.AddDate(0, 0, i-days+1)
		out[i] = model.Candle{
			TS:     ts,
			Open:   price - 0.3,
			High:   price + 0.5,
			Low:    price - 0.7,
			Close:  price,
			Volume: 1000,
		}
		price *= 1.01
	}
	return out
}

// crossingIntraday is a single 5-minute candle at the given clock time whose
// high clears every plausible trigger level.
func crossingIntraday(hour, minute int) []model.Candle {
	now := time.Now().In(markethours.IST)
	ts := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, markethours.IST)
	return []model.Candle{{TS: ts, Open: 1, High: 1e6, Low: 0.5, Close: 500}}
}

// Service tests share one instance: the Prometheus registry is global, so
// New may only run once per test binary. Subtests swap collaborators instead.
var (
	testSvc     *Service
	testSvcOnce sync.Once
)

func service(t *testing.T) *Service {
	t.Helper()
	testSvcOnce.Do(func() {
		dir, err := os.MkdirTemp("", "scanner-test-*")
		if err != nil {
			t.Fatal(err)
		}
		svc, err := New(Config{
			ScanInterval:  time.Minute,
			Workers:       2,
			RatePerSecond: 1000,
			HTTPAddr:      ":0",
			MetricsAddr:   ":0",
			DataDir:       dir,
		}, Deps{
			Logger: slog.Default(),
		})
		if err != nil {
			t.Fatal(err)
		}
		testSvc = svc
	})
	return testSvc
}

func TestService_CycleRecordsFirstOccurrences(t *testing.T) {
	svc := service(t)
	good := &fakeProvider{
		name:     "good",
		daily:    risingDaily(30),
		intraday: crossingIntraday(9, 20),
	}
	svc.providers = []model.HistoryProvider{good}
	svc.universe = &fakeUniverse{insts: []model.Instrument{
		{Symbol: "RELIANCE", Token: "2885", Exchange: "NSE"},
	}}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := svc.cache.Get("RELIANCE")
	if snap == nil {
		t.Fatal("expected snapshot in cache")
	}
	if snap.Breakouts["1d"] != model.BullishBreakout {
		t.Errorf("expected 1d bullish breakout, got %v", snap.Breakouts["1d"])
	}

	wantTS := markethours.SessionDate(time.Now()) + " 09:20:00"
	if got := snap.BreakoutTimes["1d"]; got != wantTS {
		t.Errorf("expected precise breakout time %s, got %s", wantTS, got)
	}
	if got := snap.StrategyTimes["momentum_burst_short"]; got != wantTS {
		t.Errorf("expected precise strategy time %s, got %s", wantTS, got)
	}
	if got := svc.store.ATH("RELIANCE"); got <= 0 {
		t.Errorf("expected seeded ATH, got %v", got)
	}

	// A later cycle resolving to a different time must not move the
	// recorded first occurrence.
	good.intraday = crossingIntraday(11, 45)
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap = svc.cache.Get("RELIANCE")
	if got := snap.BreakoutTimes["1d"]; got != wantTS {
		t.Errorf("first-occurrence time moved: expected %s, got %s", wantTS, got)
	}

	// With the ATH seeded the second cycle must drop back to the regular
	// lookback instead of repeating the deep fetch.
	if age := time.Since(good.from()); age > time.Duration(regularLookbackDays+1)*24*time.Hour {
		t.Errorf("expected regular lookback after ATH seed, fetched from %s", good.from())
	}
}

func TestService_ProviderFailover(t *testing.T) {
	svc := service(t)
	bad := &fakeProvider{name: "bad", failAll: true}
	good := &fakeProvider{
		name:     "good",
		daily:    risingDaily(30),
		intraday: crossingIntraday(9, 20),
	}
	svc.providers = []model.HistoryProvider{bad, good}
	svc.universe = &fakeUniverse{insts: []model.Instrument{
		{Symbol: "TCS", Token: "11536", Exchange: "NSE"},
	}}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if svc.cache.Get("TCS") == nil {
		t.Fatal("expected snapshot despite primary provider failure")
	}
	if bad.calls() < fetchAttempts {
		t.Errorf("expected %d retries against primary, got %d", fetchAttempts, bad.calls())
	}
	if good.calls() == 0 {
		t.Error("expected failover to secondary provider")
	}
}

func TestService_AllProvidersFailSkipsSymbol(t *testing.T) {
	svc := service(t)
	bad := &fakeProvider{name: "bad", failAll: true}
	svc.providers = []model.HistoryProvider{bad}
	svc.universe = &fakeUniverse{insts: []model.Instrument{
		{Symbol: "NOFEED", Token: "1", Exchange: "NSE"},
	}}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if svc.cache.Get("NOFEED") != nil {
		t.Error("expected no snapshot when every provider fails")
	}
}

func TestService_PendingResetPrunesBeforeNextCycle(t *testing.T) {
	svc := service(t)
	// No intraday feed: the strategy trigger records a coarse stamp.
	good := &fakeProvider{name: "good", daily: risingDaily(30)}
	svc.providers = []model.HistoryProvider{good}
	svc.universe = &fakeUniverse{insts: []model.Instrument{
		{Symbol: "ITC", Token: "1660", Exchange: "NSE"},
	}}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.store.StrategyTimes("ITC")["momentum_burst_short"]; !ok {
		t.Fatal("expected coarse strategy stamp recorded")
	}

	// The cron job only raises the flag; the prune runs at the start of the
	// next cycle on this goroutine. With the feed down the entry cannot be
	// re-recorded, so it must be gone afterwards.
	svc.resetPending.Store(true)
	svc.providers = []model.HistoryProvider{&fakeProvider{name: "down", failAll: true}}
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ts, ok := svc.store.StrategyTimes("ITC")["momentum_burst_short"]; ok {
		t.Errorf("expected coarse stamp pruned at session reset, still %s", ts)
	}
	if svc.resetPending.Load() {
		t.Error("expected reset flag consumed")
	}
}

func TestService_UnresolvedBreakoutRetriesNextCycle(t *testing.T) {
	svc := service(t)
	// Daily data shows a breakout but the intraday feed is empty, so no
	// timestamp is recorded this cycle.
	good := &fakeProvider{name: "good", daily: risingDaily(30)}
	svc.providers = []model.HistoryProvider{good}
	svc.universe = &fakeUniverse{insts: []model.Instrument{
		{Symbol: "HDFC", Token: "1333", Exchange: "NSE"},
	}}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := svc.cache.Get("HDFC")
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if _, ok := snap.BreakoutTimes["1d"]; ok {
		t.Error("expected no breakout time while unresolved")
	}
	// Strategy triggers fall back to the coarse scan time instead.
	ts, ok := snap.StrategyTimes["momentum_burst_short"]
	if !ok {
		t.Fatal("expected coarse strategy time")
	}
	if strings.Contains(ts, "-") {
		t.Errorf("expected coarse (time-only) stamp, got %s", ts)
	}

	// The feed recovers; the breakout records and the coarse strategy
	// stamp upgrades to the precise one.
	good.intraday = crossingIntraday(10, 30)
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap = svc.cache.Get("HDFC")
	wantTS := markethours.SessionDate(time.Now()) + " 10:30:00"
	if got := snap.BreakoutTimes["1d"]; got != wantTS {
		t.Errorf("expected breakout recorded at %s, got %s", wantTS, got)
	}
	if got := snap.StrategyTimes["momentum_burst_short"]; got != wantTS {
		t.Errorf("expected strategy upgraded to %s, got %s", wantTS, got)
	}
}

func TestService_AnalyzeRefreshesLTPFromQuote(t *testing.T) {
	svc := service(t)
	good := &fakeProvider{
		name:  "good",
		daily: risingDaily(30),
		ltp:   512.35,
	}
	svc.providers = []model.HistoryProvider{good}
	svc.universe = &fakeUniverse{insts: []model.Instrument{
		{Symbol: "SBIN", Token: "3045", Exchange: "NSE"},
	}}

	req := httptest.NewRequest("GET", "/api/v1/analyze?symbol=SBIN", nil)
	rec := httptest.NewRecorder()
	svc.handleAnalyze(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap model.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "SBIN" {
		t.Errorf("expected SBIN, got %s", snap.Symbol)
	}
	if snap.LTP != 512.35 {
		t.Errorf("expected live quote 512.35, got %v", snap.LTP)
	}

	// Quote source down: the handler keeps the close-derived LTP.
	good.ltp = 0
	rec = httptest.NewRecorder()
	svc.handleAnalyze(rec, httptest.NewRequest("GET", "/api/v1/analyze?symbol=SBIN", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.LTP == 512.35 || snap.LTP <= 0 {
		t.Errorf("expected close-derived LTP, got %v", snap.LTP)
	}
}
