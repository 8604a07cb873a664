package smartconnect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestParseRow(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`"2026-08-28T09:15:00+05:30"`),
		json.RawMessage(`100.5`),
		json.RawMessage(`102`),
		json.RawMessage(`99.75`),
		json.RawMessage(`101.2`),
		json.RawMessage(`125000`),
	}

	c, err := parseRow(raw)
	if err != nil {
		t.Fatal(err)
	}
	if c.Open != 100.5 || c.High != 102 || c.Low != 99.75 || c.Close != 101.2 {
		t.Errorf("unexpected OHLC: %+v", c)
	}
	if c.Volume != 125000 {
		t.Errorf("expected volume 125000, got %d", c.Volume)
	}
	if c.Timestamp.Hour() != 9 || c.Timestamp.Minute() != 15 {
		t.Errorf("unexpected timestamp %s", c.Timestamp)
	}
}

func TestParseRow_QuotedNumbers(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`"2026-08-28T09:15:00+05:30"`),
		json.RawMessage(`"100.5"`),
		json.RawMessage(`"102"`),
		json.RawMessage(`"99.75"`),
		json.RawMessage(`"101.2"`),
		json.RawMessage(`"125000"`),
	}

	c, err := parseRow(raw)
	if err != nil {
		t.Fatal(err)
	}
	if c.Open != 100.5 || c.Volume != 125000 {
		t.Errorf("unexpected candle: %+v", c)
	}
}

func TestParseRow_ShortRow(t *testing.T) {
	raw := []json.RawMessage{json.RawMessage(`"2026-08-28T09:15:00+05:30"`), json.RawMessage(`1`)}
	if _, err := parseRow(raw); err == nil {
		t.Fatal("expected error for short row")
	}
}

func TestGenerateSessionAndCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PrivateKey") != "test-key" {
			t.Errorf("missing API key header")
		}
		switch r.URL.Path {
		case "/rest/auth/angelbroking/user/v1/loginByPassword":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["clientcode"] != "C123" || body["totp"] == "" {
				t.Errorf("unexpected login body: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data":   map[string]string{"jwtToken": "jwt-1", "feedToken": "feed-1"},
			})
		case "/rest/secure/angelbroking/historical/v1/getCandleData":
			if r.Header.Get("Authorization") != "Bearer jwt-1" {
				t.Errorf("missing session token, got %q", r.Header.Get("Authorization"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": [][]any{
					{"2026-08-28T00:00:00+05:30", 100.0, 105.0, 99.0, 104.0, 50000},
					{"garbage-row"},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", RootURL: srv.URL})
	ctx := context.Background()

	if err := c.GenerateSession(ctx, "C123", "pin", "123456"); err != nil {
		t.Fatal(err)
	}
	if !c.Authenticated() {
		t.Fatal("expected authenticated client")
	}
	if c.FeedToken() != "feed-1" {
		t.Errorf("expected feed token, got %q", c.FeedToken())
	}

	candles, err := c.GetCandleData(ctx, CandleRequest{
		Exchange:    "NSE",
		SymbolToken: "2885",
		Interval:    IntervalOneDay,
		From:        time.Now().AddDate(0, 0, -5),
		To:          time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	// The malformed second row is skipped, not fatal.
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].Close != 104 {
		t.Errorf("expected close 104, got %v", candles[0].Close)
	}
}

func TestSessionExpiryHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"status":     false,
			"error_type": "TokenException",
			"message":    "token expired",
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", RootURL: srv.URL})
	c.accessToken = "stale"

	fired := false
	c.SessionExpiryHook = func() { fired = true }

	_, err := c.GetCandleData(context.Background(), CandleRequest{
		Exchange: "NSE", SymbolToken: "1", Interval: IntervalOneDay,
		From: time.Now().AddDate(0, 0, -1), To: time.Now(),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !fired {
		t.Error("expected session expiry hook to fire")
	}
}

func TestLTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/secure/angelbroking/order/v1/getLtpData" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["tradingsymbol"] != "RELIANCE-EQ" || body["symboltoken"] != "2885" {
			t.Errorf("unexpected ltp body: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"ltp": 2843.5},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", RootURL: srv.URL})
	c.accessToken = "jwt-1"

	px, err := c.LTP(context.Background(), "NSE", "RELIANCE-EQ", "2885")
	if err != nil {
		t.Fatal(err)
	}
	if px != 2843.5 {
		t.Errorf("expected ltp 2843.5, got %v", px)
	}
}

func TestClient_ConcurrentSessionUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]string{"jwtToken": "jwt-1", "feedToken": "feed-1"},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", RootURL: srv.URL})
	ctx := context.Background()

	// Logins, expiries, and header reads race in production whenever the
	// expiry hook fires on a worker goroutine.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				c.GenerateSession(ctx, "C123", "pin", "123456")
				_ = c.Authenticated()
				_ = c.FeedToken()
				_ = c.headers()
				c.ClearSession()
			}
		}()
	}
	wg.Wait()

	if c.Authenticated() {
		t.Error("expected cleared session after final ClearSession")
	}
}

func TestGetCandleData_RequiresLogin(t *testing.T) {
	c := New(Config{APIKey: "k"})
	_, err := c.GetCandleData(context.Background(), CandleRequest{})
	if err == nil {
		t.Fatal("expected error when not logged in")
	}
}
