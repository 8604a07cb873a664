// Package provider implements history providers backed by brokerage APIs.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"stock-scanner/internal/markethours"
	"stock-scanner/internal/model"
	"stock-scanner/pkg/smartconnect"
)

// AngelConfig holds Angel One SmartAPI credentials.
type AngelConfig struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
}

// Angel is the primary candle source. It logs in lazily and re-logins when
// the API signals an expired session.
type Angel struct {
	cfg    AngelConfig
	client *smartconnect.Client
	log    *slog.Logger

	mu sync.Mutex // guards login
}

// NewAngel builds the provider. No network calls happen until first use.
func NewAngel(cfg AngelConfig, log *slog.Logger) *Angel {
	a := &Angel{
		cfg:    cfg,
		client: smartconnect.New(smartconnect.Config{APIKey: cfg.APIKey}),
		log:    log.With("provider", "angel"),
	}
	a.client.SessionExpiryHook = func() {
		a.log.Warn("session expired, will re-login on next request")
		a.client.ClearSession()
	}
	return a
}

func (a *Angel) Name() string { return "angel" }

func (a *Angel) ensureSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client.Authenticated() {
		return nil
	}

	code, err := totp.GenerateCode(a.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}
	if err := a.client.GenerateSession(ctx, a.cfg.ClientCode, a.cfg.Password, code); err != nil {
		return fmt.Errorf("angel login: %w", err)
	}
	a.log.Info("session established", "client_code", a.cfg.ClientCode)
	return nil
}

// DailyCandles returns ONE_DAY candles between from and to, ascending.
func (a *Angel) DailyCandles(ctx context.Context, token string, from, to time.Time) ([]model.Candle, error) {
	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}

	rows, err := a.client.GetCandleData(ctx, smartconnect.CandleRequest{
		Exchange:    "NSE",
		SymbolToken: token,
		Interval:    smartconnect.IntervalOneDay,
		From:        from,
		To:          to,
	})
	if err != nil {
		return nil, err
	}
	return convert(rows), nil
}

// IntradayCandles returns FIVE_MINUTE candles for the session on the given
// date. For today the window is capped at now.
func (a *Angel) IntradayCandles(ctx context.Context, token string, date time.Time) ([]model.Candle, error) {
	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}

	open, closeAt := markethours.TradingWindow(date)
	now := time.Now().In(markethours.IST)
	if closeAt.After(now) {
		closeAt = now
	}
	if !closeAt.After(open) {
		return nil, nil
	}

	rows, err := a.client.GetCandleData(ctx, smartconnect.CandleRequest{
		Exchange:    "NSE",
		SymbolToken: token,
		Interval:    smartconnect.IntervalFiveMinute,
		From:        open,
		To:          closeAt,
	})
	if err != nil {
		return nil, err
	}
	return convert(rows), nil
}

// LTP returns the live last traded price for a cash symbol. The trading
// symbol on the exchange is the scrip name with the "-EQ" series suffix.
func (a *Angel) LTP(ctx context.Context, symbol, token string) (float64, error) {
	if err := a.ensureSession(ctx); err != nil {
		return 0, err
	}
	return a.client.LTP(ctx, "NSE", symbol+"-EQ", token)
}

func convert(rows []smartconnect.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Candle{
			TS:     r.Timestamp,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return out
}
