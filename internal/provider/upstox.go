package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stock-scanner/internal/markethours"
	"stock-scanner/internal/model"
)

const upstoxRoot = "https://api.upstox.com"

// ErrNoUpstoxToken means the provider was built without an access token and
// cannot serve requests.
var ErrNoUpstoxToken = errors.New("upstox access token not configured")

// Upstox is the secondary candle source, used when Angel fetches fail.
// It needs a pre-issued OAuth access token.
type Upstox struct {
	token      string
	rootURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewUpstox builds the provider. An empty token yields a provider that
// always fails, so the caller can keep a fixed failover chain.
func NewUpstox(token string, log *slog.Logger) *Upstox {
	return &Upstox{
		token:      token,
		rootURL:    upstoxRoot,
		httpClient: &http.Client{Timeout: 7 * time.Second},
		log:        log.With("provider", "upstox"),
	}
}

func (u *Upstox) Name() string { return "upstox" }

// instrumentKey maps an NSE symbol token to Upstox's key format.
func instrumentKey(token string) string {
	return "NSE_EQ|" + token
}

type upstoxResponse struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (u *Upstox) fetch(ctx context.Context, path string) ([]model.Candle, error) {
	if u.token == "" {
		return nil, ErrNoUpstoxToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.rootURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstox: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstox: read response: %w", err)
	}

	var out upstoxResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("upstox: parse response: %w", err)
	}
	if out.Status != "success" {
		msg := "unknown error"
		if len(out.Errors) > 0 {
			msg = out.Errors[0].Message
		}
		return nil, fmt.Errorf("upstox: %s (http %d)", msg, resp.StatusCode)
	}

	// Upstox returns candles newest-first.
	candles := make([]model.Candle, 0, len(out.Data.Candles))
	for _, row := range out.Data.Candles {
		c, err := parseUpstoxRow(row)
		if err != nil {
			continue
		}
		candles = append(candles, c)
	}
	model.SortAscending(candles)
	return candles, nil
}

func parseUpstoxRow(row []any) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("short row: %d fields", len(row))
	}
	tsStr, ok := row[0].(string)
	if !ok {
		return model.Candle{}, errors.New("non-string timestamp")
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return model.Candle{}, err
	}

	vals := make([]float64, 5)
	for i := 1; i < 6; i++ {
		switch v := row[i].(type) {
		case float64:
			vals[i-1] = v
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return model.Candle{}, err
			}
			vals[i-1] = f
		default:
			return model.Candle{}, fmt.Errorf("unexpected field type %T", row[i])
		}
	}

	return model.Candle{
		TS:     ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: int64(vals[4]),
	}, nil
}

const upstoxDateLayout = "2006-01-02"

// DailyCandles returns daily candles between from and to, ascending.
func (u *Upstox) DailyCandles(ctx context.Context, token string, from, to time.Time) ([]model.Candle, error) {
	path := fmt.Sprintf("/v2/historical-candle/%s/day/%s/%s",
		url.PathEscape(instrumentKey(token)),
		to.Format(upstoxDateLayout),
		from.Format(upstoxDateLayout))
	return u.fetch(ctx, path)
}

// IntradayCandles returns 5-minute candles for the session on the given date.
// For today Upstox serves them from the intraday endpoint; for past dates
// from the historical one.
func (u *Upstox) IntradayCandles(ctx context.Context, token string, date time.Time) ([]model.Candle, error) {
	key := url.PathEscape(instrumentKey(token))
	today := markethours.SessionDate(time.Now())
	day := markethours.SessionDate(date)

	var path string
	if day == today {
		path = fmt.Sprintf("/v2/historical-candle/intraday/%s/5minute", key)
	} else {
		path = fmt.Sprintf("/v2/historical-candle/%s/5minute/%s/%s", key, day, day)
	}
	candles, err := u.fetch(ctx, path)
	if err != nil {
		return nil, err
	}

	// Trim to the trading session in case the feed includes pre-open rows.
	open, closeAt := markethours.TradingWindow(date)
	out := candles[:0]
	for _, c := range candles {
		ts := c.TS.In(markethours.IST)
		if ts.Before(open) || ts.After(closeAt) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
