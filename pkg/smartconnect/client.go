// Package smartconnect is a minimal Go client for the Angel One SmartAPI
// endpoints the scanner needs: session generation (TOTP login) and historical
// candle data. Request headers and error handling mirror the official
// SmartConnect client.
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultRoot    = "https://apiconnect.angelone.in"
	defaultTimeout = 7 * time.Second
)

// Candle intervals accepted by the historical endpoint.
const (
	IntervalOneDay     = "ONE_DAY"
	IntervalFiveMinute = "FIVE_MINUTE"
)

// DateLayout is the from/to format the candle endpoint expects.
const DateLayout = "2006-01-02 15:04"

var routes = map[string]string{
	"api.login":       "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":      "/rest/secure/angelbroking/user/v1/logout",
	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.ltp.data":    "/rest/secure/angelbroking/order/v1/getLtpData",
}

// Config configures the client. Only APIKey is required.
type Config struct {
	APIKey  string
	RootURL string        // default: https://apiconnect.angelone.in
	Timeout time.Duration // default: 7s
}

// Client is a SmartAPI HTTP client. Safe for concurrent use: the session
// tokens are mutex-guarded since the expiry hook may clear them from any
// request goroutine.
type Client struct {
	apiKey     string
	rootURL    string
	httpClient *http.Client

	mu          sync.RWMutex // guards accessToken, feedToken
	accessToken string
	feedToken   string

	clientLocalIP  string
	clientPublicIP string
	clientMAC      string

	// SessionExpiryHook is invoked when the API answers 403 TokenException,
	// letting the owner trigger a re-login.
	SessionExpiryHook func()
}

// New creates a client with resolved header identity fields.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	localIP := "127.0.0.1"
	if ip, err := resolveLocalIP(); err == nil {
		localIP = ip
	}

	return &Client{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		clientLocalIP:  localIP,
		clientPublicIP: localIP,
		clientMAC:      resolveMAC(),
	}
}

func resolveLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String(), nil
		}
	}
	return "", errors.New("no local IP found")
}

func resolveMAC() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// Authenticated reports whether the client holds a session token.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != ""
}

// FeedToken returns the WebSocket feed token from the last login.
func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

// ClearSession drops the held tokens, forcing a fresh login.
func (c *Client) ClearSession() {
	c.mu.Lock()
	c.accessToken, c.feedToken = "", ""
	c.mu.Unlock()
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

type apiResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) post(ctx context.Context, route string, params any) (*apiResponse, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("smartconnect: unknown route %s", route)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("smartconnect: marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartconnect: %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("smartconnect: read %s: %w", route, err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("smartconnect: parse %s response: %w", route, err)
	}

	if out.ErrorType != "" {
		if resp.StatusCode == http.StatusForbidden && out.ErrorType == "TokenException" && c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
		return &out, fmt.Errorf("smartconnect: %s: %s", out.ErrorType, out.Message)
	}
	if !out.Status {
		return &out, fmt.Errorf("smartconnect: %s failed: %s (%s)", route, out.Message, out.ErrorCode)
	}
	return &out, nil
}

// GenerateSession logs in with client code, password, and a fresh TOTP, and
// stores the session tokens on the client.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, totp string) error {
	res, err := c.post(ctx, "api.login", map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	})
	if err != nil {
		return err
	}

	var data struct {
		JWTToken  string `json:"jwtToken"`
		FeedToken string `json:"feedToken"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return fmt.Errorf("smartconnect: unexpected login response: %w", err)
	}
	if data.JWTToken == "" {
		return errors.New("smartconnect: login returned no token")
	}

	c.mu.Lock()
	c.accessToken = data.JWTToken
	c.feedToken = data.FeedToken
	c.mu.Unlock()
	return nil
}

// CandleRequest describes one historical data request.
type CandleRequest struct {
	Exchange    string // "NSE"
	SymbolToken string
	Interval    string // IntervalOneDay / IntervalFiveMinute
	From        time.Time
	To          time.Time
}

// Candle is one historical OHLCV row as returned by the API.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// GetCandleData fetches historical candles. The API returns rows as
// ["2024-12-28T09:15:00+05:30", open, high, low, close, volume].
func (c *Client) GetCandleData(ctx context.Context, req CandleRequest) ([]Candle, error) {
	if !c.Authenticated() {
		return nil, errors.New("smartconnect: not logged in")
	}

	res, err := c.post(ctx, "api.candle.data", map[string]string{
		"exchange":    req.Exchange,
		"symboltoken": req.SymbolToken,
		"interval":    req.Interval,
		"fromdate":    req.From.Format(DateLayout),
		"todate":      req.To.Format(DateLayout),
	})
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if len(res.Data) == 0 || string(res.Data) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(res.Data, &rows); err != nil {
		return nil, fmt.Errorf("smartconnect: parse candle rows: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseRow(row)
		if err != nil {
			// Skip malformed rows rather than failing the whole fetch.
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseRow(row []json.RawMessage) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("short row: %d fields", len(row))
	}

	var tsStr string
	if err := json.Unmarshal(row[0], &tsStr); err != nil {
		return Candle{}, err
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return Candle{}, err
	}

	vals := make([]float64, 5)
	for i := 1; i < 6; i++ {
		if err := json.Unmarshal(row[i], &vals[i-1]); err != nil {
			// Some rows quote the numeric fields.
			var s string
			if err2 := json.Unmarshal(row[i], &s); err2 != nil {
				return Candle{}, err
			}
			v, err2 := strconv.ParseFloat(s, 64)
			if err2 != nil {
				return Candle{}, err2
			}
			vals[i-1] = v
		}
	}

	return Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    int64(vals[4]),
	}, nil
}

// LTP fetches the last traded price for a symbol.
func (c *Client) LTP(ctx context.Context, exchange, tradingSymbol, token string) (float64, error) {
	if !c.Authenticated() {
		return 0, errors.New("smartconnect: not logged in")
	}

	res, err := c.post(ctx, "api.ltp.data", map[string]string{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   token,
	})
	if err != nil {
		return 0, err
	}

	var data struct {
		LTP float64 `json:"ltp"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return 0, fmt.Errorf("smartconnect: unexpected ltp response: %w", err)
	}
	return data.LTP, nil
}
