package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	CyclesTotal    prometheus.Counter
	CycleDur       prometheus.Histogram
	SymbolsScanned prometheus.Counter
	SymbolsSkipped *prometheus.CounterVec // labels: reason

	FetchRetries      prometheus.Counter
	ProviderFailovers *prometheus.CounterVec // labels: from, to
	ProviderFetchDur  *prometheus.HistogramVec

	BreakoutsRecorded  *prometheus.CounterVec // labels: window
	StrategiesRecorded *prometheus.CounterVec // labels: strategy
	ATHUpdates         prometheus.Counter
	TrackerSaves       prometheus.Counter

	CacheSize   prometheus.Gauge
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Total scan cycles completed",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Full scan cycle latency",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		SymbolsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_symbols_scanned_total",
			Help: "Symbols successfully scanned",
		}),
		SymbolsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_symbols_skipped_total",
			Help: "Symbols skipped (stale data, short history, fetch failure)",
		}, []string{"reason"}),

		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_fetch_retries_total",
			Help: "Candle fetch retry attempts",
		}),
		ProviderFailovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_provider_failovers_total",
			Help: "Failovers from one history provider to the next",
		}, []string{"from", "to"}),
		ProviderFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_provider_fetch_duration_seconds",
			Help:    "Candle fetch latency per provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		BreakoutsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_breakouts_recorded_total",
			Help: "First-occurrence breakout timestamps recorded (by window)",
		}, []string{"window"}),
		StrategiesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_strategies_recorded_total",
			Help: "First-occurrence strategy triggers recorded (by strategy)",
		}, []string{"strategy"}),
		ATHUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_ath_updates_total",
			Help: "All-time-high cache updates",
		}),
		TrackerSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_tracker_saves_total",
			Help: "Tracker persistence writes",
		}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_cache_snapshots",
			Help: "Snapshots currently held in the result cache",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.SymbolsScanned,
		m.SymbolsSkipped,
		m.FetchRetries,
		m.ProviderFailovers,
		m.ProviderFetchDur,
		m.BreakoutsRecorded,
		m.StrategiesRecorded,
		m.ATHUpdates,
		m.TrackerSaves,
		m.CacheSize,
		m.MarketState,
	)

	return m
}

// HealthStatus represents scanner health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleOK    bool      `json:"last_cycle_ok"`
	UniverseSize   int       `json:"universe_size"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetCycle(ok bool, universe int) {
	h.mu.Lock()
	h.LastCycleAt = time.Now()
	h.LastCycleOK = ok
	h.UniverseSize = universe
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.LastCycleOK && !h.LastCycleAt.IsZero() {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		LastCycleOK     bool    `json:"last_cycle_ok"`
		UniverseSize    int     `json:"universe_size"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastCycleOK:     h.LastCycleOK,
		UniverseSize:    h.UniverseSize,
		RedisConnected:  h.RedisConnected,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
