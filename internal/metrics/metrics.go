package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Engine
	AnalyzeDur   *prometheus.HistogramVec // labels: tf
	UnitsTotal   *prometheus.CounterVec   // labels: op, outcome
	ScanDur      prometheus.Histogram
	ScanMatches  prometheus.Counter
	ScanExcluded *prometheus.CounterVec // labels: kind

	// Suppliers
	CacheRequests    *prometheus.CounterVec   // labels: result=hit|miss|error
	UpstreamFetchDur *prometheus.HistogramVec // labels: source

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Outer surfaces
	HTTPRequests    *prometheus.CounterVec   // labels: route, code
	HTTPDur         *prometheus.HistogramVec // labels: route
	WSClients       prometheus.Gauge
	ScheduledScans  *prometheus.CounterVec // labels: job, outcome
	AlertsDelivered *prometheus.CounterVec // labels: notifier, outcome
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalyzeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_analyze_duration_seconds",
			Help:    "Indicator, level and signal computation latency per series",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"tf"}),
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_units_total",
			Help: "Fetch+analyze units by operation and outcome (ok or error kind)",
		}, []string{"op", "outcome"}),
		ScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_scan_duration_seconds",
			Help:    "Whole-scan latency",
			Buckets: prometheus.DefBuckets,
		}),
		ScanMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_scan_matches_total",
			Help: "Instruments that satisfied a scan filter",
		}),
		ScanExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_scan_excluded_total",
			Help: "Instruments excluded from a scan by error kind",
		}, []string{"kind"}),

		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_candle_cache_requests_total",
			Help: "Redis candle cache lookups by result",
		}, []string{"result"}),
		UpstreamFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_upstream_fetch_duration_seconds",
			Help:    "Candle supplier latency by source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_http_requests_total",
			Help: "API requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_http_request_duration_seconds",
			Help:    "API request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_ws_clients",
			Help: "Connected WebSocket scan watchers",
		}),
		ScheduledScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_scheduled_scans_total",
			Help: "Scheduled scan runs by job and outcome",
		}, []string{"job", "outcome"}),
		AlertsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_alerts_total",
			Help: "Scan alerts by notifier and outcome",
		}, []string{"notifier", "outcome"}),
	}

	reg.MustRegister(
		m.AnalyzeDur,
		m.UnitsTotal,
		m.ScanDur,
		m.ScanMatches,
		m.ScanExcluded,
		m.CacheRequests,
		m.UpstreamFetchDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.HTTPRequests,
		m.HTTPDur,
		m.WSClients,
		m.ScheduledScans,
		m.AlertsDelivered,
	)

	return m
}

// ObserveAnalyze records one series computation.
func (m *Metrics) ObserveAnalyze(tf string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalyzeDur.WithLabelValues(tf).Observe(d.Seconds())
}

// Unit records the outcome of one fetch+analyze unit. outcome is "ok" or an error kind.
func (m *Metrics) Unit(op, outcome string) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(d time.Duration, matches int, excludedKinds []string) {
	if m == nil {
		return
	}
	m.ScanDur.Observe(d.Seconds())
	m.ScanMatches.Add(float64(matches))
	for _, k := range excludedKinds {
		m.ScanExcluded.WithLabelValues(k).Inc()
	}
}

// Cache records a cache lookup result.
func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveFetch records supplier latency.
func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamFetchDur.WithLabelValues(source).Observe(d.Seconds())
}

// BreakerState publishes the circuit breaker state; trip increments the trip counter.
func (m *Metrics) BreakerState(state int, trip bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if trip {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastScanAt     time.Time `json:"last_scan_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status tracking the enabled backends.
func NewHealthStatus(redisEnabled, sqliteEnabled bool) *HealthStatus {
	return &HealthStatus{
		RedisEnabled:  redisEnabled,
		SQLiteEnabled: sqliteEnabled,
		StartedAt:     time.Now(),
	}
}

func (h *HealthStatus) SetLastScan(t time.Time) {
	h.mu.Lock()
	h.LastScanAt = t
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

// CheckSQLite pings the database and records latency + health.
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

// StartLivenessChecker probes once immediately and then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	lastScan := ""
	if !h.LastScanAt.IsZero() {
		lastScan = h.LastScanAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteEnabled   bool    `json:"sqlite_enabled"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastScanAt      string  `json:"last_scan_at"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastScanAt:      lastScan,
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
	log    *slog.Logger
}

// NewServer creates a metrics and health server reading from g.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
