// Package api exposes the analytics engine over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
)

// Analyzer is the engine surface the API serves.
type Analyzer interface {
	Analyze(ctx context.Context, instrument string, tf model.Timeframe) (*engine.Report, error)
	AnalyzeMultiTimeframe(ctx context.Context, instrument string, tfs []model.Timeframe) (*engine.MultiReport, error)
	Scan(ctx context.Context, req engine.ScanRequest) (*engine.ScanResponse, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	analyzer Analyzer
	log      *slog.Logger
	metrics  *metrics.Metrics
	health   http.Handler

	// onScan is told about every completed scan (health bookkeeping).
	onScan func(time.Time)

	minWatch     time.Duration
	maxWatch     time.Duration
	defaultWatch time.Duration
	defaultTFs   []model.Timeframe
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// WithMetrics enables HTTP metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithHealth mounts h on /healthz and records scan times on it.
func WithHealth(h *metrics.HealthStatus) Option {
	return func(s *Server) {
		s.health = h
		s.onScan = h.SetLastScan
	}
}

// WithWatchIntervals bounds the WebSocket re-scan interval.
func WithWatchIntervals(min, def, max time.Duration) Option {
	return func(s *Server) { s.minWatch, s.defaultWatch, s.maxWatch = min, def, max }
}

// WithDefaultTimeframes sets the timeframes used by /analyze/mtf when none are given.
func WithDefaultTimeframes(tfs []model.Timeframe) Option {
	return func(s *Server) { s.defaultTFs = tfs }
}

// NewServer returns a server over a.
func NewServer(a Analyzer, opts ...Option) *Server {
	s := &Server{
		analyzer:     a,
		log:          slog.Default(),
		minWatch:     5 * time.Second,
		defaultWatch: time.Minute,
		maxWatch:     time.Hour,
		defaultTFs:   []model.Timeframe{model.TF1h, model.TF4h, model.TF1d},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRouter sets up every route on a fresh mux.
func NewRouter(a Analyzer, opts ...Option) *http.ServeMux {
	return NewServer(a, opts...).Routes()
}

// Routes registers the API routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/analyze", s.instrument("analyze", http.MethodGet, s.handleAnalyze))
	mux.Handle("/api/v1/analyze/mtf", s.instrument("analyze_mtf", http.MethodGet, s.handleMTF))
	mux.Handle("/api/v1/scan", s.instrument("scan", http.MethodPost, s.handleScan))
	mux.Handle("/api/v1/scan/presets", s.instrument("scan_presets", http.MethodGet, s.handlePresets))
	mux.HandleFunc("/api/v1/ws/scan", s.handleWatch)
	if s.health != nil {
		mux.Handle("/healthz", s.health)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument enforces the method, attaches a trace id and records metrics.
func (s *Server) instrument(route, method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = logger.NewTraceID()
		}
		rec.Header().Set("X-Trace-ID", traceID)
		r = r.WithContext(logger.WithTraceID(r.Context(), traceID))

		if r.Method != method {
			rec.Header().Set("Allow", method)
			writeJSON(rec, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: method + " only"})
		} else {
			h(rec, r)
		}

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			s.metrics.HTTPDur.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		s.log.Debug("http request", append(logger.LogWithTrace(r.Context()),
			"route", route, "code", rec.code, "duration", time.Since(start).String())...)
	})
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch model.ErrorKind(err) {
	case "invalid_parameter", "unknown_field":
		return http.StatusBadRequest
	case "insufficient_data", "malformed_candle":
		return http.StatusUnprocessableEntity
	case "upstream_fetch_failure":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= 500 {
		s.log.Warn("request failed", append(logger.LogWithTrace(r.Context()),
			"path", r.URL.Path, "code", code, "error", err)...)
	}
	writeJSON(w, code, errorBody{Error: model.ErrorKind(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
