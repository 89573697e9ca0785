package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/scanner"
)

const maxBodyBytes = 1 << 20

// GET /api/v1/analyze?symbol=AAPL&tf=1d
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tf, err := timeframeParam(q.Get("tf"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.analyzer.Analyze(r.Context(), symbolParam(r), tf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /api/v1/analyze/mtf?symbol=AAPL&tfs=1h,4h,1d
func (s *Server) handleMTF(w http.ResponseWriter, r *http.Request) {
	tfs := s.defaultTFs
	if raw := r.URL.Query().Get("tfs"); raw != "" {
		parsed, err := model.ParseTimeframes(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tfs = parsed
	}
	mr, err := s.analyzer.AnalyzeMultiTimeframe(r.Context(), symbolParam(r), tfs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

// POST /api/v1/scan
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScanRequest(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.analyzer.Scan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.onScan != nil {
		s.onScan(time.Now())
	}
	writeJSON(w, http.StatusOK, resp)
}

// presetsResponse is the scanner help document.
type presetsResponse struct {
	Presets    []scanner.Preset    `json:"presets"`
	Fields     []scanner.FieldInfo `json:"fields"`
	Operators  []scanner.Op        `json:"operators"`
	Timeframes []model.Timeframe   `json:"timeframes"`
	Examples   []string            `json:"examples"`
	Default    string              `json:"default_preset"`
}

// GET /api/v1/scan/presets
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presetsResponse{
		Presets:    scanner.Presets(),
		Fields:     scanner.Catalogue(),
		Operators:  scanner.Ops,
		Timeframes: model.Timeframes,
		Examples: []string{
			"RSI < 30",
			"rsi < 30 and volume > 1000000",
			"close > sma_50 and sma_50 > sma_200",
			"supertrend_direction > 0 and rsi > 50",
			"change > 3 or rvol > 2",
			"close > t3 and macd > 0",
		},
		Default: engine.DefaultPreset,
	})
}

func symbolParam(r *http.Request) string {
	q := r.URL.Query()
	if s := q.Get("symbol"); s != "" {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(q.Get("instrument"))
}

func timeframeParam(raw string) (model.Timeframe, error) {
	if raw == "" {
		return model.TF1d, nil
	}
	return model.ParseTimeframe(raw)
}

// decodeScanRequest reads a scan request and normalizes its timeframe alias.
func decodeScanRequest(body io.Reader) (engine.ScanRequest, error) {
	var req engine.ScanRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: scan request body: %v", model.ErrInvalidParameter, err)
	}
	return normalizeScan(req)
}

func normalizeScan(req engine.ScanRequest) (engine.ScanRequest, error) {
	if req.Timeframe != "" {
		tf, err := model.ParseTimeframe(string(req.Timeframe))
		if err != nil {
			return req, err
		}
		req.Timeframe = tf
	}
	return req, nil
}
