package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
)

// fakeAnalyzer records calls and returns canned results.
type fakeAnalyzer struct {
	mu       sync.Mutex
	gotTF    model.Timeframe
	gotTFs   []model.Timeframe
	gotScan  engine.ScanRequest
	scans    int
	err      error
	scanErrs []error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, instrument string, tf model.Timeframe) (*engine.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotTF = tf
	if f.err != nil {
		return nil, f.err
	}
	if instrument == "" {
		return nil, fmt.Errorf("%w: empty instrument", model.ErrInvalidParameter)
	}
	return &engine.Report{Instrument: instrument, Timeframe: tf, Bars: 10, LastClose: model.Float(101.5)}, nil
}

func (f *fakeAnalyzer) AnalyzeMultiTimeframe(_ context.Context, instrument string, tfs []model.Timeframe) (*engine.MultiReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotTFs = tfs
	if err := engine.ValidateTimeframes(tfs); err != nil {
		return nil, err
	}
	mr := &engine.MultiReport{Instrument: instrument, Timeframes: map[string]engine.Slot{}}
	for _, tf := range tfs {
		mr.Order = append(mr.Order, tf.String())
		mr.Timeframes[tf.String()] = engine.Slot{Report: &engine.Report{Instrument: instrument, Timeframe: tf}}
	}
	return mr, nil
}

func (f *fakeAnalyzer) Scan(_ context.Context, req engine.ScanRequest) (*engine.ScanResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotScan = req
	f.scans++
	if _, err := req.Compile(); err != nil {
		return nil, err
	}
	if len(f.scanErrs) > 0 {
		err := f.scanErrs[0]
		f.scanErrs = f.scanErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &engine.ScanResponse{RunID: fmt.Sprintf("run-%d", f.scans), Universe: req.Universe, Scanned: 3, Matched: 1,
		Results: []engine.ScanResult{{Rank: 1, Instrument: "AAPL"}}}, nil
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestAnalyze(t *testing.T) {
	fa := &fakeAnalyzer{}
	h := NewRouter(fa)

	rec := do(t, h, http.MethodGet, "/api/v1/analyze?symbol=AAPL&tf=1day", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.TF1d, fa.gotTF)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	var rep map[string]any
	decodeBody(t, rec, &rep)
	assert.Equal(t, "AAPL", rep["instrument"])
	assert.Equal(t, 101.5, rep["last_close"])
	assert.Nil(t, rep["last_time"], "missing values serialize as explicit null")

	rec = do(t, h, http.MethodGet, "/api/v1/analyze?instrument=MSFT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.TF1d, fa.gotTF, "tf defaults to 1d")
}

func TestAnalyze_BadTimeframe(t *testing.T) {
	rec := do(t, NewRouter(&fakeAnalyzer{}), http.MethodGet, "/api/v1/analyze?symbol=AAPL&tf=2d", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "invalid_parameter", body.Error)
	assert.Contains(t, body.Message, "2d")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{model.ErrInvalidParameter, http.StatusBadRequest, "invalid_parameter"},
		{model.ErrUnknownField, http.StatusBadRequest, "unknown_field"},
		{model.ErrInsufficientData, http.StatusUnprocessableEntity, "insufficient_data"},
		{model.ErrMalformedCandle, http.StatusUnprocessableEntity, "malformed_candle"},
		{model.ErrUpstreamFetch, http.StatusBadGateway, "upstream_fetch_failure"},
		{model.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h := NewRouter(&fakeAnalyzer{err: fmt.Errorf("wrapped: %w", tt.err)})
			rec := do(t, h, http.MethodGet, "/api/v1/analyze?symbol=AAPL", "")
			assert.Equal(t, tt.code, rec.Code)
			var body errorBody
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.kind, body.Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewRouter(&fakeAnalyzer{})
	rec := do(t, h, http.MethodPost, "/api/v1/analyze?symbol=AAPL", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))

	rec = do(t, h, http.MethodGet, "/api/v1/scan", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodOptions, "/api/v1/scan", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMTF(t *testing.T) {
	fa := &fakeAnalyzer{}
	h := NewRouter(fa)

	rec := do(t, h, http.MethodGet, "/api/v1/analyze/mtf?symbol=AAPL&tfs=1h,4hour,1d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.Timeframe{model.TF1h, model.TF4h, model.TF1d}, fa.gotTFs)

	var mr engine.MultiReport
	decodeBody(t, rec, &mr)
	assert.Equal(t, []string{"1h", "4h", "1d"}, mr.Order)

	rec = do(t, h, http.MethodGet, "/api/v1/analyze/mtf?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.Timeframe{model.TF1h, model.TF4h, model.TF1d}, fa.gotTFs)

	rec = do(t, h, http.MethodGet, "/api/v1/analyze/mtf?symbol=AAPL&tfs=1h,1h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/analyze/mtf?symbol=AAPL&tfs=1h,9x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScan(t *testing.T) {
	fa := &fakeAnalyzer{}
	health := metrics.NewHealthStatus(false, false)
	h := NewRouter(fa, WithHealth(health))

	rec := do(t, h, http.MethodPost, "/api/v1/scan", `{"universe":"demo","expression":"RSI < 30","timeframe":"1hour","limit":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.TF1h, fa.gotScan.Timeframe)
	assert.Equal(t, 5, fa.gotScan.Limit)
	assert.False(t, health.LastScanAt.IsZero())

	var resp engine.ScanResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "demo", resp.Universe)
	assert.Equal(t, "AAPL", resp.Results[0].Instrument)

	rec = do(t, h, http.MethodPost, "/api/v1/scan", `{"universe":"demo","filter":["lt","rsi",30],"preset":null}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/scan", `{"universe":"demo","filter":null}`)
	assert.Equal(t, http.StatusOK, rec.Code, "a null filter falls back to the default preset")
}

func TestScan_CallerErrors(t *testing.T) {
	h := NewRouter(&fakeAnalyzer{})
	for name, body := range map[string]string{
		"bad json":      `{"universe":`,
		"unknown key":   `{"universe":"demo","colour":"red"}`,
		"bad timeframe": `{"universe":"demo","timeframe":"2d"}`,
		"two filters":   `{"universe":"demo","preset":"oversold","expression":"rsi < 30"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/scan", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := do(t, h, http.MethodPost, "/api/v1/scan", `{"universe":"demo","expression":"foo > 1 and bar < 2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "unknown_field", body.Error)
	assert.Contains(t, body.Message, "foo")
	assert.Contains(t, body.Message, "bar")
}

func TestPresets(t *testing.T) {
	rec := do(t, NewRouter(&fakeAnalyzer{}), http.MethodGet, "/api/v1/scan/presets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body presetsResponse
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.Presets)
	assert.NotEmpty(t, body.Fields)
	assert.Len(t, body.Operators, 5)
	assert.Equal(t, engine.DefaultPreset, body.Default)
	assert.Contains(t, body.Timeframes, model.TF1M)

	names := map[string]bool{}
	for _, p := range body.Presets {
		names[p.Name] = true
	}
	for _, want := range []string{"oversold", "golden_cross", "supertrend_bullish", "t3_bullish_momentum"} {
		assert.True(t, names[want], "preset %s listed", want)
	}
}

func TestHealthz(t *testing.T) {
	rec := do(t, NewRouter(&fakeAnalyzer{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	health := metrics.NewHealthStatus(true, false)
	rec = do(t, NewRouter(&fakeAnalyzer{}, WithHealth(health)), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "redis enabled but never reached")
}

func TestHTTPMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := NewRouter(&fakeAnalyzer{}, WithMetrics(m))

	do(t, h, http.MethodGet, "/api/v1/analyze?symbol=AAPL", "")
	do(t, h, http.MethodGet, "/api/v1/analyze?symbol=AAPL&tf=bad", "")
	do(t, h, http.MethodGet, "/api/v1/analyze?symbol=AAPL", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("analyze", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("analyze", "400")))
}

func dialWatch(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/scan"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWatch_PushesRepeatedScans(t *testing.T) {
	fa := &fakeAnalyzer{scanErrs: []error{nil, fmt.Errorf("%w: redis down", model.ErrUpstreamFetch)}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	srv := httptest.NewServer(NewRouter(fa, WithMetrics(m), WithWatchIntervals(10*time.Millisecond, time.Minute, time.Hour)))
	defer srv.Close()

	conn := dialWatch(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]any{"universe": "demo", "preset": "oversold", "interval_sec": 0.001}))

	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "scan", f.Type)
	assert.Equal(t, 1, f.Seq)
	require.NotNil(t, f.Result)
	assert.Equal(t, "run-1", f.Result.RunID)

	f = frame{}
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "error", f.Type, "run failures are reported without ending the watch")
	assert.Equal(t, "upstream_fetch_failure", f.Error)

	f = frame{}
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "scan", f.Type)
	assert.Equal(t, 3, f.Seq)

	assert.Eventually(t, func() bool { return testutil.ToFloat64(m.WSClients) == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return testutil.ToFloat64(m.WSClients) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_RejectsBadRequest(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&fakeAnalyzer{}))
	defer srv.Close()

	conn := dialWatch(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"universe":"demo","expression":"nope > 1"}`)))

	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "unknown_field", f.Error)

	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
}

func TestWatchInterval(t *testing.T) {
	s := NewServer(&fakeAnalyzer{})
	assert.Equal(t, time.Minute, s.watchInterval(0))
	assert.Equal(t, 5*time.Second, s.watchInterval(1))
	assert.Equal(t, 90*time.Second, s.watchInterval(90))
	assert.Equal(t, time.Hour, s.watchInterval(1e6))
}
