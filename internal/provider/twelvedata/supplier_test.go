package twelvedata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
)

const payload = `{
	"meta": {"symbol": "AAPL", "interval": "1day", "exchange_timezone": "UTC"},
	"values": [
		{"datetime": "2025-01-15", "open": "150.00", "high": "155.00", "low": "149.00", "close": "154.50", "volume": "1000000"},
		{"datetime": "2025-01-14", "open": "148.00", "high": "151.00", "low": "147.50", "close": "150.00", "volume": "900000"},
		{"datetime": "2025-01-13", "open": "147.10", "high": "148.20", "low": "146.00", "close": "148.00"}
	],
	"status": "ok"
}`

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupplier_Fetch(t *testing.T) {
	srv := serve(t, http.StatusOK, payload, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "AAPL", q.Get("symbol"))
		assert.Equal(t, "1day", q.Get("interval"))
		assert.Equal(t, "300", q.Get("outputsize"))
		assert.Equal(t, "test-key", q.Get("apikey"))
	})
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, srv.Client(), WithMetrics(m))

	series, err := s.Fetch(context.Background(), "AAPL", model.TF1d, 300)
	require.NoError(t, err)
	require.Equal(t, 3, series.Len())

	first, last := series.Candles[0], series.Candles[2]
	assert.True(t, first.Time.Equal(time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)), "bars must be oldest first")
	assert.Equal(t, 0.0, first.Volume, "missing volume reads as zero")
	assert.Equal(t, 147.1, first.Open)
	assert.Equal(t, 154.5, last.Close)
	assert.Equal(t, 1e6, last.Volume)
	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamFetchDur))
}

func TestSupplier_CapsOutputSize(t *testing.T) {
	srv := serve(t, http.StatusOK, payload, func(r *http.Request) {
		assert.Equal(t, "5000", r.URL.Query().Get("outputsize"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
	})
	_, err := New(Config{BaseURL: srv.URL}, srv.Client()).Fetch(context.Background(), "AAPL", model.TF1h, 9000)
	require.NoError(t, err)
}

func TestSupplier_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"http error", http.StatusTooManyRequests, `{}`, model.ErrUpstreamFetch},
		{"server error", http.StatusInternalServerError, `oops`, model.ErrUpstreamFetch},
		{"api error", http.StatusOK, `{"status":"error","code":404,"message":"symbol not found"}`, model.ErrUpstreamFetch},
		{"bad json", http.StatusOK, `{"values": [`, model.ErrUpstreamFetch},
		{"bad time", http.StatusOK, `{"status":"ok","values":[{"datetime":"yesterday","open":"1","high":"1","low":"1","close":"1"}]}`, model.ErrMalformedCandle},
		{"bad ohlc", http.StatusOK, `{"status":"ok","values":[{"datetime":"2025-01-01","open":"10","high":"9","low":"8","close":"9"}]}`, model.ErrMalformedCandle},
		{"duplicate bar", http.StatusOK, `{"status":"ok","values":[
			{"datetime":"2025-01-01","open":"1","high":"1","low":"1","close":"1"},
			{"datetime":"2025-01-01","open":"1","high":"1","low":"1","close":"1"}]}`, model.ErrMalformedCandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body, nil)
			_, err := New(Config{BaseURL: srv.URL}, srv.Client()).Fetch(context.Background(), "AAPL", model.TF1d, 10)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSupplier_InvalidArguments(t *testing.T) {
	s := New(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	_, err := s.Fetch(context.Background(), "AAPL", model.Timeframe("2d"), 10)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
	_, err = s.Fetch(context.Background(), "AAPL", model.TF1d, 0)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestSupplier_TimeoutIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{BaseURL: srv.URL}, srv.Client()).Fetch(ctx, "AAPL", model.TF1d, 10)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestSupplier_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, http.StatusOK, payload, func(*http.Request) { calls.Add(1) })

	// One request per minute with a burst of one: the second call cannot be
	// admitted before the caller's deadline.
	s := New(Config{BaseURL: srv.URL, RequestsPerMinute: 1}, srv.Client())
	_, err := s.Fetch(context.Background(), "AAPL", model.TF1d, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Fetch(ctx, "AAPL", model.TF1d, 10)
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInterval(t *testing.T) {
	for _, tf := range model.Timeframes {
		_, ok := Interval(tf)
		assert.True(t, ok, "timeframe %s must map to an API interval", tf)
	}
	got, _ := Interval(model.TF1M)
	assert.Equal(t, "1month", got)
}
