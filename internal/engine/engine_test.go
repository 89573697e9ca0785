package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
)

var t0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// trend builds n bars of a smooth series around base with the given drift per bar.
func trend(t *testing.T, instrument string, tf model.Timeframe, n int, base, drift, volume float64) *model.Series {
	t.Helper()
	cs := make([]model.Candle, n)
	for i := range cs {
		c := base + drift*float64(i) + 2*math.Sin(float64(i)/5)
		cs[i] = model.Candle{
			Time: t0.Add(time.Duration(i) * tf.Duration()),
			Open: c - 0.1, High: c + 0.6, Low: c - 0.6, Close: c, Volume: volume,
		}
	}
	s, err := model.NewSeries(instrument, tf, cs)
	require.NoError(t, err)
	return s
}

type fakeCandles struct {
	series map[string]*model.Series // key: instrument/tf
	errs   map[string]error
	delay  map[string]time.Duration
	calls  int32
	bars   int32
}

func newFake() *fakeCandles {
	return &fakeCandles{series: map[string]*model.Series{}, errs: map[string]error{}, delay: map[string]time.Duration{}}
}

func key(instrument string, tf model.Timeframe) string { return instrument + "/" + tf.String() }

func (f *fakeCandles) Fetch(ctx context.Context, instrument string, tf model.Timeframe, lookback int) (*model.Series, error) {
	atomic.AddInt32(&f.calls, 1)
	atomic.StoreInt32(&f.bars, int32(lookback))
	k := key(instrument, tf)
	if d := f.delay[k]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[k]; err != nil {
		return nil, err
	}
	s, ok := f.series[k]
	if !ok {
		return nil, errors.New("no such instrument")
	}
	return s, nil
}

func newEngine(t *testing.T, f *fakeCandles, opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.UnitTimeout = 500 * time.Millisecond
	e, err := New(f, cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestAnalyze_FullReport(t *testing.T) {
	f := newFake()
	f.series[key("AAA", model.TF1d)] = trend(t, "AAA", model.TF1d, 300, 100, 0.2, 1e6)
	e := newEngine(t, f)

	r, err := e.Analyze(context.Background(), " AAA ", model.TF1d)
	require.NoError(t, err)
	assert.Equal(t, "AAA", r.Instrument)
	assert.Equal(t, 300, r.Bars)
	require.NotNil(t, r.LastTime)
	assert.True(t, r.LastClose.Valid)

	for _, name := range []string{"sma_200", "rsi", "macd_hist", "bb_upper", "atr", "stoch_d", "vwap", "rvol", "supertrend", "t3"} {
		assert.True(t, r.Indicators[name].Valid, name)
	}
	require.NotNil(t, r.Levels.Pivots)
	assert.Contains(t, r.Signals, "golden_cross")
	assert.Equal(t, model.Float(1), r.Value("ma_trend_bullish"), "uptrend keeps sma_50 above sma_200")
	assert.Empty(t, r.Insufficient)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&f.bars)), 300)
}

func TestAnalyze_Deterministic(t *testing.T) {
	s := trend(t, "AAA", model.TF1h, 250, 50, -0.05, 5e5)
	a, err := AnalyzeSeries(s, DefaultConfig())
	require.NoError(t, err)
	b, err := AnalyzeSeries(s, DefaultConfig())
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestAnalyze_ShortSeriesDegradesToNull(t *testing.T) {
	s := trend(t, "NEW", model.TF1d, 1, 10, 0, 100)
	r, err := AnalyzeSeries(s, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, r.Indicators["close"].Valid)
	assert.False(t, r.Indicators["rsi"].Valid)
	assert.Contains(t, r.Insufficient, "rsi")
	assert.Nil(t, r.Levels.Pivots)
	for name, v := range r.Signals {
		assert.False(t, v.Valid, name)
	}

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rsi":null`)
	assert.NotContains(t, string(raw), "NaN")
}

func TestAnalyze_FlatSeriesIsNotOverbought(t *testing.T) {
	cs := make([]model.Candle, 60)
	for i := range cs {
		cs[i] = model.Candle{Time: t0.Add(time.Duration(i) * 24 * time.Hour), Open: 50, High: 50, Low: 50, Close: 50, Volume: 1000}
	}
	halted, err := model.NewSeries("HALT", model.TF1d, cs)
	require.NoError(t, err)
	f := newFake()
	f.series[key("HALT", model.TF1d)] = halted
	e := newEngine(t, f)

	r, err := e.Analyze(context.Background(), "HALT", model.TF1d)
	require.NoError(t, err)
	assert.Equal(t, model.Float(50), r.Indicators["rsi"])
	assert.Equal(t, model.Bool(false), r.Signals["overbought"])
	assert.Equal(t, model.Bool(false), r.Signals["oversold"])

	resp, err := e.Scan(context.Background(), ScanRequest{Instruments: []string{"HALT"}, Preset: "overbought"})
	require.NoError(t, err)
	assert.Zero(t, resp.Matched)
}

func TestAnalyze_Errors(t *testing.T) {
	f := newFake()
	f.errs[key("BAD", model.TF1d)] = errors.New("connection refused")
	f.errs[key("UGLY", model.TF1d)] = model.ErrMalformedCandle
	f.delay[key("SLOW", model.TF1d)] = 5 * time.Second
	e := newEngine(t, f)
	ctx := context.Background()

	_, err := e.Analyze(ctx, "", model.TF1d)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
	_, err = e.Analyze(ctx, "AAA", model.Timeframe("2d"))
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
	assert.Zero(t, atomic.LoadInt32(&f.calls), "caller errors must fail before any fetch")

	_, err = e.Analyze(ctx, "BAD", model.TF1d)
	assert.ErrorIs(t, err, model.ErrUpstreamFetch)
	_, err = e.Analyze(ctx, "UGLY", model.TF1d)
	assert.ErrorIs(t, err, model.ErrMalformedCandle)
	_, err = e.Analyze(ctx, "SLOW", model.TF1d)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestAnalyzeMultiTimeframe_PartialFailureIsolation(t *testing.T) {
	f := newFake()
	f.series[key("AAA", model.TF1h)] = trend(t, "AAA", model.TF1h, 300, 100, 0.1, 1e5)
	f.errs[key("AAA", model.TF4h)] = errors.New("vendor exploded")
	f.series[key("AAA", model.TF1d)] = trend(t, "AAA", model.TF1d, 300, 100, 0.3, 1e6)
	e := newEngine(t, f)

	mr, err := e.AnalyzeMultiTimeframe(context.Background(), "AAA", []model.Timeframe{model.TF1h, model.TF4h, model.TF1d})
	require.NoError(t, err)
	assert.Equal(t, []string{"1h", "4h", "1d"}, mr.Order)
	assert.Equal(t, 2, mr.Succeeded)
	assert.Equal(t, 1, mr.Failed)

	for _, label := range []string{"1h", "1d"} {
		slot := mr.Timeframes[label]
		require.NotNil(t, slot.Report, label)
		assert.Nil(t, slot.Error, label)
		assert.True(t, slot.Report.Indicators["rsi"].Valid, label)
		assert.True(t, slot.Report.Indicators["sma_200"].Valid, label)
	}
	mid := mr.Timeframes["4h"]
	assert.Nil(t, mid.Report)
	require.NotNil(t, mid.Error)
	assert.Equal(t, "upstream_fetch_failure", mid.Error.Kind)
	assert.Equal(t, 2, mr.Alignment.Bullish+mr.Alignment.Bearish+mr.Alignment.Unknown)
}

func TestAnalyzeMultiTimeframe_TimeoutIsPerSlot(t *testing.T) {
	f := newFake()
	f.series[key("AAA", model.TF1h)] = trend(t, "AAA", model.TF1h, 60, 100, 0.1, 1e5)
	f.series[key("AAA", model.TF1d)] = trend(t, "AAA", model.TF1d, 60, 100, 0.1, 1e5)
	f.delay[key("AAA", model.TF1d)] = 5 * time.Second
	e := newEngine(t, f)

	mr, err := e.AnalyzeMultiTimeframe(context.Background(), "AAA", []model.Timeframe{model.TF1d, model.TF1h})
	require.NoError(t, err)
	assert.Equal(t, "timeout", mr.Timeframes["1d"].Error.Kind)
	assert.NotNil(t, mr.Timeframes["1h"].Report)
}

func TestAnalyzeMultiTimeframe_ValidatesFirst(t *testing.T) {
	f := newFake()
	e := newEngine(t, f)
	for name, tfs := range map[string][]model.Timeframe{
		"empty":     nil,
		"unknown":   {model.TF1h, "3h"},
		"duplicate": {model.TF1h, model.TF1d, model.TF1h},
	} {
		_, err := e.AnalyzeMultiTimeframe(context.Background(), "AAA", tfs)
		assert.ErrorIs(t, err, model.ErrInvalidParameter, name)
	}
	assert.Zero(t, atomic.LoadInt32(&f.calls))
}

func scanFixture(t *testing.T) (*fakeCandles, model.UniverseSupplier) {
	t.Helper()
	f := newFake()
	// Falling hard: RSI deeply oversold, heavy volume.
	f.series[key("DOWN", model.TF1d)] = trend(t, "DOWN", model.TF1d, 300, 400, -1, 2e6)
	// Rising: RSI high.
	f.series[key("UP", model.TF1d)] = trend(t, "UP", model.TF1d, 300, 100, 1, 2e6)
	// Ten bars only: RSI and sma_200 are still null.
	f.series[key("YOUNG", model.TF1d)] = trend(t, "YOUNG", model.TF1d, 10, 100, -3, 5e6)
	// Falling slower but thin volume.
	f.series[key("THIN", model.TF1d)] = trend(t, "THIN", model.TF1d, 300, 400, -0.8, 10)
	f.errs[key("GONE", model.TF1d)] = errors.New("delisted")

	universes := model.UniverseSupplierFunc(func(_ context.Context, id string) ([]string, error) {
		if id != "demo" {
			return nil, errors.New("no such universe")
		}
		return []string{"DOWN", "UP", "YOUNG", "THIN", "GONE", "DOWN"}, nil
	})
	return f, universes
}

func TestScan_NullSafetyAndExclusion(t *testing.T) {
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes))

	resp, err := e.Scan(context.Background(), ScanRequest{Universe: "demo", Expression: "RSI < 30 and volume > 1000000"})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Scanned, "duplicates collapse")
	assert.NotEmpty(t, resp.RunID)

	var matched []string
	for _, r := range resp.Results {
		matched = append(matched, r.Instrument)
		assert.True(t, r.Values["rsi"].Valid)
		assert.Less(t, r.Values["rsi"].Float64, 30.0)
	}
	assert.Contains(t, matched, "DOWN")
	assert.NotContains(t, matched, "UP")
	assert.NotContains(t, matched, "THIN")

	require.Len(t, resp.Excluded, 1)
	assert.Equal(t, "GONE", resp.Excluded[0].Instrument)
	assert.Equal(t, "upstream_fetch_failure", resp.Excluded[0].Kind)

	// sma_200 is null for YOUNG: the comparison is false, not an error.
	resp, err = e.Scan(context.Background(), ScanRequest{Universe: "demo", Expression: "close < sma_200 or close > sma_200"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "YOUNG", r.Instrument)
	}
	assert.Len(t, resp.Excluded, 1)
}

func TestScan_RankingDescendingWithLimit(t *testing.T) {
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes))

	resp, err := e.Scan(context.Background(), ScanRequest{Universe: "demo", Expression: "volume > 0"})
	require.NoError(t, err)
	var order []string
	for i, r := range resp.Results {
		order = append(order, r.Instrument)
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, "volume", r.RankField)
	}
	// YOUNG trades 5M; DOWN and UP tie at 2M and keep universe order; THIN is last.
	assert.Equal(t, []string{"YOUNG", "DOWN", "UP", "THIN"}, order)
	assert.Equal(t, 5e6, resp.Results[0].RankKey)

	limited, err := e.Scan(context.Background(), ScanRequest{Universe: "demo", Expression: "volume > 0", Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited.Results, 2)
	assert.Equal(t, "DOWN", limited.Results[1].Instrument)
	assert.Equal(t, 4, limited.Matched)
}

func TestScan_DynamicMovingAveragesAndSignals(t *testing.T) {
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes))

	resp, err := e.Scan(context.Background(), ScanRequest{
		Universe: "demo",
		Filter:   json.RawMessage(`["and", ["gt", "close", "ema_37"], ["eq", "supertrend_bullish", 1]]`),
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "UP", resp.Results[0].Instrument)
	assert.True(t, resp.Results[0].Values["ema_37"].Valid)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&f.bars)), 300)
}

func TestScan_Presets(t *testing.T) {
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes))

	resp, err := e.Scan(context.Background(), ScanRequest{Universe: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "preset:oversold", resp.Filter)

	resp, err = e.Scan(context.Background(), ScanRequest{Instruments: []string{"UP", "DOWN"}, Preset: "supertrend_bullish"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "UP", resp.Results[0].Instrument)
}

func TestScan_NullFilterIsAbsent(t *testing.T) {
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes))

	for _, raw := range []string{"null", " null\n"} {
		req := ScanRequest{Instruments: []string{"DOWN"}, Filter: json.RawMessage(raw)}
		_, err := req.Compile()
		require.NoError(t, err, raw)

		resp, err := e.Scan(context.Background(), req)
		require.NoError(t, err, raw)
		assert.Equal(t, "preset:"+DefaultPreset, resp.Filter)
	}

	req := ScanRequest{Instruments: []string{"DOWN"}, Preset: "overbought", Filter: json.RawMessage("null")}
	_, err := e.Scan(context.Background(), req)
	require.NoError(t, err, "null filter does not count as a second filter")
}

func TestScan_CallerErrorsFailFast(t *testing.T) {
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes))
	ctx := context.Background()

	_, err := e.Scan(ctx, ScanRequest{Universe: "demo", Expression: "rsi < 30 and bogus > 1 and nope < 2"})
	require.ErrorIs(t, err, model.ErrUnknownField)
	assert.Contains(t, err.Error(), "bogus, nope")

	for name, req := range map[string]ScanRequest{
		"unknown preset": {Universe: "demo", Preset: "moonshot"},
		"two filters":    {Universe: "demo", Preset: "oversold", Expression: "rsi < 30"},
		"bad timeframe":  {Universe: "demo", Timeframe: "7m"},
		"negative limit": {Universe: "demo", Limit: -1},
		"no universe":    {},
		"syntax":         {Universe: "demo", Expression: "rsi <"},
	} {
		_, err := e.Scan(ctx, req)
		assert.ErrorIs(t, err, model.ErrInvalidParameter, name)
	}
	assert.Zero(t, atomic.LoadInt32(&f.calls))

	_, err = e.Scan(ctx, ScanRequest{Universe: "missing"})
	assert.ErrorIs(t, err, model.ErrUpstreamFetch)
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	f, universes := scanFixture(t)
	e := newEngine(t, f, WithUniverses(universes), WithMetrics(m))

	_, err := e.Scan(context.Background(), ScanRequest{Universe: "demo", Expression: "rsi > 0"})
	require.NoError(t, err)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("scan", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("scan", "upstream_fetch_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanExcluded.WithLabelValues("upstream_fetch_failure")))
}

func TestConfig_Validate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"lookback":    func(c *Config) { c.LookbackBars = 1 },
		"concurrency": func(c *Config) { c.Concurrency = 0 },
		"timeout":     func(c *Config) { c.UnitTimeout = 0 },
		"params":      func(c *Config) { c.Params.RSIPeriod = 0 },
		"thresholds":  func(c *Config) { c.Thresholds.VolumeSurge = -1 },
		"levels":      func(c *Config) { c.Levels.Radius = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := New(newFake(), cfg)
		assert.ErrorIs(t, err, model.ErrInvalidParameter, name)
	}
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestReport_ValueExposesSignalsAsNumbers(t *testing.T) {
	s := trend(t, "AAA", model.TF1d, 300, 100, 0.2, 1e6)
	r, err := AnalyzeSeries(s, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, r.Indicators[indicator.RSIName], r.Value("rsi"))
	v := r.Value("golden_cross")
	require.True(t, v.Valid)
	assert.Contains(t, []float64{0, 1}, v.Float64)
	assert.False(t, r.Value("nope").Valid)
}
