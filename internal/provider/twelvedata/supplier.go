package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
)

var intervals = map[model.Timeframe]string{
	model.TF1m:  "1min",
	model.TF5m:  "5min",
	model.TF15m: "15min",
	model.TF30m: "30min",
	model.TF1h:  "1h",
	model.TF4h:  "4h",
	model.TF1d:  "1day",
	model.TF1w:  "1week",
	model.TF1M:  "1month",
}

// Interval returns the API interval name for tf.
func Interval(tf model.Timeframe) (string, bool) {
	s, ok := intervals[tf]
	return s, ok
}

// Supplier fetches candles over HTTP.
type Supplier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *slog.Logger
}

var _ model.CandleSupplier = (*Supplier)(nil)

// Option customizes a Supplier.
type Option func(*Supplier)

// WithMetrics records request latency.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Supplier) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Supplier) { s.log = l } }

// New returns a supplier. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, opts ...Option) *Supplier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	s := &Supplier{cfg: cfg, client: client, log: slog.Default()}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements model.CandleSupplier.
func (s *Supplier) Fetch(ctx context.Context, instrument string, tf model.Timeframe, lookbackBars int) (*model.Series, error) {
	interval, ok := Interval(tf)
	if !ok {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParameter, tf)
	}
	if lookbackBars <= 0 {
		return nil, fmt.Errorf("%w: lookback bars %d", model.ErrInvalidParameter, lookbackBars)
	}
	if lookbackBars > MaxOutputSize {
		lookbackBars = MaxOutputSize
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s %s: rate limit wait: %v", model.ErrTimeout, instrument, tf, err)
		}
	}

	start := time.Now()
	body, err := s.get(ctx, instrument, interval, lookbackBars)
	s.metrics.ObserveFetch("twelvedata", time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s: %v", model.ErrTimeout, instrument, tf, err)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", model.ErrUpstreamFetch, instrument, tf, err)
	}

	candles, err := toCandles(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", instrument, tf, err)
	}
	s.log.Debug("twelvedata fetch", "instrument", instrument, "tf", tf.String(), "bars", len(candles),
		"duration", time.Since(start).String())
	return model.NewSeries(instrument, tf, candles)
}

func (s *Supplier) get(ctx context.Context, symbol, interval string, outputsize int) (*timeSeriesResponse, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("outputsize", strconv.Itoa(outputsize))
	q.Set("order", "ASC")
	q.Set("apikey", s.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/time_series?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			s.log.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d", res.StatusCode)
	}
	var body timeSeriesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("api error %d: %s", body.Code, body.Message)
	}
	return &body, nil
}

// toCandles converts the payload, oldest first, in the exchange time zone
// when the API names one.
func toCandles(body *timeSeriesResponse) ([]model.Candle, error) {
	loc := time.UTC
	if tz := body.Meta.ExchangeTimezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	out := make([]model.Candle, 0, len(body.Values))
	for i, v := range body.Values {
		tm, err := parseTime(v.Datetime, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: bar %d: %v", model.ErrMalformedCandle, i, err)
		}
		c := model.Candle{
			Time:  tm,
			Open:  v.Open.InexactFloat64(),
			High:  v.High.InexactFloat64(),
			Low:   v.Low.InexactFloat64(),
			Close: v.Close.InexactFloat64(),
		}
		if v.Volume.Valid {
			c.Volume = v.Volume.Decimal.InexactFloat64()
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}
