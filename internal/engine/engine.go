// Package engine wires the indicator library, level calculator and signal
// evaluator behind three entry points: Analyze, AnalyzeMultiTimeframe and
// Scan. The engine holds no mutable state between calls; every call fetches
// fresh candles through the supplier ports and computes from scratch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/levels"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/signal"
	"analytics-enginev1/internal/workpool"
)

// Config holds every tunable of the engine.
type Config struct {
	Params     indicator.Params  `yaml:"indicators"`
	Thresholds signal.Thresholds `yaml:"signals"`
	Levels     levels.Config     `yaml:"levels"`

	// LookbackBars is the minimum number of bars requested per fetch. It is
	// raised automatically when the configured indicators need more.
	LookbackBars int `yaml:"lookback_bars"`
	// Concurrency bounds the fetch+analyze units in flight per call.
	Concurrency int `yaml:"concurrency"`
	// UnitTimeout bounds a single fetch+analyze unit.
	UnitTimeout time.Duration `yaml:"unit_timeout"`
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Params:       indicator.DefaultParams(),
		Thresholds:   signal.DefaultThresholds(),
		Levels:       levels.DefaultConfig(),
		LookbackBars: 300,
		Concurrency:  8,
		UnitTimeout:  10 * time.Second,
	}
}

// Validate checks every section and returns the first ErrInvalidParameter.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Levels.Validate(); err != nil {
		return err
	}
	switch {
	case c.LookbackBars < 2:
		return fmt.Errorf("%w: lookback bars %d must be at least 2", model.ErrInvalidParameter, c.LookbackBars)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency %d must be positive", model.ErrInvalidParameter, c.Concurrency)
	case c.UnitTimeout <= 0:
		return fmt.Errorf("%w: unit timeout %s must be positive", model.ErrInvalidParameter, c.UnitTimeout)
	}
	return nil
}

// params returns the indicator parameters with the signal rules' moving averages added.
func (c Config) params() indicator.Params {
	return c.Params.WithMovingAverages([]int{c.Thresholds.FastMA, c.Thresholds.SlowMA}, nil)
}

// barsFor returns how many bars to fetch so every indicator in p has its
// lookback plus one prior bar for crossings.
func (c Config) barsFor(p indicator.Params) int {
	need := c.LookbackBars
	for _, lb := range p.Lookbacks() {
		if lb+1 > need {
			need = lb + 1
		}
	}
	return need
}

// Engine runs analyses against the configured suppliers.
type Engine struct {
	candles   model.CandleSupplier
	universes model.UniverseSupplier
	cfg       Config
	params    indicator.Params
	eval      *signal.Evaluator
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithUniverses sets the universe supplier used by Scan.
func WithUniverses(u model.UniverseSupplier) Option { return func(e *Engine) { e.universes = u } }

// New validates cfg and returns an engine reading candles from candles.
func New(candles model.CandleSupplier, cfg Config, opts ...Option) (*Engine, error) {
	if candles == nil {
		return nil, fmt.Errorf("%w: nil candle supplier", model.ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eval, err := signal.NewEvaluator(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		candles: candles,
		cfg:     cfg,
		params:  cfg.params(),
		eval:    eval,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// AnalyzeSeries computes a report for an already-fetched series.
func (e *Engine) AnalyzeSeries(s *model.Series) (*Report, error) {
	start := time.Now()
	r, err := analyze(s, e.params, e.cfg.Levels, e.eval)
	if err == nil {
		e.metrics.ObserveAnalyze(s.Timeframe.String(), time.Since(start))
	}
	return r, err
}

// Analyze fetches one series and analyzes it. The fetch+analyze unit is
// bounded by the configured unit timeout.
func (e *Engine) Analyze(ctx context.Context, instrument string, tf model.Timeframe) (*Report, error) {
	instrument, err := checkInstrument(instrument)
	if err != nil {
		return nil, err
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParameter, tf)
	}
	out := workpool.Run(ctx, e.poolOptions(), 1, func(ctx context.Context, _ int) (*Report, error) {
		return e.fetchAndAnalyze(ctx, instrument, tf, e.params, e.eval)
	})
	e.recordUnit("analyze", out[0].Err)
	if out[0].Err != nil {
		e.log.Warn("analyze failed", append(logger.LogWithTrace(ctx),
			"instrument", instrument, "tf", tf.String(), "kind", model.ErrorKind(out[0].Err), "error", out[0].Err)...)
		return nil, out[0].Err
	}
	return out[0].Value, nil
}

func (e *Engine) poolOptions() workpool.Options {
	return workpool.Options{Limit: e.cfg.Concurrency, Timeout: e.cfg.UnitTimeout}
}

func (e *Engine) recordUnit(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = model.ErrorKind(err)
	}
	e.metrics.Unit(op, outcome)
}

// fetchAndAnalyze is one unit of work: fetch, validate, compute.
func (e *Engine) fetchAndAnalyze(ctx context.Context, instrument string, tf model.Timeframe, p indicator.Params, eval *signal.Evaluator) (*Report, error) {
	s, err := e.candles.Fetch(ctx, instrument, tf, e.cfg.barsFor(p))
	if err != nil {
		return nil, upstream(instrument, tf, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s %s: supplier returned no series", model.ErrUpstreamFetch, instrument, tf)
	}
	start := time.Now()
	r, err := analyze(s, p, e.cfg.Levels, eval)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveAnalyze(tf.String(), time.Since(start))
	return r, nil
}

// upstream classifies supplier errors: data-quality and timeout errors keep
// their kind, everything else becomes ErrUpstreamFetch.
func upstream(instrument string, tf model.Timeframe, err error) error {
	switch {
	case errors.Is(err, model.ErrUpstreamFetch),
		errors.Is(err, model.ErrMalformedCandle),
		errors.Is(err, model.ErrInsufficientData),
		errors.Is(err, model.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", model.ErrUpstreamFetch, instrument, tf, err)
}

func checkInstrument(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty instrument", model.ErrInvalidParameter)
	}
	return s, nil
}
