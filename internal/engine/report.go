package engine

import (
	"fmt"
	"time"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/levels"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/signal"
)

// Report is the analysis of one (instrument, timeframe) series.
type Report struct {
	Instrument    string                     `json:"instrument"`
	Timeframe     model.Timeframe            `json:"timeframe"`
	Bars          int                        `json:"bars"`
	LastTime      *time.Time                 `json:"last_time"`
	LastClose     model.NullFloat            `json:"last_close"`
	Indicators    map[string]model.NullFloat `json:"indicators"`
	Lookback      map[string]int             `json:"lookback"`
	Insufficient  []string                   `json:"insufficient,omitempty"`
	Levels        *levels.Set                `json:"levels"`
	Signals       map[string]model.NullBool  `json:"signals"`
	SignalDetails []signal.Signal            `json:"signal_details"`

	set *indicator.Set
}

// Value exposes indicators by catalogue name and signals as 1/0, so a Report
// can be fed straight to a scanner filter.
func (r *Report) Value(name string) model.NullFloat {
	if v, ok := r.Indicators[name]; ok {
		return v
	}
	if b, ok := r.Signals[name]; ok && b.Valid {
		if b.Bool {
			return model.Float(1)
		}
		return model.Float(0)
	}
	return model.NullFloat{}
}

// Set returns the full indicator set the report was built from.
func (r *Report) Set() *indicator.Set { return r.set }

// AnalyzeSeries validates cfg and computes a report for s without any I/O.
func AnalyzeSeries(s *model.Series, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eval, err := signal.NewEvaluator(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	return analyze(s, cfg.params(), cfg.Levels, eval)
}

func analyze(s *model.Series, p indicator.Params, lc levels.Config, eval *signal.Evaluator) (*Report, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil series", model.ErrInvalidParameter)
	}
	set, err := indicator.Compute(s, p)
	if err != nil {
		return nil, err
	}
	lv, err := levels.Compute(s, lc)
	if err != nil {
		return nil, err
	}
	sig := eval.Evaluate(set)

	r := &Report{
		Instrument:    s.Instrument,
		Timeframe:     s.Timeframe,
		Bars:          s.Len(),
		Indicators:    set.Values,
		Lookback:      set.Lookback,
		Insufficient:  set.Insufficient,
		Levels:        lv,
		Signals:       sig.Signals,
		SignalDetails: sig.Details,
		set:           set,
	}
	if last, ok := s.Last(); ok {
		t := last.Time
		r.LastTime = &t
		r.LastClose = model.Float(last.Close)
	}
	return r, nil
}
