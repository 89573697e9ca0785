package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/scanner"
	"analytics-enginev1/internal/workpool"
)

// DefaultPreset is used when a scan request names no filter.
const DefaultPreset = "oversold"

// ScanRequest selects a universe and a filter. At most one of Preset,
// Expression and Filter may be set; with none, DefaultPreset applies.
type ScanRequest struct {
	Universe    string   `json:"universe" yaml:"universe"`
	Instruments []string `json:"instruments,omitempty" yaml:"instruments"`

	Preset     string          `json:"preset,omitempty" yaml:"preset"`
	Expression string          `json:"expression,omitempty" yaml:"expression"`
	Filter     json.RawMessage `json:"filter,omitempty" yaml:"-"`

	Timeframe model.Timeframe `json:"timeframe,omitempty" yaml:"timeframe"`
	Limit     int             `json:"limit,omitempty" yaml:"limit"`
}

// Compile validates the request and returns its compiled filter. Every
// error it returns is a caller error.
func (r ScanRequest) Compile() (*scanner.Filter, error) {
	set := 0
	for _, s := range []bool{r.Preset != "", strings.TrimSpace(r.Expression) != "", r.hasFilter()} {
		if s {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("%w: give only one of preset, expression or filter", model.ErrInvalidParameter)
	}
	if r.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", model.ErrInvalidParameter, r.Limit)
	}
	if r.Timeframe != "" && !r.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParameter, r.Timeframe)
	}
	switch {
	case strings.TrimSpace(r.Expression) != "":
		return scanner.FromString(r.Expression)
	case r.hasFilter():
		return scanner.FromTokens(r.Filter)
	case r.Preset != "":
		return scanner.FromPreset(r.Preset)
	}
	return scanner.FromPreset(DefaultPreset)
}

// hasFilter reports whether Filter holds a token tree. A JSON null counts as absent.
func (r ScanRequest) hasFilter() bool {
	f := strings.TrimSpace(string(r.Filter))
	return f != "" && f != "null"
}

func (r ScanRequest) timeframe() model.Timeframe {
	if r.Timeframe == "" {
		return model.TF1d
	}
	return r.Timeframe
}

// ScanResult is one matching instrument.
type ScanResult struct {
	Rank       int                        `json:"rank"`
	Instrument string                     `json:"instrument"`
	RankKey    float64                    `json:"rank_key"`
	RankField  string                     `json:"rank_field"`
	Values     map[string]model.NullFloat `json:"values"`
	LastClose  model.NullFloat            `json:"last_close"`
	LastTime   *time.Time                 `json:"last_time"`
}

// Excluded is an instrument that could not be evaluated.
type Excluded struct {
	Instrument string `json:"instrument"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// ScanResponse is the outcome of one scan.
type ScanResponse struct {
	RunID       string          `json:"run_id"`
	Universe    string          `json:"universe"`
	Timeframe   model.Timeframe `json:"timeframe"`
	Filter      string          `json:"filter"`
	Scanned     int             `json:"scanned"`
	Matched     int             `json:"matched"`
	Results     []ScanResult    `json:"results"`
	Excluded    []Excluded      `json:"excluded"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Scan evaluates the request filter against every instrument of the
// universe on the latest bar of one timeframe.
//
// Invalid requests and unknown fields fail before any fetch. A universe
// lookup failure fails the call with ErrUpstreamFetch. Per-instrument
// failures exclude that instrument and are listed in Excluded. A null
// operand makes its comparison false, so instruments with too little
// history simply do not match.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*ScanResponse, error) {
	filter, err := req.Compile()
	if err != nil {
		return nil, err
	}
	tf := req.timeframe()
	start := time.Now()

	instruments, err := e.resolveUniverse(ctx, req)
	if err != nil {
		return nil, err
	}

	sma, ema := scanner.MovingAverages(filter.Expr)
	params := e.params.WithMovingAverages(sma, ema)

	out := workpool.Run(ctx, e.poolOptions(), len(instruments), func(ctx context.Context, i int) (*Report, error) {
		return e.fetchAndAnalyze(ctx, instruments[i], tf, params, e.eval)
	})

	resp := &ScanResponse{
		RunID:     logger.NewTraceID(),
		Universe:  req.Universe,
		Timeframe: tf,
		Filter:    filter.Source,
		Scanned:   len(instruments),
		Results:   []ScanResult{},
		Excluded:  []Excluded{},
	}
	var (
		rows  []scanner.Ranked
		kinds []string
	)
	for i, o := range out {
		e.recordUnit("scan", o.Err)
		if o.Err != nil {
			kind := model.ErrorKind(o.Err)
			kinds = append(kinds, kind)
			resp.Excluded = append(resp.Excluded, Excluded{Instrument: instruments[i], Kind: kind, Message: o.Err.Error()})
			continue
		}
		if hit, ok := filter.Apply(o.Value); ok {
			rows = append(rows, scanner.Ranked{Instrument: instruments[i], Order: i, Hit: hit})
		}
	}

	reports := make(map[string]*Report, len(rows))
	for i, o := range out {
		if o.Err == nil {
			reports[instruments[i]] = o.Value
		}
	}
	for n, row := range scanner.Rank(rows, req.Limit) {
		r := reports[row.Instrument]
		resp.Results = append(resp.Results, ScanResult{
			Rank:       n + 1,
			Instrument: row.Instrument,
			RankKey:    row.RankKey,
			RankField:  row.RankField,
			Values:     row.Values,
			LastClose:  r.LastClose,
			LastTime:   r.LastTime,
		})
	}
	resp.Matched = len(rows)
	resp.GeneratedAt = time.Now().UTC()

	e.metrics.ObserveScan(time.Since(start), len(rows), kinds)
	e.log.Info("scan complete", append(logger.LogWithTrace(ctx),
		"run_id", resp.RunID, "universe", req.Universe, "tf", tf.String(), "filter", filter.Source,
		"scanned", resp.Scanned, "matched", resp.Matched, "excluded", len(resp.Excluded),
		"duration", time.Since(start).String())...)
	return resp, nil
}

func (e *Engine) resolveUniverse(ctx context.Context, req ScanRequest) ([]string, error) {
	var raw []string
	switch {
	case len(req.Instruments) > 0:
		raw = req.Instruments
	case strings.TrimSpace(req.Universe) == "":
		return nil, fmt.Errorf("%w: scan needs a universe or instruments", model.ErrInvalidParameter)
	case e.universes == nil:
		return nil, fmt.Errorf("%w: no universe supplier configured", model.ErrInvalidParameter)
	default:
		list, err := e.universes.ListUniverse(ctx, req.Universe)
		if err != nil {
			if errors.Is(err, model.ErrInvalidParameter) || errors.Is(err, model.ErrUpstreamFetch) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: universe %s: %v", model.ErrUpstreamFetch, req.Universe, err)
		}
		raw = list
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
