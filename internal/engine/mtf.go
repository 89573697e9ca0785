package engine

import (
	"context"
	"fmt"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/workpool"
)

// Slot is the outcome for one timeframe: a report or an error, never both.
type Slot struct {
	Report *Report          `json:"report,omitempty"`
	Error  *model.UnitError `json:"error,omitempty"`
}

// Alignment summarizes the Supertrend direction across successful slots.
type Alignment struct {
	Bullish   int    `json:"bullish"`
	Bearish   int    `json:"bearish"`
	Unknown   int    `json:"unknown"`
	Consensus string `json:"consensus"` // bullish, bearish, mixed or unknown
}

// MultiReport is the per-timeframe analysis of one instrument.
type MultiReport struct {
	Instrument string          `json:"instrument"`
	Order      []string        `json:"order"`
	Timeframes map[string]Slot `json:"timeframes"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Alignment  Alignment       `json:"alignment"`
}

// ValidateTimeframes rejects an empty list, unknown entries and duplicates.
func ValidateTimeframes(tfs []model.Timeframe) error {
	if len(tfs) == 0 {
		return fmt.Errorf("%w: no timeframes requested", model.ErrInvalidParameter)
	}
	seen := make(map[model.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		if !tf.Valid() {
			return fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParameter, tf)
		}
		if seen[tf] {
			return fmt.Errorf("%w: duplicate timeframe %s", model.ErrInvalidParameter, tf)
		}
		seen[tf] = true
	}
	return nil
}

// AnalyzeMultiTimeframe analyzes instrument on every timeframe concurrently.
// Caller mistakes fail the call before any fetch; per-timeframe failures
// (fetch, timeout, malformed data) are reported in their slot and never
// affect the other slots.
func (e *Engine) AnalyzeMultiTimeframe(ctx context.Context, instrument string, tfs []model.Timeframe) (*MultiReport, error) {
	instrument, err := checkInstrument(instrument)
	if err != nil {
		return nil, err
	}
	if err := ValidateTimeframes(tfs); err != nil {
		return nil, err
	}

	out := workpool.Run(ctx, e.poolOptions(), len(tfs), func(ctx context.Context, i int) (*Report, error) {
		return e.fetchAndAnalyze(ctx, instrument, tfs[i], e.params, e.eval)
	})

	mr := &MultiReport{
		Instrument: instrument,
		Order:      make([]string, len(tfs)),
		Timeframes: make(map[string]Slot, len(tfs)),
	}
	for i, o := range out {
		label := tfs[i].String()
		mr.Order[i] = label
		e.recordUnit("mtf", o.Err)
		if o.Err != nil {
			mr.Failed++
			mr.Timeframes[label] = Slot{Error: model.NewUnitError(o.Err)}
			e.log.Warn("timeframe failed", append(logger.LogWithTrace(ctx),
				"instrument", instrument, "tf", label, "kind", model.ErrorKind(o.Err), "error", o.Err)...)
			continue
		}
		mr.Succeeded++
		mr.Timeframes[label] = Slot{Report: o.Value}
	}
	mr.Alignment = align(mr)
	return mr, nil
}

func align(mr *MultiReport) Alignment {
	var a Alignment
	for _, label := range mr.Order {
		slot := mr.Timeframes[label]
		if slot.Report == nil {
			continue
		}
		d := slot.Report.Indicators[indicator.SupertrendDirection]
		switch {
		case !d.Valid:
			a.Unknown++
		case d.Float64 > 0:
			a.Bullish++
		default:
			a.Bearish++
		}
	}
	switch {
	case a.Bullish > 0 && a.Bearish == 0:
		a.Consensus = "bullish"
	case a.Bearish > 0 && a.Bullish == 0:
		a.Consensus = "bearish"
	case a.Bullish > 0 && a.Bearish > 0:
		a.Consensus = "mixed"
	default:
		a.Consensus = "unknown"
	}
	return a
}
