// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator is a streaming calculator updated one bar at a time in bar
// order, so a value at bar i never depends on bars after i. The *Values
// helpers fold a calculator over a whole series and return one slot per bar,
// null wherever the indicator's lookback is not yet satisfied.
package indicator

import (
	"fmt"

	"analytics-enginev1/internal/model"
)

// Indicator is the interface for all single-output technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "sma_20", "rsi").
	Name() string

	// Update feeds the next candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Meaningless until Ready.
	Value() float64

	// Ready returns true when enough bars have been accumulated.
	Ready() bool
}

// MaxPeriod bounds every period parameter.
const MaxPeriod = 1000

func checkPeriod(name string, period int) error {
	if period <= 0 || period > MaxPeriod {
		return fmt.Errorf("%w: %s period %d outside 1..%d", model.ErrInvalidParameter, name, period, MaxPeriod)
	}
	return nil
}

// fold runs ind over every bar of s and records its value after each update.
func fold(s *model.Series, ind Indicator) []model.NullFloat {
	out := make([]model.NullFloat, s.Len())
	for i, c := range s.Candles {
		ind.Update(c)
		if ind.Ready() {
			out[i] = model.Float(ind.Value())
		}
	}
	return out
}

// Last returns the final slot of a series, or null for an empty one.
func Last(vals []model.NullFloat) model.NullFloat {
	if len(vals) == 0 {
		return model.NullFloat{}
	}
	return vals[len(vals)-1]
}
