package indicator

import (
	"strconv"

	"analytics-enginev1/internal/model"
)

// EMA calculates Exponential Moving Average seeded with the SMA of the first period values.
// O(1) per update, no window storage.
type EMA struct {
	name       string
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		name:       "ema_" + strconv.Itoa(period),
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return e.name }

func (e *EMA) Update(candle model.Candle) { e.Add(candle.Close) }

// Add feeds a raw value. MACD and T3 chain EMAs through Add.
func (e *EMA) Add(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = (v * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// EMAValues returns EMA(period) of close for every bar.
func EMAValues(s *model.Series, period int) ([]model.NullFloat, error) {
	if err := checkPeriod("ema", period); err != nil {
		return nil, err
	}
	return fold(s, NewEMA(period)), nil
}
