package indicator

import (
	"math"

	"analytics-enginev1/internal/model"
)

// ATR is the Wilder-smoothed Average True Range. True range needs the prior
// close, so the first bar only primes state and the first value lands on bar period+1.
type ATR struct {
	period    int
	smma      *SMMA
	prevClose float64
	seen      bool
	tr        float64
}

// NewATR creates an ATR with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "atr" }

func (a *ATR) Update(candle model.Candle) {
	if !a.seen {
		a.seen = true
		a.prevClose = candle.Close
		return
	}
	a.tr = TrueRange(candle, a.prevClose)
	a.prevClose = candle.Close
	a.smma.Add(a.tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }

// TrueRange returns max(high−low, |high−prevClose|, |low−prevClose|).
func TrueRange(c model.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATRValues returns ATR(period) for every bar.
func ATRValues(s *model.Series, period int) ([]model.NullFloat, error) {
	if err := checkPeriod("atr", period); err != nil {
		return nil, err
	}
	return fold(s, NewATR(period)), nil
}
