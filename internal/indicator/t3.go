package indicator

import (
	"fmt"

	"analytics-enginev1/internal/model"
)

// T3 is Tilson's T3: six chained EMAs of close combined as
// c1·e6 + c2·e5 + c3·e4 + c4·e3 with coefficients from the volume factor.
type T3 struct {
	emas           [6]*EMA
	c1, c2, c3, c4 float64
}

// NewT3 creates a T3 (typically period 5, volume factor 0.7).
func NewT3(period int, vFactor float64) *T3 {
	t := &T3{}
	for i := range t.emas {
		t.emas[i] = NewEMA(period)
	}
	a := vFactor
	a2, a3 := a*a, a*a*a
	t.c1 = -a3
	t.c2 = 3*a2 + 3*a3
	t.c3 = -6*a2 - 3*a - 3*a3
	t.c4 = 1 + 3*a + a3 + 3*a2
	return t
}

func (t *T3) Name() string { return "t3" }

func (t *T3) Update(candle model.Candle) {
	v := candle.Close
	for _, e := range t.emas {
		e.Add(v)
		if !e.Ready() {
			return
		}
		v = e.Value()
	}
}

func (t *T3) Value() float64 {
	return t.c1*t.emas[5].Value() + t.c2*t.emas[4].Value() + t.c3*t.emas[3].Value() + t.c4*t.emas[2].Value()
}

func (t *T3) Ready() bool { return t.emas[5].Ready() }

// T3Lookback returns the bars needed before the first T3 value.
func T3Lookback(period int) int { return 6*(period-1) + 1 }

// T3Values computes T3(period, vFactor) for every bar.
func T3Values(s *model.Series, period int, vFactor float64) ([]model.NullFloat, error) {
	if err := checkPeriod("t3", period); err != nil {
		return nil, err
	}
	if !(vFactor > 0 && vFactor <= 1) {
		return nil, fmt.Errorf("%w: t3 volume factor %v outside (0,1]", model.ErrInvalidParameter, vFactor)
	}
	return fold(s, NewT3(period, vFactor)), nil
}
