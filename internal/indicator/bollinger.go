package indicator

import (
	"fmt"
	"math"

	"analytics-enginev1/internal/model"
)

// Bollinger computes middle = SMA(n) and upper/lower = middle ± k·σ,
// σ being the population standard deviation of close over the same window.
type Bollinger struct {
	sma *SMA
	k   float64
}

// NewBollinger creates Bollinger Bands (typically 20, 2).
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), k: k}
}

func (b *Bollinger) Update(candle model.Candle) { b.sma.Add(candle.Close) }
func (b *Bollinger) Ready() bool                { return b.sma.Ready() }

// Bands returns upper, middle, lower.
func (b *Bollinger) Bands() (upper, middle, lower float64) {
	middle = b.sma.Value()
	dev := b.k * b.sma.StdDev()
	return middle + dev, middle, middle - dev
}

// BandsOutput holds the three aligned band series.
type BandsOutput struct {
	Upper  []model.NullFloat
	Middle []model.NullFloat
	Lower  []model.NullFloat
}

// BollingerValues computes Bollinger Bands for every bar.
func BollingerValues(s *model.Series, period int, k float64) (BandsOutput, error) {
	if err := checkPeriod("bollinger", period); err != nil {
		return BandsOutput{}, err
	}
	if err := checkMultiplier("bollinger k", k); err != nil {
		return BandsOutput{}, err
	}
	n := s.Len()
	out := BandsOutput{
		Upper:  make([]model.NullFloat, n),
		Middle: make([]model.NullFloat, n),
		Lower:  make([]model.NullFloat, n),
	}
	b := NewBollinger(period, k)
	for i, c := range s.Candles {
		b.Update(c)
		if b.Ready() {
			u, m, l := b.Bands()
			out.Upper[i], out.Middle[i], out.Lower[i] = model.Float(u), model.Float(m), model.Float(l)
		}
	}
	return out, nil
}

func checkMultiplier(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %s must be a positive finite number, got %v", model.ErrInvalidParameter, name, v)
	}
	return nil
}
