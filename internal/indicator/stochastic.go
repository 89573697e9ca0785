package indicator

import "analytics-enginev1/internal/model"

// Stochastic computes %K over kPeriod bars and %D = SMA(%K, dPeriod).
// %K is undefined when the window's high equals its low; %D is undefined
// while any %K in its window is undefined.
type Stochastic struct {
	kPeriod, dPeriod int
	highs, lows      []float64
	idx, count       int

	k      model.NullFloat
	kBuf   []model.NullFloat
	kIdx   int
	kCount int
}

// NewStochastic creates a Stochastic oscillator (typically 14, 3).
func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{
		kPeriod: kPeriod,
		dPeriod: dPeriod,
		highs:   make([]float64, kPeriod),
		lows:    make([]float64, kPeriod),
		kBuf:    make([]model.NullFloat, dPeriod),
	}
}

func (s *Stochastic) Update(candle model.Candle) {
	s.highs[s.idx] = candle.High
	s.lows[s.idx] = candle.Low
	s.idx = (s.idx + 1) % s.kPeriod
	s.count++
	if s.count < s.kPeriod {
		return
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.kPeriod; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}
	if hh > ll {
		s.k = model.Float(100 * (candle.Close - ll) / (hh - ll))
	} else {
		s.k = model.NullFloat{}
	}

	s.kBuf[s.kIdx] = s.k
	s.kIdx = (s.kIdx + 1) % s.dPeriod
	s.kCount++
}

// K returns the current %K.
func (s *Stochastic) K() model.NullFloat { return s.k }

// D returns the current %D.
func (s *Stochastic) D() model.NullFloat {
	if s.kCount < s.dPeriod {
		return model.NullFloat{}
	}
	var sum float64
	for _, v := range s.kBuf {
		if !v.Valid {
			return model.NullFloat{}
		}
		sum += v.Float64
	}
	return model.Float(sum / float64(s.dPeriod))
}

// StochasticOutput holds aligned %K and %D series.
type StochasticOutput struct {
	K []model.NullFloat
	D []model.NullFloat
}

// StochasticValues computes the oscillator for every bar.
func StochasticValues(s *model.Series, kPeriod, dPeriod int) (StochasticOutput, error) {
	if err := checkPeriod("stochastic k", kPeriod); err != nil {
		return StochasticOutput{}, err
	}
	if err := checkPeriod("stochastic d", dPeriod); err != nil {
		return StochasticOutput{}, err
	}
	n := s.Len()
	out := StochasticOutput{K: make([]model.NullFloat, n), D: make([]model.NullFloat, n)}
	st := NewStochastic(kPeriod, dPeriod)
	for i, c := range s.Candles {
		st.Update(c)
		out.K[i] = st.K()
		out.D[i] = st.D()
	}
	return out, nil
}
