package indicator

import (
	"math"
	"strconv"

	"analytics-enginev1/internal/model"
)

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer; the window is also exposed for
// dispersion measures such as Bollinger Bands.
type SMA struct {
	name    string
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator over close with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		name:   "sma_" + strconv.Itoa(period),
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Update(candle model.Candle) { s.Add(candle.Close) }

// Add feeds a raw value.
func (s *SMA) Add(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		// Re-sum every full lap so rounding from the running sum cannot accumulate.
		if s.idx == 0 {
			s.sum = 0
			for _, x := range s.buf {
				s.sum += x
			}
		}
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// StdDev returns the population standard deviation of the current window.
func (s *SMA) StdDev() float64 {
	if !s.Ready() {
		return 0
	}
	mean := s.current
	var ss float64
	for _, x := range s.buf {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(s.period))
}

// SMAValues returns SMA(period) of close for every bar.
func SMAValues(s *model.Series, period int) ([]model.NullFloat, error) {
	if err := checkPeriod("sma", period); err != nil {
		return nil, err
	}
	return fold(s, NewSMA(period)), nil
}

