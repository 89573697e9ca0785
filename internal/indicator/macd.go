package indicator

import (
	"fmt"

	"analytics-enginev1/internal/model"
)

// MACD tracks EMA(fast) − EMA(slow) and its EMA(signal).
// The line is defined once the slow EMA is seeded; the signal EMA is seeded
// with the SMA of the first signal-period line values.
type MACD struct {
	fast, slow *EMA
	signal     *EMA
	line       float64
}

// NewMACD creates a MACD with the given periods (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

func (m *MACD) Update(candle model.Candle) {
	m.fast.Add(candle.Close)
	m.slow.Add(candle.Close)
	if m.fast.Ready() && m.slow.Ready() {
		m.line = m.fast.Value() - m.slow.Value()
		m.signal.Add(m.line)
	}
}

// LineReady reports whether Line is defined.
func (m *MACD) LineReady() bool { return m.fast.Ready() && m.slow.Ready() }

// SignalReady reports whether Signal and Histogram are defined.
func (m *MACD) SignalReady() bool { return m.signal.Ready() }

func (m *MACD) Line() float64   { return m.line }
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Histogram returns Line − Signal.
func (m *MACD) Histogram() float64 { return m.line - m.signal.Value() }

// MACDOutput holds the three aligned MACD series.
type MACDOutput struct {
	Line      []model.NullFloat
	Signal    []model.NullFloat
	Histogram []model.NullFloat
}

// MACDValues computes MACD(fast, slow, signal) for every bar.
func MACDValues(s *model.Series, fast, slow, signal int) (MACDOutput, error) {
	for _, p := range []struct {
		name string
		v    int
	}{{"macd fast", fast}, {"macd slow", slow}, {"macd signal", signal}} {
		if err := checkPeriod(p.name, p.v); err != nil {
			return MACDOutput{}, err
		}
	}
	if fast >= slow {
		return MACDOutput{}, fmt.Errorf("%w: macd fast period %d must be below slow %d", model.ErrInvalidParameter, fast, slow)
	}

	n := s.Len()
	out := MACDOutput{
		Line:      make([]model.NullFloat, n),
		Signal:    make([]model.NullFloat, n),
		Histogram: make([]model.NullFloat, n),
	}
	m := NewMACD(fast, slow, signal)
	for i, c := range s.Candles {
		m.Update(c)
		if m.LineReady() {
			out.Line[i] = model.Float(m.Line())
		}
		if m.SignalReady() {
			out.Signal[i] = model.Float(m.Signal())
			out.Histogram[i] = model.Float(m.Histogram())
		}
	}
	return out, nil
}
