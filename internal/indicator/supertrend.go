package indicator

import (
	"encoding/json"

	"analytics-enginev1/internal/model"
)

// Direction is the Supertrend trend direction.
type Direction int8

const (
	Down Direction = -1
	Up   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "none"
}

func (d Direction) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// TrendState is the accumulator carried bar to bar: the active direction and
// the band currently acting as the trailing stop.
type TrendState struct {
	Direction Direction `json:"direction"`
	Band      float64   `json:"band"`
}

// Supertrend folds a TrendState over ATR-based bands.
// Bands are (high+low)/2 ± multiplier·ATR with the usual final-band carry:
// the lower band never falls while the trend holds above it and the upper
// band never rises while price stays below it.
type Supertrend struct {
	atr        *ATR
	multiplier float64

	started      bool
	upper, lower float64
	prevClose    float64
	state        TrendState
}

// NewSupertrend creates a Supertrend (typically 10, 3).
func NewSupertrend(period int, multiplier float64) *Supertrend {
	return &Supertrend{atr: NewATR(period), multiplier: multiplier}
}

func (s *Supertrend) Name() string { return "supertrend" }

func (s *Supertrend) Update(candle model.Candle) {
	s.atr.Update(candle)
	if !s.atr.Ready() {
		s.prevClose = candle.Close
		return
	}

	mid := candle.MidPrice()
	basicUpper := mid + s.multiplier*s.atr.Value()
	basicLower := mid - s.multiplier*s.atr.Value()

	if !s.started {
		s.started = true
		s.upper, s.lower = basicUpper, basicLower
		s.state = TrendState{Direction: Up, Band: s.lower}
		s.prevClose = candle.Close
		return
	}

	prevUpper, prevLower := s.upper, s.lower
	if basicUpper < prevUpper || s.prevClose > prevUpper {
		s.upper = basicUpper
	}
	if basicLower > prevLower || s.prevClose < prevLower {
		s.lower = basicLower
	}

	switch s.state.Direction {
	case Up:
		if candle.Close < prevLower {
			s.state.Direction = Down
		}
	case Down:
		if candle.Close > prevUpper {
			s.state.Direction = Up
		}
	}
	if s.state.Direction == Up {
		s.state.Band = s.lower
	} else {
		s.state.Band = s.upper
	}
	s.prevClose = candle.Close
}

func (s *Supertrend) Value() float64 { return s.state.Band }
func (s *Supertrend) Ready() bool    { return s.started }

// State returns the current trend state.
func (s *Supertrend) State() TrendState { return s.state }

// SupertrendOutput holds the aligned band and direction series.
// Direction is encoded +1 (up) / −1 (down).
type SupertrendOutput struct {
	Line      []model.NullFloat
	Direction []model.NullFloat
}

// SupertrendValues computes Supertrend(period, multiplier) for every bar.
func SupertrendValues(s *model.Series, period int, multiplier float64) (SupertrendOutput, error) {
	if err := checkPeriod("supertrend", period); err != nil {
		return SupertrendOutput{}, err
	}
	if err := checkMultiplier("supertrend multiplier", multiplier); err != nil {
		return SupertrendOutput{}, err
	}
	n := s.Len()
	out := SupertrendOutput{Line: make([]model.NullFloat, n), Direction: make([]model.NullFloat, n)}
	st := NewSupertrend(period, multiplier)
	for i, c := range s.Candles {
		st.Update(c)
		if st.Ready() {
			state := st.State()
			out.Line[i] = model.Float(state.Band)
			out.Direction[i] = model.Float(float64(state.Direction))
		}
	}
	return out, nil
}
