package model

import (
	"fmt"
	"math"
	"time"
)

// Candle is one OHLCV bar. Prices are positive finite reals, volume is non-negative.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks the OHLC invariant low <= min(open, close) <= max(open, close) <= high.
// Violations are reported, never corrected.
func (c Candle) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return fmt.Errorf("%w: %s=%v is not a positive finite price", ErrMalformedCandle, f.name, f.v)
		}
	}
	if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) || c.Volume < 0 {
		return fmt.Errorf("%w: volume=%v", ErrMalformedCandle, c.Volume)
	}
	if c.Low > math.Min(c.Open, c.Close) || math.Max(c.Open, c.Close) > c.High {
		return fmt.Errorf("%w: low=%v open=%v close=%v high=%v", ErrMalformedCandle, c.Low, c.Open, c.Close, c.High)
	}
	return nil
}

// TypicalPrice returns (high+low+close)/3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// MidPrice returns (high+low)/2.
func (c Candle) MidPrice() float64 {
	return (c.High + c.Low) / 2
}

// Series is an ordered, validated sequence of candles for one (instrument, timeframe).
// A Series is never mutated after NewSeries returns it.
type Series struct {
	Instrument string    `json:"instrument"`
	Timeframe  Timeframe `json:"timeframe"`
	Candles    []Candle  `json:"candles"`
}

// NewSeries validates every candle and the strictly increasing timestamp order.
// The candle slice is copied.
func NewSeries(instrument string, tf Timeframe, candles []Candle) (*Series, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidParameter, tf)
	}
	cs := make([]Candle, len(candles))
	copy(cs, candles)
	for i := range cs {
		if err := cs[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s %s bar %d: %w", instrument, tf, i, err)
		}
		if i > 0 && !cs[i].Time.After(cs[i-1].Time) {
			return nil, fmt.Errorf("%w: %s %s bar %d timestamp %s not after %s", ErrMalformedCandle,
				instrument, tf, i, cs[i].Time.Format(time.RFC3339), cs[i-1].Time.Format(time.RFC3339))
		}
	}
	return &Series{Instrument: instrument, Timeframe: tf, Candles: cs}, nil
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Candles) }

// Last returns the final bar. ok is false for an empty series.
func (s *Series) Last() (c Candle, ok bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Truncate returns a series holding the first k bars. The backing array is shared.
func (s *Series) Truncate(k int) *Series {
	if k > len(s.Candles) {
		k = len(s.Candles)
	}
	if k < 0 {
		k = 0
	}
	return &Series{Instrument: s.Instrument, Timeframe: s.Timeframe, Candles: s.Candles[:k:k]}
}
