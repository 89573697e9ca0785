package indicator

import (
	"fmt"
	"sort"
	"strconv"

	"analytics-enginev1/internal/markethours"
	"analytics-enginev1/internal/model"
)

// Catalogue names. Moving averages are named sma_N / ema_N.
const (
	Open                = "open"
	High                = "high"
	Low                 = "low"
	Close               = "close"
	Volume              = "volume"
	Change              = "change"
	RSIName             = "rsi"
	MACDLine            = "macd_line"
	MACDSignal          = "macd_signal"
	MACDHist            = "macd_hist"
	BBUpper             = "bb_upper"
	BBMiddle            = "bb_middle"
	BBLower             = "bb_lower"
	ATRName             = "atr"
	StochK              = "stoch_k"
	StochD              = "stoch_d"
	OBVName             = "obv"
	VWAPName            = "vwap"
	RVol                = "rvol"
	SupertrendName      = "supertrend"
	SupertrendDirection = "supertrend_direction"
	T3Name              = "t3"
)

// PassThrough lists the raw price fields that exist from the first bar.
var PassThrough = []string{Open, High, Low, Close, Volume}

// SMAName returns the catalogue name of SMA(period).
func SMAName(period int) string { return "sma_" + strconv.Itoa(period) }

// EMAName returns the catalogue name of EMA(period).
func EMAName(period int) string { return "ema_" + strconv.Itoa(period) }

// Params configures the catalogue computed by Compute.
type Params struct {
	SMAPeriods           []int               `yaml:"sma_periods" json:"sma_periods"`
	EMAPeriods           []int               `yaml:"ema_periods" json:"ema_periods"`
	RSIPeriod            int                 `yaml:"rsi_period" json:"rsi_period"`
	MACDFast             int                 `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow             int                 `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal           int                 `yaml:"macd_signal" json:"macd_signal"`
	BBPeriod             int                 `yaml:"bb_period" json:"bb_period"`
	BBK                  float64             `yaml:"bb_k" json:"bb_k"`
	ATRPeriod            int                 `yaml:"atr_period" json:"atr_period"`
	StochK               int                 `yaml:"stoch_k" json:"stoch_k"`
	StochD               int                 `yaml:"stoch_d" json:"stoch_d"`
	RVolPeriod           int                 `yaml:"rvol_period" json:"rvol_period"`
	SupertrendPeriod     int                 `yaml:"supertrend_period" json:"supertrend_period"`
	SupertrendMultiplier float64             `yaml:"supertrend_multiplier" json:"supertrend_multiplier"`
	T3Period             int                 `yaml:"t3_period" json:"t3_period"`
	T3VFactor            float64             `yaml:"t3_vfactor" json:"t3_vfactor"`
	Session              markethours.Session `yaml:"-" json:"-"`
}

// DefaultParams returns the standard catalogue settings.
func DefaultParams() Params {
	return Params{
		SMAPeriods:           []int{20, 50, 200},
		EMAPeriods:           []int{12, 20, 26},
		RSIPeriod:            14,
		MACDFast:             12,
		MACDSlow:             26,
		MACDSignal:           9,
		BBPeriod:             20,
		BBK:                  2,
		ATRPeriod:            14,
		StochK:               14,
		StochD:               3,
		RVolPeriod:           20,
		SupertrendPeriod:     10,
		SupertrendMultiplier: 3,
		T3Period:             5,
		T3VFactor:            0.7,
		Session:              markethours.UTCMidnight,
	}
}

// Validate rejects unusable parameters with ErrInvalidParameter.
func (p Params) Validate() error {
	for _, n := range p.SMAPeriods {
		if err := checkPeriod("sma", n); err != nil {
			return err
		}
	}
	for _, n := range p.EMAPeriods {
		if err := checkPeriod("ema", n); err != nil {
			return err
		}
	}
	for _, c := range []struct {
		name string
		v    int
	}{
		{"rsi", p.RSIPeriod}, {"macd fast", p.MACDFast}, {"macd slow", p.MACDSlow},
		{"macd signal", p.MACDSignal}, {"bollinger", p.BBPeriod}, {"atr", p.ATRPeriod},
		{"stochastic k", p.StochK}, {"stochastic d", p.StochD}, {"rvol", p.RVolPeriod},
		{"supertrend", p.SupertrendPeriod}, {"t3", p.T3Period},
	} {
		if err := checkPeriod(c.name, c.v); err != nil {
			return err
		}
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("%w: macd fast period %d must be below slow %d", model.ErrInvalidParameter, p.MACDFast, p.MACDSlow)
	}
	if err := checkMultiplier("bollinger k", p.BBK); err != nil {
		return err
	}
	if err := checkMultiplier("supertrend multiplier", p.SupertrendMultiplier); err != nil {
		return err
	}
	if !(p.T3VFactor > 0 && p.T3VFactor <= 1) {
		return fmt.Errorf("%w: t3 volume factor %v outside (0,1]", model.ErrInvalidParameter, p.T3VFactor)
	}
	return nil
}

// WithMovingAverages returns a copy of p that also computes the given periods.
func (p Params) WithMovingAverages(sma, ema []int) Params {
	p.SMAPeriods = mergePeriods(p.SMAPeriods, sma)
	p.EMAPeriods = mergePeriods(p.EMAPeriods, ema)
	return p
}

func mergePeriods(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, list := range [][]int{a, b} {
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Lookbacks returns the documented minimum bar count of every catalogue name.
func (p Params) Lookbacks() map[string]int {
	lb := map[string]int{
		Open: 1, High: 1, Low: 1, Close: 1, Volume: 1,
		Change:              2,
		RSIName:             p.RSIPeriod + 1,
		MACDLine:            p.MACDSlow,
		MACDSignal:          p.MACDSlow + p.MACDSignal - 1,
		MACDHist:            p.MACDSlow + p.MACDSignal - 1,
		BBUpper:             p.BBPeriod,
		BBMiddle:            p.BBPeriod,
		BBLower:             p.BBPeriod,
		ATRName:             p.ATRPeriod + 1,
		StochK:              p.StochK,
		StochD:              p.StochK + p.StochD - 1,
		OBVName:             1,
		VWAPName:            1,
		RVol:                p.RVolPeriod + 1,
		SupertrendName:      p.SupertrendPeriod + 1,
		SupertrendDirection: p.SupertrendPeriod + 1,
		T3Name:              T3Lookback(p.T3Period),
	}
	for _, n := range p.SMAPeriods {
		lb[SMAName(n)] = n
	}
	for _, n := range p.EMAPeriods {
		lb[EMAName(n)] = n
	}
	return lb
}

// Set is the computed catalogue for one series: an aligned series per name,
// the last-bar values and each name's lookback.
type Set struct {
	Bars         int                        `json:"bars"`
	Values       map[string]model.NullFloat `json:"values"`
	Lookback     map[string]int             `json:"lookback"`
	Insufficient []string                   `json:"insufficient,omitempty"`

	series map[string][]model.NullFloat
}

// NewSet returns an empty set for a series of the given length.
func NewSet(bars int) *Set {
	return &Set{
		Bars:     bars,
		Values:   make(map[string]model.NullFloat),
		Lookback: make(map[string]int),
		series:   make(map[string][]model.NullFloat),
	}
}

// Put stores an aligned series under name.
func (s *Set) Put(name string, vals []model.NullFloat, lookback int) {
	s.series[name] = vals
	s.Values[name] = Last(vals)
	s.Lookback[name] = lookback
}

// Has reports whether name was computed.
func (s *Set) Has(name string) bool {
	_, ok := s.series[name]
	return ok
}

// Series returns the aligned series for name, or nil.
func (s *Set) Series(name string) []model.NullFloat { return s.series[name] }

// Value returns the last-bar value of name; null when absent.
func (s *Set) Value(name string) model.NullFloat { return s.Values[name] }

// At returns the value of name at bar i; null when absent or out of range.
func (s *Set) At(name string, i int) model.NullFloat {
	vals := s.series[name]
	if i < 0 || i >= len(vals) {
		return model.NullFloat{}
	}
	return vals[i]
}

// Names returns every computed name in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.series))
	for name := range s.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compute runs the whole catalogue over series in one forward pass per indicator.
// A series shorter than an indicator's lookback leaves that indicator null;
// fewer than 2 bars leaves everything but the raw price fields null.
func Compute(series *model.Series, p Params) (*Set, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := series.Len()
	set := NewSet(n)
	lb := p.Lookbacks()

	raw := map[string][]model.NullFloat{}
	for _, name := range PassThrough {
		raw[name] = make([]model.NullFloat, n)
	}
	change := make([]model.NullFloat, n)
	for i, c := range series.Candles {
		raw[Open][i] = model.Float(c.Open)
		raw[High][i] = model.Float(c.High)
		raw[Low][i] = model.Float(c.Low)
		raw[Close][i] = model.Float(c.Close)
		raw[Volume][i] = model.Float(c.Volume)
		if i > 0 {
			prev := series.Candles[i-1].Close
			change[i] = model.Float((c.Close - prev) / prev * 100)
		}
	}
	for _, name := range PassThrough {
		set.Put(name, raw[name], lb[name])
	}

	derived := map[string][]model.NullFloat{Change: change}
	for _, period := range p.SMAPeriods {
		derived[SMAName(period)] = fold(series, NewSMA(period))
	}
	for _, period := range p.EMAPeriods {
		derived[EMAName(period)] = fold(series, NewEMA(period))
	}
	derived[RSIName] = fold(series, NewRSI(p.RSIPeriod))

	macd, err := MACDValues(series, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if err != nil {
		return nil, err
	}
	derived[MACDLine], derived[MACDSignal], derived[MACDHist] = macd.Line, macd.Signal, macd.Histogram

	bb, err := BollingerValues(series, p.BBPeriod, p.BBK)
	if err != nil {
		return nil, err
	}
	derived[BBUpper], derived[BBMiddle], derived[BBLower] = bb.Upper, bb.Middle, bb.Lower

	derived[ATRName] = fold(series, NewATR(p.ATRPeriod))

	stoch, err := StochasticValues(series, p.StochK, p.StochD)
	if err != nil {
		return nil, err
	}
	derived[StochK], derived[StochD] = stoch.K, stoch.D

	derived[OBVName] = OBVValues(series)
	derived[VWAPName] = VWAPValues(series, p.Session)
	derived[RVol] = fold(series, NewRelativeVolume(p.RVolPeriod))

	st, err := SupertrendValues(series, p.SupertrendPeriod, p.SupertrendMultiplier)
	if err != nil {
		return nil, err
	}
	derived[SupertrendName], derived[SupertrendDirection] = st.Line, st.Direction

	t3, err := T3Values(series, p.T3Period, p.T3VFactor)
	if err != nil {
		return nil, err
	}
	derived[T3Name] = t3

	for name, vals := range derived {
		if n < 2 {
			vals = make([]model.NullFloat, n)
		}
		set.Put(name, vals, lb[name])
		if n < 2 || n < lb[name] {
			set.Insufficient = append(set.Insufficient, name)
		}
	}
	sort.Strings(set.Insufficient)
	return set, nil
}
