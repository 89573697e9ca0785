// Package signal derives named trading signals from a computed indicator set.
//
// Each Rule reads the indicator values at one bar (and the bar before it for
// transitions). A rule whose inputs are null reports null: unknown is never
// coerced to false.
package signal

import (
	"fmt"
	"math"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/model"
)

// Signal is one evaluated rule.
type Signal struct {
	Name   string                     `json:"name"`
	Value  model.NullBool             `json:"value"`
	Rule   string                     `json:"rule"`
	Inputs map[string]model.NullFloat `json:"inputs"`
}

// Rule is the interface every signal rule implements.
type Rule interface {
	// Name returns the signal name (e.g., "golden_cross").
	Name() string

	// Evaluate computes the signal at bar i of set.
	Evaluate(set *indicator.Set, i int) Signal
}

// Thresholds configures the rule set.
type Thresholds struct {
	RSIOversold     float64 `yaml:"rsi_oversold" json:"rsi_oversold"`
	RSIOverbought   float64 `yaml:"rsi_overbought" json:"rsi_overbought"`
	StochOversold   float64 `yaml:"stoch_oversold" json:"stoch_oversold"`
	StochOverbought float64 `yaml:"stoch_overbought" json:"stoch_overbought"`
	VolumeSurge     float64 `yaml:"volume_surge" json:"volume_surge"`
	FastMA          int     `yaml:"fast_ma" json:"fast_ma"`
	SlowMA          int     `yaml:"slow_ma" json:"slow_ma"`
}

// DefaultThresholds returns the standard rule settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOversold:     30,
		RSIOverbought:   70,
		StochOversold:   20,
		StochOverbought: 80,
		VolumeSurge:     2.0,
		FastMA:          50,
		SlowMA:          200,
	}
}

// Validate rejects unusable thresholds with ErrInvalidParameter.
func (t Thresholds) Validate() error {
	bounded := func(name string, v float64) error {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("%w: %s %v outside [0,100]", model.ErrInvalidParameter, name, v)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"rsi oversold", t.RSIOversold}, {"rsi overbought", t.RSIOverbought},
		{"stochastic oversold", t.StochOversold}, {"stochastic overbought", t.StochOverbought},
	} {
		if err := bounded(c.name, c.v); err != nil {
			return err
		}
	}
	if t.RSIOversold >= t.RSIOverbought {
		return fmt.Errorf("%w: rsi oversold %v must be below overbought %v", model.ErrInvalidParameter, t.RSIOversold, t.RSIOverbought)
	}
	if t.StochOversold >= t.StochOverbought {
		return fmt.Errorf("%w: stochastic oversold %v must be below overbought %v", model.ErrInvalidParameter, t.StochOversold, t.StochOverbought)
	}
	if math.IsNaN(t.VolumeSurge) || math.IsInf(t.VolumeSurge, 0) || t.VolumeSurge <= 0 {
		return fmt.Errorf("%w: volume surge multiple %v must be positive", model.ErrInvalidParameter, t.VolumeSurge)
	}
	if t.FastMA <= 0 || t.SlowMA > indicator.MaxPeriod || t.FastMA >= t.SlowMA {
		return fmt.Errorf("%w: moving-average cross periods %d/%d", model.ErrInvalidParameter, t.FastMA, t.SlowMA)
	}
	return nil
}

// Signal names.
const (
	Oversold              = "oversold"
	Overbought            = "overbought"
	MACDBullishCross      = "macd_bullish_cross"
	MACDBearishCross      = "macd_bearish_cross"
	BollingerBreakoutUp   = "bollinger_breakout_up"
	BollingerBreakoutDown = "bollinger_breakout_down"
	GoldenCross           = "golden_cross"
	DeathCross            = "death_cross"
	VolumeSurge           = "volume_surge"
	SupertrendBullish     = "supertrend_bullish"
	SupertrendBearish     = "supertrend_bearish"
	StochOversold         = "stoch_oversold"
	StochOverbought       = "stoch_overbought"
	MATrendBullish        = "ma_trend_bullish"
	T3Bullish             = "t3_bullish"
	T3Bearish             = "t3_bearish"
)

// Rules builds the standard rule set for t.
func Rules(t Thresholds) []Rule {
	fast, slow := indicator.SMAName(t.FastMA), indicator.SMAName(t.SlowMA)
	return []Rule{
		level{name: Oversold, field: indicator.RSIName, below: true, threshold: t.RSIOversold},
		level{name: Overbought, field: indicator.RSIName, threshold: t.RSIOverbought},
		cross{name: MACDBullishCross, a: indicator.MACDLine, b: indicator.MACDSignal, up: true},
		cross{name: MACDBearishCross, a: indicator.MACDLine, b: indicator.MACDSignal},
		cross{name: BollingerBreakoutUp, a: indicator.Close, b: indicator.BBUpper, up: true, lagB: 1},
		cross{name: BollingerBreakoutDown, a: indicator.Close, b: indicator.BBLower, lagB: 1},
		cross{name: GoldenCross, a: fast, b: slow, up: true},
		cross{name: DeathCross, a: fast, b: slow},
		level{name: VolumeSurge, field: indicator.RVol, threshold: t.VolumeSurge},
		level{name: SupertrendBullish, field: indicator.SupertrendDirection, threshold: 0},
		level{name: SupertrendBearish, field: indicator.SupertrendDirection, below: true, threshold: 0},
		level{name: StochOversold, field: indicator.StochK, below: true, threshold: t.StochOversold},
		level{name: StochOverbought, field: indicator.StochK, threshold: t.StochOverbought},
		compare{name: MATrendBullish, a: fast, b: slow},
		compare{name: T3Bullish, a: indicator.Close, b: indicator.T3Name},
		compare{name: T3Bearish, a: indicator.T3Name, b: indicator.Close},
	}
}

// Names lists the signal names produced by Rules, in evaluation order.
func Names() []string {
	rules := Rules(DefaultThresholds())
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name()
	}
	return out
}

// Result is the outcome of evaluating every rule at one bar.
type Result struct {
	Signals map[string]model.NullBool `json:"signals"`
	Details []Signal                  `json:"details"`
}

// Evaluator evaluates a fixed rule set.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator validates t and builds the standard rule set.
func NewEvaluator(t Thresholds) (*Evaluator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{rules: Rules(t)}, nil
}

// Evaluate runs every rule at the last bar of set.
func (e *Evaluator) Evaluate(set *indicator.Set) Result {
	return e.EvaluateAt(set, set.Bars-1)
}

// EvaluateAt runs every rule at bar i.
func (e *Evaluator) EvaluateAt(set *indicator.Set, i int) Result {
	res := Result{Signals: make(map[string]model.NullBool, len(e.rules)), Details: make([]Signal, 0, len(e.rules))}
	for _, r := range e.rules {
		s := r.Evaluate(set, i)
		res.Signals[s.Name] = s.Value
		res.Details = append(res.Details, s)
	}
	return res
}
