package scanner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/signal"
)

// aliases maps accepted spellings (lower-cased) onto catalogue names.
var aliases = map[string]string{
	"price":           indicator.Close,
	"last":            indicator.Close,
	"macd":            indicator.MACDHist,
	"macd.macd":       indicator.MACDLine,
	"macd.signal":     indicator.MACDSignal,
	"macd.hist":       indicator.MACDHist,
	"rsi14":           indicator.RSIName,
	"bb.upper":        indicator.BBUpper,
	"bb.middle":       indicator.BBMiddle,
	"bb.lower":        indicator.BBLower,
	"stoch.k":         indicator.StochK,
	"stoch.d":         indicator.StochD,
	"relative_volume": indicator.RVol,
	"supertrend_dir":  indicator.SupertrendDirection,
}

var fixed = func() map[string]bool {
	m := map[string]bool{}
	for name := range indicator.DefaultParams().Lookbacks() {
		if _, ok := movingAverage(name); !ok {
			m[name] = true
		}
	}
	for _, name := range signal.Names() {
		m[name] = true
	}
	return m
}()

// movingAverage parses sma_N / ema_N (also smaN / emaN) with 1 <= N <= MaxPeriod.
func movingAverage(name string) (string, bool) {
	for _, kind := range []string{"sma", "ema"} {
		if !strings.HasPrefix(name, kind) {
			continue
		}
		digits := strings.TrimPrefix(strings.TrimPrefix(name, kind), "_")
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || n > indicator.MaxPeriod || digits != strconv.Itoa(n) {
			return "", false
		}
		if kind == "sma" {
			return indicator.SMAName(n), true
		}
		return indicator.EMAName(n), true
	}
	return "", false
}

// Canonical resolves a user-supplied field name to its catalogue name.
func Canonical(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[key]; ok {
		return c, true
	}
	if fixed[key] {
		return key, true
	}
	return movingAverage(key)
}

// Compile canonicalizes every field of e in place. It fails with
// ErrUnknownField naming all unknown fields at once.
func Compile(e Expr) (Expr, error) {
	var unknown []string
	seen := map[string]bool{}
	fix := func(o *Operand) {
		if !o.IsField() {
			return
		}
		c, ok := Canonical(o.Field)
		if !ok {
			if !seen[o.Field] {
				seen[o.Field] = true
				unknown = append(unknown, o.Field)
			}
			return
		}
		o.Field = c
	}
	e.walk(func(c *Comparison) {
		fix(&c.Left)
		fix(&c.Right)
	})
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownField, strings.Join(unknown, ", "))
	}
	return e, nil
}

// MovingAverages returns the SMA and EMA periods a compiled expression reads.
func MovingAverages(e Expr) (sma, ema []int) {
	for _, f := range Fields(e) {
		var n int
		if _, err := fmt.Sscanf(f, "sma_%d", &n); err == nil {
			sma = append(sma, n)
		} else if _, err := fmt.Sscanf(f, "ema_%d", &n); err == nil {
			ema = append(ema, n)
		}
	}
	return sma, ema
}

// FieldInfo documents one scannable field.
type FieldInfo struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Catalogue lists the scannable fields for help output.
func Catalogue() []FieldInfo {
	out := []FieldInfo{
		{indicator.Open, "price", "bar open"},
		{indicator.High, "price", "bar high"},
		{indicator.Low, "price", "bar low"},
		{indicator.Close, "price", "bar close (alias: price)"},
		{indicator.Change, "price", "percent change versus the previous close"},
		{indicator.Volume, "volume", "bar volume"},
		{indicator.RVol, "volume", "volume / mean of the previous 20 volumes"},
		{indicator.OBVName, "volume", "on-balance volume"},
		{indicator.VWAPName, "volume", "session volume-weighted average price"},
		{indicator.RSIName, "momentum", "RSI(14), Wilder smoothing (alias: RSI)"},
		{indicator.MACDLine, "momentum", "MACD line 12/26"},
		{indicator.MACDSignal, "momentum", "MACD signal 9"},
		{indicator.MACDHist, "momentum", "MACD histogram (alias: macd)"},
		{indicator.StochK, "momentum", "stochastic %K(14)"},
		{indicator.StochD, "momentum", "stochastic %D(3)"},
		{indicator.BBUpper, "volatility", "Bollinger upper band (20, 2)"},
		{indicator.BBMiddle, "volatility", "Bollinger middle band"},
		{indicator.BBLower, "volatility", "Bollinger lower band"},
		{indicator.ATRName, "volatility", "ATR(14)"},
		{indicator.SupertrendName, "trend", "Supertrend(10, 3) line"},
		{indicator.SupertrendDirection, "trend", "1 up, -1 down (alias: supertrend_dir)"},
		{indicator.T3Name, "trend", "Tilson T3(5, 0.7)"},
		{"sma_N", "moving_averages", "simple moving average of close, 1 <= N <= 1000"},
		{"ema_N", "moving_averages", "exponential moving average of close, 1 <= N <= 1000"},
	}
	names := signal.Names()
	sort.Strings(names)
	for _, name := range names {
		out = append(out, FieldInfo{name, "signal", "1 when the signal fires, 0 when not, null when unknown"})
	}
	return out
}
