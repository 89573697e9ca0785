package scanner

import (
	"fmt"
	"sort"

	"analytics-enginev1/internal/model"
)

// Preset is a named, ready-made filter.
type Preset struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Condition   string `json:"condition"`
	// RankBy overrides margin ranking with a field value, descending.
	RankBy string `json:"rank_by,omitempty"`
}

var presets = []Preset{
	{"oversold", "reversal", "RSI in oversold territory (<30)", "rsi < 30", ""},
	{"oversold_moderate", "reversal", "RSI moderately oversold (<40)", "rsi < 40", ""},
	{"overbought", "reversal", "RSI in overbought territory (>70)", "rsi > 70", ""},
	{"oversold_high_volume", "reversal", "oversold on heavy volume", "rsi < 40 and volume > 1000000", ""},
	{"bb_overbought_sell", "reversal", "close above the upper band with RSI overbought", "close > bb_upper and rsi > 70", ""},
	{"bb_oversold_buy", "reversal", "close below the lower band with RSI oversold", "close < bb_lower and rsi < 30", ""},
	{"bullish_momentum", "momentum", "RSI above 50 with positive MACD histogram", "rsi > 50 and macd > 0", ""},
	{"bearish_momentum", "momentum", "RSI below 50 with negative MACD histogram", "rsi < 50 and macd < 0", ""},
	{"big_gainers", "momentum", "up more than 3% on the bar", "change > 3", "change"},
	{"big_losers", "momentum", "down more than 3% on the bar", "change < -3", ""},
	{"momentum_breakout", "momentum", "up more than 2% on volume above 5M", "change > 2 and volume > 5000000", "change"},
	{"ma_squeeze_momentum", "momentum", "close above a rising short average stack", "close > sma_20 and sma_20 > sma_50 and rsi > 50", ""},
	{"macd_positive", "trend", "MACD histogram above zero", "macd > 0", ""},
	{"macd_negative", "trend", "MACD histogram below zero", "macd < 0", ""},
	{"golden_cross", "trend", "SMA(50) crossed above SMA(200) on the last bar", "golden_cross == 1", ""},
	{"death_cross", "trend", "SMA(50) crossed below SMA(200) on the last bar", "death_cross == 1", ""},
	{"macd_bullish_cross", "trend", "MACD line crossed above its signal", "macd_bullish_cross == 1", "macd_hist"},
	{"macd_bearish_cross", "trend", "MACD line crossed below its signal", "macd_bearish_cross == 1", ""},
	{"supertrend_bullish", "supertrend", "Supertrend direction up", "supertrend_direction == 1", ""},
	{"supertrend_bearish", "supertrend", "Supertrend direction down", "supertrend_direction == -1", ""},
	{"supertrend_bullish_oversold", "supertrend", "Supertrend up with RSI below 40", "supertrend_direction == 1 and rsi < 40", ""},
	{"t3_bullish", "t3", "close above Tilson T3", "close > t3", ""},
	{"t3_bearish", "t3", "close below Tilson T3", "close < t3", ""},
	{"t3_bullish_momentum", "t3", "close above T3 with RSI above 50", "close > t3 and rsi > 50", ""},
	{"bollinger_breakout_up", "volatility", "close broke above the prior upper band", "bollinger_breakout_up == 1", "rvol"},
	{"bollinger_breakout_down", "volatility", "close broke below the prior lower band", "bollinger_breakout_down == 1", "rvol"},
	{"high_volume", "volume", "volume above 10M", "volume > 10000000", "volume"},
	{"volume_surge", "volume", "volume above twice its 20-bar average", "volume_surge == 1", "rvol"},
}

var presetIndex = func() map[string]int {
	m := make(map[string]int, len(presets))
	for i, p := range presets {
		m[p.Name] = i
	}
	return m
}()

// Presets returns the preset catalogue sorted by category then name.
func Presets() []Preset {
	out := append([]Preset(nil), presets...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// LookupPreset returns the named preset or ErrInvalidParameter.
func LookupPreset(name string) (Preset, error) {
	i, ok := presetIndex[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: unknown preset %q", model.ErrInvalidParameter, name)
	}
	return presets[i], nil
}

// Filter is a compiled scan predicate plus its ranking rule.
type Filter struct {
	Expr   Expr
	RankBy string
	Source string
}

// FromPreset compiles the named preset.
func FromPreset(name string) (*Filter, error) {
	p, err := LookupPreset(name)
	if err != nil {
		return nil, err
	}
	f, err := FromString(p.Condition)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	f.RankBy = p.RankBy
	f.Source = "preset:" + name
	return f, nil
}

// FromString parses and compiles an infix expression.
func FromString(src string) (*Filter, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if e, err = Compile(e); err != nil {
		return nil, err
	}
	return &Filter{Expr: e, Source: src}, nil
}

// FromTokens parses and compiles a JSON token-list filter.
func FromTokens(raw []byte) (*Filter, error) {
	e, err := ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	if e, err = Compile(e); err != nil {
		return nil, err
	}
	return &Filter{Expr: e, Source: e.String()}, nil
}
