package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the bar interval of a series.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
)

// Timeframes lists every supported timeframe, shortest first.
var Timeframes = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d, TF1w, TF1M}

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
	TF1M:  30 * 24 * time.Hour,
}

var tfAliases = map[string]Timeframe{
	"1min": TF1m, "5min": TF5m, "15min": TF15m, "30min": TF30m,
	"60m": TF1h, "1hour": TF1h, "240m": TF4h, "4hour": TF4h,
	"1day": TF1d, "d": TF1d, "daily": TF1d,
	"1week": TF1w, "w": TF1w, "weekly": TF1w,
	"1mo": TF1M, "1month": TF1M, "monthly": TF1M,
}

// ParseTimeframe accepts canonical labels ("1h", "1d", "1M") and common aliases ("1min", "1day", "1W").
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	if tf := Timeframe(s); tf.Valid() {
		return tf, nil
	}
	lower := strings.ToLower(s)
	if tf := Timeframe(lower); tf.Valid() && tf != TF1m {
		return tf, nil
	}
	if tf, ok := tfAliases[lower]; ok {
		return tf, nil
	}
	return "", fmt.Errorf("%w: unknown timeframe %q", ErrInvalidParameter, s)
}

// ParseTimeframes parses a comma-separated list, e.g. "1h,4h,1d".
func ParseTimeframes(s string) ([]Timeframe, error) {
	var out []Timeframe
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tf, err := ParseTimeframe(part)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// Valid reports whether tf is one of the supported labels.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

// Duration returns the nominal bar length. Monthly bars are approximated as 30 days.
func (tf Timeframe) Duration() time.Duration { return tfDurations[tf] }

// Intraday reports whether bars are shorter than a trading day.
func (tf Timeframe) Intraday() bool {
	d, ok := tfDurations[tf]
	return ok && d < 24*time.Hour
}

func (tf Timeframe) String() string { return string(tf) }
