// Package levels computes key price levels from raw candles: classic pivot
// points from the prior completed bar and dynamic support/resistance from
// clustered local extrema.
package levels

import (
	"fmt"
	"math"
	"sort"
	"time"

	"analytics-enginev1/internal/model"
)

// Pivots are the classic floor-trader levels.
type Pivots struct {
	P  float64 `json:"p"`
	R1 float64 `json:"r1"`
	R2 float64 `json:"r2"`
	R3 float64 `json:"r3"`
	S1 float64 `json:"s1"`
	S2 float64 `json:"s2"`
	S3 float64 `json:"s3"`
}

// PivotsFrom derives pivots from a period's high, low and close.
func PivotsFrom(h, l, c float64) Pivots {
	p := (h + l + c) / 3
	return Pivots{
		P:  p,
		R1: 2*p - l,
		S1: 2*p - h,
		R2: p + (h - l),
		S2: p - (h - l),
		R3: h + 2*(p-l),
		S3: l - 2*(h-p),
	}
}

// Kind tells whether a dynamic level sits below (support) or above (resistance) the last close.
type Kind string

const (
	Support    Kind = "support"
	Resistance Kind = "resistance"
)

// Level is one clustered reversal zone.
type Level struct {
	Price     float64   `json:"price"`
	Kind      Kind      `json:"kind"`
	Touches   int       `json:"touches"`
	LastIndex int       `json:"last_index"`
	LastTime  time.Time `json:"last_time"`
}

// Placement of the last close relative to the pivot point.
const (
	AbovePivot = "above"
	BelowPivot = "below"
	AtPivot    = "at"
)

// atPivotBand is the relative distance from P still reported as AtPivot.
const atPivotBand = 0.002

// Nearby is the closest pivot level on one side of the last close.
type Nearby struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	DistancePct float64 `json:"distance_pct"`
}

// Position places the last close within the pivot ladder.
type Position struct {
	Close      float64 `json:"close"`
	Placement  string  `json:"placement"`
	Resistance *Nearby `json:"nearest_resistance"`
	Support    *Nearby `json:"nearest_support"`
}

// Locate places price within p. Resistance is the lowest of R1..R3 above
// price and Support the highest of S1..S3 below it; either is nil when no
// level lies on that side. Distances are percentages of price.
func (p Pivots) Locate(price float64) Position {
	pos := Position{Close: price, Placement: BelowPivot}
	switch {
	case p.P != 0 && math.Abs(price-p.P)/math.Abs(p.P) < atPivotBand:
		pos.Placement = AtPivot
	case price > p.P:
		pos.Placement = AbovePivot
	}

	for _, r := range []Nearby{{Name: "r1", Price: p.R1}, {Name: "r2", Price: p.R2}, {Name: "r3", Price: p.R3}} {
		if r.Price > price && (pos.Resistance == nil || r.Price < pos.Resistance.Price) {
			r := r
			pos.Resistance = &r
		}
	}
	for _, s := range []Nearby{{Name: "s1", Price: p.S1}, {Name: "s2", Price: p.S2}, {Name: "s3", Price: p.S3}} {
		if s.Price < price && (pos.Support == nil || s.Price > pos.Support.Price) {
			s := s
			pos.Support = &s
		}
	}
	if price != 0 {
		if pos.Resistance != nil {
			pos.Resistance.DistancePct = (pos.Resistance.Price - price) / price * 100
		}
		if pos.Support != nil {
			pos.Support.DistancePct = (price - pos.Support.Price) / price * 100
		}
	}
	return pos
}

// Set is the level output for one series.
type Set struct {
	Pivots   *Pivots   `json:"pivots"`
	Position *Position `json:"position"`
	Dynamic  []Level   `json:"dynamic"`
}

// Config tunes dynamic support/resistance detection.
type Config struct {
	// Window is the number of trailing bars scanned for extrema.
	Window int `yaml:"window" json:"window"`
	// Radius is the half-width of the neighborhood a local extremum must dominate.
	Radius int `yaml:"radius" json:"radius"`
	// TolerancePct merges extrema whose prices differ by at most this percentage of the last close.
	TolerancePct float64 `yaml:"tolerance_pct" json:"tolerance_pct"`
	// MaxLevels caps the levels reported per kind.
	MaxLevels int `yaml:"max_levels" json:"max_levels"`
}

// DefaultConfig returns the standard detection settings.
func DefaultConfig() Config {
	return Config{Window: 50, Radius: 2, TolerancePct: 0.5, MaxLevels: 5}
}

// Validate rejects unusable settings with ErrInvalidParameter.
func (c Config) Validate() error {
	switch {
	case c.Window < 3:
		return fmt.Errorf("%w: levels window %d must be at least 3", model.ErrInvalidParameter, c.Window)
	case c.Radius < 1:
		return fmt.Errorf("%w: levels radius %d must be positive", model.ErrInvalidParameter, c.Radius)
	case math.IsNaN(c.TolerancePct) || math.IsInf(c.TolerancePct, 0) || c.TolerancePct < 0:
		return fmt.Errorf("%w: levels tolerance %v", model.ErrInvalidParameter, c.TolerancePct)
	case c.MaxLevels < 1:
		return fmt.Errorf("%w: levels max %d must be positive", model.ErrInvalidParameter, c.MaxLevels)
	}
	return nil
}

// Compute returns pivots from the prior completed bar and dynamic levels from the trailing window.
// Pivots and Position are nil when the series has no completed prior bar.
func Compute(s *model.Series, cfg Config) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := &Set{Dynamic: []Level{}}
	n := s.Len()
	if n >= 2 {
		prior := s.Candles[n-2]
		pv := PivotsFrom(prior.High, prior.Low, prior.Close)
		out.Pivots = &pv
		pos := pv.Locate(s.Candles[n-1].Close)
		out.Position = &pos
	}
	out.Dynamic = detect(s, cfg)
	return out, nil
}

type extremum struct {
	price float64
	index int
}

type cluster struct {
	sum     float64
	touches int
	last    int
}

func (c *cluster) center() float64 { return c.sum / float64(c.touches) }

// Dynamic detects clustered reversal levels in the trailing window.
// A window of fewer than 3 bars yields no levels.
func Dynamic(s *model.Series, cfg Config) ([]Level, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return detect(s, cfg), nil
}

func detect(s *model.Series, cfg Config) []Level {
	n := s.Len()
	start := n - cfg.Window
	if start < 0 {
		start = 0
	}
	bars := s.Candles[start:]
	if len(bars) < 3 {
		return []Level{}
	}
	last := bars[len(bars)-1].Close
	tol := last * cfg.TolerancePct / 100

	var points []extremum
	for i := range bars {
		if isPivot(bars, i, cfg.Radius, true) {
			points = append(points, extremum{price: bars[i].High, index: start + i})
		}
		if isPivot(bars, i, cfg.Radius, false) {
			points = append(points, extremum{price: bars[i].Low, index: start + i})
		}
	}

	// Most recent extrema first so a cluster's center is anchored on recent price action.
	sort.SliceStable(points, func(a, b int) bool { return points[a].index > points[b].index })

	var clusters []*cluster
	for _, p := range points {
		var best *cluster
		bestDist := math.Inf(1)
		for _, c := range clusters {
			if d := math.Abs(p.price - c.center()); d <= tol && d < bestDist {
				best, bestDist = c, d
			}
		}
		if best == nil {
			clusters = append(clusters, &cluster{sum: p.price, touches: 1, last: p.index})
			continue
		}
		best.sum += p.price
		best.touches++
		if p.index > best.last {
			best.last = p.index
		}
	}

	sort.SliceStable(clusters, func(a, b int) bool {
		if clusters[a].touches != clusters[b].touches {
			return clusters[a].touches > clusters[b].touches
		}
		return clusters[a].last > clusters[b].last
	})

	levels := []Level{}
	counts := map[Kind]int{}
	for _, c := range clusters {
		kind := Support
		if c.center() > last {
			kind = Resistance
		}
		if counts[kind] >= cfg.MaxLevels {
			continue
		}
		counts[kind]++
		levels = append(levels, Level{
			Price:     c.center(),
			Kind:      kind,
			Touches:   c.touches,
			LastIndex: c.last,
			LastTime:  s.Candles[c.last].Time,
		})
	}
	return levels
}

// isPivot reports whether bar i's high (or low) dominates its neighborhood of
// the given radius, truncated at the window edges. The window's first and
// last bars are never pivots because one side of their neighborhood is missing.
func isPivot(bars []model.Candle, i, radius int, high bool) bool {
	if i == 0 || i == len(bars)-1 {
		return false
	}
	lo, hi := i-radius, i+radius
	if lo < 0 {
		lo = 0
	}
	if hi > len(bars)-1 {
		hi = len(bars) - 1
	}
	for j := lo; j <= hi; j++ {
		if j == i {
			continue
		}
		if high && bars[j].High > bars[i].High {
			return false
		}
		if !high && bars[j].Low < bars[i].Low {
			return false
		}
	}
	return true
}
