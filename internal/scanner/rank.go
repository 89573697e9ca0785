package scanner

import (
	"sort"

	"analytics-enginev1/internal/model"
)

// Hit is one instrument that satisfied a filter.
type Hit struct {
	RankKey   float64
	RankField string
	Values    map[string]model.NullFloat
}

// Apply evaluates f against src. The rank key is the RankBy field when the
// filter names one and it is known; otherwise the margin of the first
// satisfied comparison.
func (f *Filter) Apply(src Source) (Hit, bool) {
	m, ok := Evaluate(f.Expr, src)
	if !ok {
		return Hit{}, false
	}
	h := Hit{RankKey: m.Margin, RankField: m.Field, Values: m.Values}
	if f.RankBy != "" {
		if v := src.Value(f.RankBy); v.Valid {
			h.RankKey, h.RankField = v.Float64, f.RankBy
			h.Values[f.RankBy] = v
		}
	}
	return h, true
}

// Ranked pairs a hit with its position in the universe.
type Ranked struct {
	Instrument string
	Order      int
	Hit
}

// Rank sorts rows by rank key descending; equal keys keep universe order.
// limit <= 0 keeps every row.
func Rank(rows []Ranked, limit int) []Ranked {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RankKey != rows[j].RankKey {
			return rows[i].RankKey > rows[j].RankKey
		}
		return rows[i].Order < rows[j].Order
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
