package signal

import (
	"fmt"

	"analytics-enginev1/internal/indicator"
	"analytics-enginev1/internal/model"
)

// level compares one indicator against a fixed threshold on the current bar.
type level struct {
	name      string
	field     string
	below     bool
	threshold float64
}

func (l level) Name() string { return l.name }

func (l level) Evaluate(set *indicator.Set, i int) Signal {
	v := set.At(l.field, i)
	op := ">"
	if l.below {
		op = "<"
	}
	s := Signal{
		Name:   l.name,
		Rule:   fmt.Sprintf("%s %s %g", l.field, op, l.threshold),
		Inputs: map[string]model.NullFloat{l.field: v},
	}
	if !v.Valid {
		return s
	}
	if l.below {
		s.Value = model.Bool(v.Float64 < l.threshold)
	} else {
		s.Value = model.Bool(v.Float64 > l.threshold)
	}
	return s
}

// compare reports a > b on the current bar.
type compare struct {
	name string
	a, b string
}

func (c compare) Name() string { return c.name }

func (c compare) Evaluate(set *indicator.Set, i int) Signal {
	a, b := set.At(c.a, i), set.At(c.b, i)
	s := Signal{
		Name:   c.name,
		Rule:   c.a + " > " + c.b,
		Inputs: map[string]model.NullFloat{c.a: a, c.b: b},
	}
	if a.Valid && b.Valid {
		s.Value = model.Bool(a.Float64 > b.Float64)
	}
	return s
}

// cross detects a crossing of a over b between bars i-1 and i.
//
// Upward: a(i-1) <= b(i-1) and a(i) > b(i). Downward is the mirror.
// With lagB = 1 each a is compared with b one bar earlier, i.e. against the
// band of the trailing window that ends at the prior bar.
type cross struct {
	name string
	a, b string
	up   bool
	lagB int
}

func (c cross) Name() string { return c.name }

func (c cross) Evaluate(set *indicator.Set, i int) Signal {
	prevA, curA := set.At(c.a, i-1), set.At(c.a, i)
	prevB, curB := set.At(c.b, i-1-c.lagB), set.At(c.b, i-c.lagB)

	dir := "below"
	if c.up {
		dir = "above"
	}
	s := Signal{
		Name: c.name,
		Rule: fmt.Sprintf("%s crosses %s %s", c.a, dir, c.b),
		Inputs: map[string]model.NullFloat{
			c.a:           curA,
			c.b:           curB,
			c.a + "_prev": prevA,
			c.b + "_prev": prevB,
		},
	}
	if i < 1 || !prevA.Valid || !curA.Valid || !prevB.Valid || !curB.Valid {
		return s
	}
	if c.up {
		s.Value = model.Bool(prevA.Float64 <= prevB.Float64 && curA.Float64 > curB.Float64)
	} else {
		s.Value = model.Bool(prevA.Float64 >= prevB.Float64 && curA.Float64 < curB.Float64)
	}
	return s
}
