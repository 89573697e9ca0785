// Package scanner holds the filter language of the market scanner: a small
// expression tree of comparisons joined by and/or, its two parsers (infix
// text and JSON token lists), field validation, the preset catalogue and
// result ranking.
package scanner

import (
	"math"
	"strconv"

	"analytics-enginev1/internal/model"
)

// Op is a comparison operator.
type Op string

const (
	GT Op = ">"
	LT Op = "<"
	GE Op = ">="
	LE Op = "<="
	EQ Op = "=="
)

// Ops lists the supported comparison operators.
var Ops = []Op{GT, LT, GE, LE, EQ}

func (o Op) apply(a, b float64) bool {
	switch o {
	case GT:
		return a > b
	case LT:
		return a < b
	case GE:
		return a >= b
	case LE:
		return a <= b
	case EQ:
		return a == b
	}
	return false
}

// Source supplies field values for one instrument.
type Source interface {
	Value(name string) model.NullFloat
}

// Values is a map-backed Source.
type Values map[string]model.NullFloat

// Value returns the named value; null when absent.
func (v Values) Value(name string) model.NullFloat { return v[name] }

// Operand is either a field reference or a numeric literal.
type Operand struct {
	Field   string
	Literal float64
}

// FieldRef returns an operand that reads name.
func FieldRef(name string) Operand { return Operand{Field: name} }

// Lit returns a literal operand.
func Lit(v float64) Operand { return Operand{Literal: v} }

// IsField reports whether o reads a field.
func (o Operand) IsField() bool { return o.Field != "" }

func (o Operand) resolve(src Source) model.NullFloat {
	if o.IsField() {
		return src.Value(o.Field)
	}
	return model.Float(o.Literal)
}

func (o Operand) String() string {
	if o.IsField() {
		return o.Field
	}
	return strconv.FormatFloat(o.Literal, 'g', -1, 64)
}

// Expr is a node of the filter tree.
type Expr interface {
	eval(src Source, tr *trace) bool
	walk(fn func(*Comparison))
	String() string
}

// Comparison is a leaf: Left Op Right.
type Comparison struct {
	Left  Operand
	Op    Op
	Right Operand
}

// And is true when both sides are true; Right is skipped when Left is false.
type And struct{ Left, Right Expr }

// Or is true when either side is true; Right is skipped when Left is true.
type Or struct{ Left, Right Expr }

type trace struct {
	matched bool
	margin  float64
	field   string
	values  map[string]model.NullFloat
}

func (c *Comparison) eval(src Source, tr *trace) bool {
	l, r := c.Left.resolve(src), c.Right.resolve(src)
	if tr != nil {
		if c.Left.IsField() {
			tr.values[c.Left.Field] = l
		}
		if c.Right.IsField() {
			tr.values[c.Right.Field] = r
		}
	}
	// Unknown never satisfies a comparison.
	if !l.Valid || !r.Valid {
		return false
	}
	ok := c.Op.apply(l.Float64, r.Float64)
	if ok && tr != nil && !tr.matched {
		tr.matched = true
		tr.margin = math.Abs(l.Float64 - r.Float64)
		tr.field = c.Left.String()
	}
	return ok
}

func (c *Comparison) walk(fn func(*Comparison)) { fn(c) }

func (c *Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

func (a *And) eval(src Source, tr *trace) bool {
	return a.Left.eval(src, tr) && a.Right.eval(src, tr)
}

func (a *And) walk(fn func(*Comparison)) { a.Left.walk(fn); a.Right.walk(fn) }

func (a *And) String() string { return group(a.Left) + " and " + group(a.Right) }

func (o *Or) eval(src Source, tr *trace) bool {
	return o.Left.eval(src, tr) || o.Right.eval(src, tr)
}

func (o *Or) walk(fn func(*Comparison)) { o.Left.walk(fn); o.Right.walk(fn) }

func (o *Or) String() string { return o.Left.String() + " or " + o.Right.String() }

func group(e Expr) string {
	if _, ok := e.(*Or); ok {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// Eval reports whether src satisfies e.
func Eval(e Expr, src Source) bool { return e.eval(src, nil) }

// Match is a successful evaluation with what triggered it.
type Match struct {
	// Margin is |left - right| of the first satisfied comparison.
	Margin float64
	// Field is the left operand of that comparison.
	Field string
	// Values holds every field read during evaluation.
	Values map[string]model.NullFloat
}

// Evaluate runs e against src and reports the trigger on success.
func Evaluate(e Expr, src Source) (Match, bool) {
	tr := &trace{values: map[string]model.NullFloat{}}
	if !e.eval(src, tr) {
		return Match{}, false
	}
	return Match{Margin: tr.margin, Field: tr.field, Values: tr.values}, true
}

// Fields lists the field names e reads, in first-use order.
func Fields(e Expr) []string {
	var out []string
	seen := map[string]bool{}
	add := func(o Operand) {
		if o.IsField() && !seen[o.Field] {
			seen[o.Field] = true
			out = append(out, o.Field)
		}
	}
	e.walk(func(c *Comparison) {
		add(c.Left)
		add(c.Right)
	})
	return out
}
