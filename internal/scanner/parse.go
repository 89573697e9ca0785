package scanner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"analytics-enginev1/internal/model"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func syntaxErr(pos int, format string, args ...any) error {
	return fmt.Errorf("%w: expression at %d: %s", model.ErrInvalidParameter, pos, fmt.Sprintf(format, args...))
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '>' || r == '<' || r == '=':
			op := string(r)
			if i+1 < len(rs) && rs[i+1] == '=' {
				op += "="
			}
			if op == "=" {
				return nil, syntaxErr(i, "use == for equality")
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case r == '&' || r == '|':
			if i+1 >= len(rs) || rs[i+1] != r {
				return nil, syntaxErr(i, "unexpected %q", r)
			}
			kind := tokAnd
			if r == '|' {
				kind = tokOr
			}
			toks = append(toks, token{kind: kind, text: string([]rune{r, r}), pos: i})
			i += 2
		case unicode.IsDigit(r) || r == '.' || r == '-' || r == '+':
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E' ||
				((rs[j] == '-' || rs[j] == '+') && (rs[j-1] == 'e' || rs[j-1] == 'E'))) {
				j++
			}
			text := string(rs[i:j])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, syntaxErr(i, "bad number %q", text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: v, pos: i})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			text := string(rs[i:j])
			kind := tokIdent
			switch strings.ToLower(text) {
			case "and":
				kind = tokAnd
			case "or":
				kind = tokOr
			}
			toks = append(toks, token{kind: kind, text: text, pos: i})
			i = j
		default:
			return nil, syntaxErr(i, "unexpected %q", r)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// Parse parses an infix filter such as "RSI < 30 and volume > 1e6".
// and binds tighter than or; keywords are case-insensitive. Field names are
// not validated here; see Compile.
func Parse(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", model.ErrInvalidParameter)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(t.pos, "unexpected %q", t.text)
	}
	return e, nil
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.primary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) primary() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, syntaxErr(t.pos, "expected ')'")
		}
		return e, nil
	}
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != tokOp {
		return nil, syntaxErr(t.pos, "expected comparison operator after %s", left)
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Op: Op(t.text), Right: right}, nil
}

func (p *parser) operand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return FieldRef(t.text), nil
	case tokNumber:
		return Lit(t.num), nil
	case tokEOF:
		return Operand{}, syntaxErr(t.pos, "unexpected end of expression")
	}
	return Operand{}, syntaxErr(t.pos, "expected field or number, got %q", t.text)
}

var tokenOps = map[string]Op{
	"gt": GT, ">": GT,
	"lt": LT, "<": LT,
	"ge": GE, "gte": GE, ">=": GE,
	"le": LE, "lte": LE, "<=": LE,
	"eq": EQ, "==": EQ,
}

// ParseJSON parses the token-list form, e.g.
//
//	["and", ["lt", "rsi", 30], ["gt", "volume", 1000000]]
//
// and/or take two or more operands and fold left. A comparison is
// [op, left, right] or [op, [left, right]]; string operands are fields,
// numbers are literals.
func ParseJSON(raw []byte) (Expr, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: filter: %v", model.ErrInvalidParameter, err)
	}
	return ParseTokens(v)
}

// ParseTokens parses an already-decoded token list.
func ParseTokens(v any) (Expr, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: filter node must be a non-empty list, got %v", model.ErrInvalidParameter, v)
	}
	head, ok := list[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: filter node must start with an operator, got %v", model.ErrInvalidParameter, list[0])
	}
	head = strings.ToLower(head)

	switch head {
	case "and", "or":
		if len(list) < 3 {
			return nil, fmt.Errorf("%w: %s needs at least two operands", model.ErrInvalidParameter, head)
		}
		var acc Expr
		for _, child := range list[1:] {
			e, err := ParseTokens(child)
			if err != nil {
				return nil, err
			}
			switch {
			case acc == nil:
				acc = e
			case head == "and":
				acc = &And{Left: acc, Right: e}
			default:
				acc = &Or{Left: acc, Right: e}
			}
		}
		return acc, nil
	}

	op, ok := tokenOps[head]
	if !ok {
		return nil, fmt.Errorf("%w: unknown filter operator %q", model.ErrInvalidParameter, head)
	}
	args := list[1:]
	if len(args) == 1 {
		if pair, ok := args[0].([]any); ok {
			args = pair
		}
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: %s needs exactly two operands", model.ErrInvalidParameter, head)
	}
	left, err := tokenOperand(args[0])
	if err != nil {
		return nil, err
	}
	right, err := tokenOperand(args[1])
	if err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Op: op, Right: right}, nil
}

func tokenOperand(v any) (Operand, error) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return Operand{}, fmt.Errorf("%w: empty field name", model.ErrInvalidParameter)
		}
		return FieldRef(x), nil
	case float64:
		return Lit(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Operand{}, fmt.Errorf("%w: bad number %s", model.ErrInvalidParameter, x)
		}
		return Lit(f), nil
	case int:
		return Lit(float64(x)), nil
	}
	return Operand{}, fmt.Errorf("%w: operand must be a field name or number, got %v", model.ErrInvalidParameter, v)
}
