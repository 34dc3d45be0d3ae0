package transform

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"unicode"
)

// expr is a compiled formula. Evaluation never fails: an operand that is
// nil or of the wrong type makes the whole expression nil.
type expr interface {
	eval(f *Frame) interface{}
}

type constExpr struct{ value interface{} }

func (c constExpr) eval(*Frame) interface{} { return c.value }

// refExpr reads a variable through its reference, which was bound when the
// table was built.
type refExpr struct {
	name string
	ref  reference
}

func (r refExpr) eval(f *Frame) interface{} { return f.read(r.ref) }

type unaryExpr struct {
	op rune
	x  expr
}

func (u unaryExpr) eval(f *Frame) interface{} {
	v := u.x.eval(f)
	if i, ok := integral(v); ok {
		if u.op != '-' {
			return i
		}
		if i != math.MinInt64 {
			return -i
		}
	}
	if x, ok := numeric(v); ok {
		if u.op == '-' {
			return -x
		}
		return x
	}
	return nil
}

type binaryExpr struct {
	op   string
	l, r expr
}

func (b binaryExpr) eval(f *Frame) interface{} {
	l := b.l.eval(f)
	if l == nil {
		return nil
	}
	r := b.r.eval(f)
	if r == nil {
		return nil
	}

	switch b.op {
	case "+", "-", "*":
		return arith(b.op, l, r)
	case "/":
		x, okx := numeric(l)
		y, oky := numeric(r)
		if !okx || !oky || y == 0 {
			return nil
		}
		return x / y
	case "**":
		return power(l, r)
	}

	op, ok := comparisonOps[b.op]
	if !ok {
		return nil
	}
	res, err := op.Apply(l, r)
	if err != nil {
		return nil
	}
	return res
}

var comparisonOps = map[string]Operator{
	"==": OpEq,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

// arith keeps integer operands integral and falls back to float64 when
// the integer result would overflow.
func arith(op string, l, r interface{}) interface{} {
	if a, ok := integral(l); ok {
		if b, ok := integral(r); ok {
			var out int64
			var ok bool
			switch op {
			case "+":
				out, ok = addInt(a, b)
			case "-":
				out, ok = subInt(a, b)
			default:
				out, ok = mulInt(a, b)
			}
			if ok {
				return out
			}
		}
	}
	if a, ok := numeric(l); ok {
		if b, ok := numeric(r); ok {
			switch op {
			case "+":
				return a + b
			case "-":
				return a - b
			default:
				return a * b
			}
		}
	}
	if op == "+" {
		as, okl := l.(string)
		bs, okr := r.(string)
		if okl && okr {
			return as + bs
		}
	}
	return nil
}

func power(l, r interface{}) interface{} {
	if a, ok := integral(l); ok {
		if b, ok := integral(r); ok && b >= 0 && b < 64 {
			if out, ok := powInt(a, b); ok {
				return out
			}
		}
	}
	x, okx := numeric(l)
	y, oky := numeric(r)
	if !okx || !oky {
		return nil
	}
	if x == 0 && y < 0 {
		return nil
	}
	if x < 0 && y != math.Trunc(y) {
		return nil
	}
	return math.Pow(x, y)
}

func addInt(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func subInt(a, b int64) (int64, bool) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, false
	}
	return a - b, true
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absInt(a), absInt(b))
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return int64(-lo), true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func powInt(a, b int64) (int64, bool) {
	out := int64(1)
	for i := int64(0); i < b; i++ {
		var ok bool
		if out, ok = mulInt(out, a); !ok {
			return 0, false
		}
	}
	return out, true
}

func absInt(a int64) uint64 {
	if a < 0 {
		return uint64(-(a + 1)) + 1
	}
	return uint64(a)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokRef
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexFormula splits a formula into tokens. Bracketed names are returned
// without their brackets.
func lexFormula(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '[':
			end := strings.IndexByte(src[i+1:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' at offset %d", i)
			}
			name := strings.TrimSpace(src[i+1 : i+1+end])
			if name == "" || strings.ContainsAny(name, "[") {
				return nil, fmt.Errorf("bad reference at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokRef, text: name, pos: i})
			i += end + 2
		case c == '"' || c == '\'':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case c >= '0' && c <= '9' || c == '.':
			start := i
			i = scanNumber(src, i)
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case strings.HasPrefix(src[i:], "**"),
			strings.HasPrefix(src[i:], "=="),
			strings.HasPrefix(src[i:], "!="),
			strings.HasPrefix(src[i:], "<="),
			strings.HasPrefix(src[i:], ">="):
			tokens = append(tokens, token{kind: tokOp, text: src[i : i+2], pos: i})
			i += 2
		case strings.ContainsRune("+-*/<>", rune(c)):
			tokens = append(tokens, token{kind: tokOp, text: string(c), pos: i})
			i++
		default:
			if unicode.IsLetter(rune(c)) || c == '_' {
				return nil, fmt.Errorf("bare identifier at offset %d; wrap variable names in brackets", i)
			}
			return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

func scanNumber(src string, i int) int {
	for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
		i++
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			i = j
			for i < len(src) && src[i] >= '0' && src[i] <= '9' {
				i++
			}
		}
	}
	return i
}

// binder resolves a bracketed name to a reference while a table is built.
type binder func(name string) (reference, error)

type parser struct {
	src    string
	tokens []token
	pos    int
	bind   binder
}

// parseFormula compiles src. Grammar, loosest binding first:
//
//	comparison := additive [("=="|"!="|"<"|"<="|">"|">=") additive]
//	additive   := term (("+"|"-") term)*
//	term       := unary (("*"|"/") unary)*
//	unary      := ("+"|"-") unary | power
//	power      := primary ["**" unary]
//	primary    := number | string | "[" name "]" | "(" comparison ")"
func parseFormula(src string, bind binder) (expr, error) {
	tokens, err := lexFormula(src)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedFormula, src, err)
	}
	p := &parser{src: src, tokens: tokens, bind: bind}
	e, err := p.comparison()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return e, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return fmt.Errorf("%w %q: %s at offset %d", ErrMalformedFormula, p.src, fmt.Sprintf(format, args...), t.pos)
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) comparison() (expr, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return l, nil
	}
	r, err := p.additive()
	if err != nil {
		return nil, err
	}
	if _, chained := p.acceptOp("==", "!=", "<=", ">=", "<", ">"); chained {
		return nil, p.errorf(p.tokens[p.pos-1], "chained comparison")
	}
	return binaryExpr{op: op, l: l, r: r}, nil
}

func (p *parser) additive() (expr, error) {
	l, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return l, nil
		}
		r, err := p.term()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: op, l: l, r: r}
	}
}

func (p *parser) term() (expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return l, nil
		}
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: op, l: l, r: r}
	}
}

func (p *parser) unary() (expr, error) {
	if op, ok := p.acceptOp("+", "-"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: rune(op[0]), x: x}, nil
	}
	return p.power()
}

func (p *parser) power() (expr, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.acceptOp("**"); !ok {
		return base, nil
	}
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return binaryExpr{op: "**", l: base, r: exp}, nil
}

func (p *parser) primary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return constExpr{value: i}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad number %q", t.text)
		}
		return constExpr{value: f}, nil
	case tokString:
		return constExpr{value: t.text}, nil
	case tokRef:
		ref, err := p.bind(t.text)
		if err != nil {
			if errors.Is(err, ErrUnknownVariable) {
				return nil, err
			}
			return nil, p.errorf(t, "%v", err)
		}
		return refExpr{name: t.text, ref: ref}, nil
	case tokLParen:
		e, err := p.comparison()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')'")
		}
		return e, nil
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of formula")
	default:
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
}
