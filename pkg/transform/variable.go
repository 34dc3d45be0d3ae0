package transform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedFormula    = errors.New("malformed formula")
	ErrUnknownVariable     = errors.New("unknown variable")
	ErrIndexGap            = errors.New("index gap")
	ErrDuplicateIndex      = errors.New("index already assigned to another feature")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrReservedFeature     = errors.New("reserved feature name")
	ErrUnknownType         = errors.New("unknown variable type")
	ErrUnknownModel        = errors.New("unknown model")
)

// DefaultFeature is pre-seeded in every table with DefaultSentinel so that
// a "[default]" condition always holds.
const (
	DefaultFeature  = "default"
	DefaultSentinel = int64(99999)
)

// Kind is the type column of a transformation row.
type Kind int

const (
	KindNumeric Kind = iota + 1
	KindCategory
	KindFormula
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric":
		return KindNumeric, nil
	case "category":
		return KindCategory, nil
	case "formula":
		return KindFormula, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategory:
		return "category"
	case KindFormula:
		return "formula"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// node is one variable in a table's arena. Nodes refer to each other by
// arena index only, so a built table holds no per-request state.
type node struct {
	kind    Kind
	feature string

	// numeric
	cell int

	// category
	label      interface{}
	labelRef   *reference
	conditions []condition

	// formula
	formula   expr
	precision *int
}

// reference names the nodes a bracketed name stands for. The first node
// with a non-nil value supplies the reference's value.
type reference struct {
	name  string
	nodes []int
}

type condition struct {
	subject      reference
	op           Operator
	threshold    interface{}
	thresholdRef *reference
}

// Frame holds the values of one request. It is created by Table.NewFrame,
// filled with Set and read with Vector; a Frame must not be shared between
// goroutines.
type Frame struct {
	table *Table
	cells []interface{}
	memo  []interface{}
	done  []bool
	err   error
}

// Set stores the value of a numeric feature. It reports false when the
// table has no numeric variable with that name.
func (f *Frame) Set(feature string, value interface{}) bool {
	cell, ok := f.table.inputs[feature]
	if !ok || feature == DefaultFeature {
		return false
	}
	f.cells[f.table.nodes[cell].cell] = Canonical(value)
	for i := range f.done {
		f.done[i] = false
	}
	return true
}

// Value returns the current value of a named variable, resolved the same way
// a bracketed reference is.
func (f *Frame) Value(feature string) (interface{}, bool) {
	ref, err := f.table.lookup(feature)
	if err != nil {
		return nil, false
	}
	return f.read(ref), true
}

// Vector evaluates every index slot in order. A slot takes the first
// candidate with a non-nil value.
func (f *Frame) Vector() ([]interface{}, error) {
	out := make([]interface{}, len(f.table.slots))
	for i, slot := range f.table.slots {
		for _, n := range slot {
			if v := f.value(n); v != nil {
				out[i] = vectorValue(v)
				break
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return out, nil
}

func (f *Frame) read(ref reference) interface{} {
	for _, n := range ref.nodes {
		if v := f.value(n); v != nil {
			return v
		}
	}
	return nil
}

func (f *Frame) value(i int) interface{} {
	if f.done[i] {
		return f.memo[i]
	}
	v := f.eval(&f.table.nodes[i])
	f.memo[i], f.done[i] = v, true
	return v
}

func (f *Frame) eval(n *node) interface{} {
	switch n.kind {
	case KindNumeric:
		return f.cells[n.cell]
	case KindCategory:
		for _, c := range n.conditions {
			if !f.holds(c) {
				return nil
			}
		}
		if n.labelRef != nil {
			return f.read(*n.labelRef)
		}
		return n.label
	case KindFormula:
		v := n.formula.eval(f)
		if x, ok := v.(float64); ok && n.precision != nil {
			return roundTo(x, *n.precision)
		}
		return v
	}
	return nil
}

// holds applies one condition. Incomparable operands fail the condition; a
// list threshold holds when any element satisfies the operator.
func (f *Frame) holds(c condition) bool {
	subject := f.read(c.subject)
	threshold := c.threshold
	if c.thresholdRef != nil {
		threshold = f.read(*c.thresholdRef)
	}

	if list, ok := Canonical(threshold).([]interface{}); ok {
		for _, item := range list {
			if f.apply(c.op, subject, item) {
				return true
			}
		}
		return false
	}
	return f.apply(c.op, subject, threshold)
}

func (f *Frame) apply(op Operator, subject, threshold interface{}) bool {
	ok, err := op.Apply(subject, threshold)
	if err != nil {
		if errors.Is(err, ErrUnsupportedOperator) && f.err == nil {
			f.err = err
		}
		return false
	}
	return ok
}
