package transform

import (
	"errors"
	"fmt"
	"strings"
)

// Operator is a comparison applied between a condition's subject and its
// threshold.
type Operator int

const (
	OpEq Operator = iota + 1
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	// OpIs and OpIsNot replace eq/ne when the threshold is nan.
	OpIs
	OpIsNot
)

var operatorNames = map[string]Operator{
	"eq": OpEq,
	"ne": OpNe,
	"gt": OpGt,
	"ge": OpGe,
	"lt": OpLt,
	"le": OpLe,
}

// errIncomparable marks operands an operator is not defined for. A category
// condition treats it as a failed condition.
var errIncomparable = errors.New("operands are not comparable")

// ParseOperator maps a two-letter prefix such as "ge" to its Operator.
func ParseOperator(name string) (Operator, error) {
	if op, ok := operatorNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedOperator, name)
}

func (o Operator) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpIs:
		return "is"
	case OpIsNot:
		return "isnot"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

// Apply canonicalises both operands and compares them. Mixed-type equality
// is false rather than an error; ordering across types, or against nil,
// fails with an incomparable error. An unknown operator returns
// ErrUnsupportedOperator.
func (o Operator) Apply(left, right interface{}) (bool, error) {
	a, b := Canonical(left), Canonical(right)

	switch o {
	case OpIs:
		return isNaN(a), nil
	case OpIsNot:
		return !isNaN(a), nil
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, o)
	}

	if ai, ok := integral(a); ok {
		if bi, ok := integral(b); ok {
			return o.ordered(compareInts(ai, bi)), nil
		}
	}

	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return o.applyFloat(af, bf), nil
		}
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return o.ordered(strings.Compare(as, bs)), nil
		}
	}

	if a == nil && b == nil {
		switch o {
		case OpEq:
			return true, nil
		case OpNe:
			return false, nil
		}
		return false, errIncomparable
	}

	switch o {
	case OpEq:
		return false, nil
	case OpNe:
		return true, nil
	}
	return false, errIncomparable
}

func (o Operator) ordered(cmp int) bool {
	switch o {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

// applyFloat keeps IEEE semantics so NaN compares unequal to everything.
func (o Operator) applyFloat(a, b float64) bool {
	switch o {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	}
	return false
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
