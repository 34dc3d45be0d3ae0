package transform

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"nil", nil, nil},
		{"int", 3, int64(3)},
		{"uint8", uint8(3), int64(3)},
		{"float32", float32(0.5), 0.5},
		{"json number", json.Number("12"), int64(12)},
		{"numeric string", "42", int64(42)},
		{"float string", " 4.5 ", 4.5},
		{"true string", "True", true},
		{"false string", "FALSE", false},
		{"none string", "None", nil},
		{"plain string", "abc", "abc"},
		{"list", []interface{}{"1", "x"}, []interface{}{int64(1), "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.in))
		})
	}

	f, ok := Canonical("nan").(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator(" GE ")
	require.NoError(t, err)
	assert.Equal(t, OpGe, op)
	assert.Equal(t, "ge", op.String())

	_, err = ParseOperator("xx")
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = ParseOperator("is")
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestOperatorApply(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		op   Operator
		a, b interface{}
		want bool
	}{
		{"int equals float", OpEq, 1, 1.0, true},
		{"numeric string equals int", OpEq, "1", 1, true},
		{"bool equals one", OpEq, true, 1, true},
		{"bool string equals bool", OpEq, "True", true, true},
		{"greater", OpGt, 25, "22", true},
		{"less or equal boundary", OpLe, 22, 22, true},
		{"float ordering", OpLt, 88.5, 89, true},
		{"string ordering", OpLt, "abc", "abd", true},
		{"mixed equality", OpEq, "abc", 1, false},
		{"mixed inequality", OpNe, "abc", 1, true},
		{"nil equals nil", OpEq, nil, nil, true},
		{"nil against value", OpEq, nil, 5, false},
		{"nil ne value", OpNe, nil, 5, true},
		{"nan never equal", OpEq, nan, nan, false},
		{"nan unequal", OpNe, nan, nan, true},
		{"is nan", OpIs, "nan", nil, true},
		{"is nan on number", OpIs, 3, nil, false},
		{"is not nan", OpIsNot, 3, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Apply(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperatorApplyIncomparable(t *testing.T) {
	for _, pair := range [][2]interface{}{{"abc", 1}, {nil, 5}, {nil, nil}} {
		_, err := OpGt.Apply(pair[0], pair[1])
		assert.True(t, errors.Is(err, errIncomparable), "%v", pair)
	}

	_, err := Operator(0).Apply(1, 1)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}
