package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalFormula(t *testing.T, formula string, values map[string]interface{}) interface{} {
	t.Helper()
	rows := []Row{{Feature: "a", Type: "numeric"}, {Feature: "b", Type: "numeric"}}
	rows = append(rows, Row{Feature: "result", Type: "formula", Formulate: formula, Index: 1})
	vector, err := buildOne(t, rows...).TransformValues(values)
	require.NoError(t, err)
	return vector[0]
}

func TestFormulaEvaluation(t *testing.T) {
	tests := []struct {
		formula string
		values  map[string]interface{}
		want    interface{}
	}{
		{"1 + 2 * 3", nil, int64(7)},
		{"(1 + 2) * 3", nil, int64(9)},
		{"2 ** 3 ** 2", nil, int64(512)},
		{"-2 ** 2", nil, int64(-4)},
		{"2 ** -1", nil, 0.5},
		{"7 / 2", nil, 3.5},
		{"6 / 3", nil, 2.0},
		{"1e3 + 0.5", nil, 1000.5},
		{"10 - 4 - 3", nil, int64(3)},
		{"[a] - [b]", map[string]interface{}{"a": 5, "b": 1.5}, 3.5},
		{"[a] > 3", map[string]interface{}{"a": 5}, int64(1)},
		{"[a] <= 3", map[string]interface{}{"a": 5}, int64(0)},
		{"[a] == 'x'", map[string]interface{}{"a": "x"}, int64(1)},
		{"'ab' + \"cd\"", nil, "abcd"},
		{"[a] + [b]", map[string]interface{}{"a": true, "b": 2}, int64(3)},
		{"[a] / [b]", map[string]interface{}{"a": 1, "b": 0}, nil},
		{"[a] + 1", nil, nil},
		{"[a] * 2", map[string]interface{}{"a": "x"}, nil},
		{"[a] > 'x'", map[string]interface{}{"a": 1}, nil},
		{"0 ** -1", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			assert.Equal(t, tt.want, evalFormula(t, tt.formula, tt.values))
		})
	}
}

func TestFormulaIntegerOverflow(t *testing.T) {
	tests := []struct {
		formula string
		values  map[string]interface{}
		want    interface{}
	}{
		{"[a] ** 20", map[string]interface{}{"a": 10}, 1e20},
		{"[a] ** 18", map[string]interface{}{"a": 10}, int64(1e18)},
		{"[a] * [a]", map[string]interface{}{"a": int64(5e9)}, 2.5e19},
		{"[a] * [b]", map[string]interface{}{"a": int64(-4e9), "b": int64(3e9)}, -1.2e19},
		{"[a] * [b]", map[string]interface{}{"a": int64(math.MinInt64), "b": 1}, int64(math.MinInt64)},
		{"[a] + 1", map[string]interface{}{"a": int64(math.MaxInt64)}, float64(math.MaxInt64) + 1},
		{"[a] - [b]", map[string]interface{}{"a": int64(math.MinInt64), "b": 1}, float64(math.MinInt64) - 1},
		{"-[a]", map[string]interface{}{"a": int64(math.MinInt64)}, -float64(math.MinInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got := evalFormula(t, tt.formula, tt.values)
			if want, ok := tt.want.(float64); ok {
				require.IsType(t, float64(0), got)
				assert.InEpsilon(t, want, got, 1e-12)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormulaPrecision(t *testing.T) {
	one, two := 1, 2
	tbl := buildOne(t,
		Row{Feature: "weight", Type: "numeric"},
		Row{Feature: "height", Type: "numeric"},
		Row{Feature: "bmi", Type: "formula", Formulate: "[weight]/(([height]/100)**2)", Index: 1, Precision: &one},
		Row{Feature: "ratio", Type: "formula", Formulate: "[weight] / 3", Index: 2, Precision: &two},
		Row{Feature: "total", Type: "formula", Formulate: "[weight] + [height]", Index: 3, Precision: &two},
	)
	vector, err := tbl.TransformValues(map[string]interface{}{"weight": 70, "height": 180})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{21.6, 23.33, int64(250)}, vector)
}

func TestFormulaReferencesAlternatives(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "temp", Type: "numeric"},
		Row{Feature: "fever", Type: "category", Formulate: "2=[temp]ge|39"},
		Row{Feature: "fever", Type: "category", Formulate: "1=[temp]ge|38"},
		Row{Feature: "fever", Type: "category", Formulate: "0=[default]"},
		Row{Feature: "points", Type: "formula", Formulate: "[fever] * 5", Index: 1},
	)
	for temp, want := range map[float64]int64{39.4: 10, 38.2: 5, 36.8: 0} {
		vector, err := tbl.TransformValues(map[string]interface{}{"temp": temp})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{want}, vector, "temp %v", temp)
	}
}
