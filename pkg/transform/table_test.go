package transform

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCatalog(t *testing.T, path string) *Catalog {
	t.Helper()
	catalog, err := LoadFile(path)
	require.NoError(t, err)
	return catalog
}

func table(t *testing.T, catalog *Catalog, model string) *Table {
	t.Helper()
	tbl, err := catalog.Get(model)
	require.NoError(t, err)
	return tbl
}

func buildOne(t *testing.T, rows ...Row) *Table {
	t.Helper()
	for i := range rows {
		rows[i].Model = "m"
	}
	catalog, err := Build(rows)
	require.NoError(t, err)
	return table(t, catalog, "m")
}

func TestTransformNumeric(t *testing.T) {
	nsti := table(t, loadCatalog(t, "testdata/transformation.csv"), "nsti")
	assert.Equal(t, []string{"sea", "wbc", "crp", "seg", "band"}, nsti.Columns())

	inputs := InputsFromMap(map[string]interface{}{
		"sea":  map[string]interface{}{"value": true},
		"wbc":  map[string]interface{}{"value": 4400, "date": "2021-07-01T08:00"},
		"crp":  map[string]interface{}{"value": 0.5},
		"seg":  map[string]interface{}{"value": 50.7},
		"band": map[string]interface{}{"value": 0},
	})
	vector, err := nsti.Transform(inputs)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(4400), 0.5, 50.7, int64(0)}, vector)
}

func TestInputsFromMapSkipsMalformedEntries(t *testing.T) {
	raw := map[string]interface{}{
		"respiratory_rate": map[string]interface{}{"value": 30, "date": "2021-07-01T08:00"},
		"spo2":             map[string]interface{}{"value": 95, "date": 20210701},
		"o2_flow_rate":     map[string]interface{}{"date": "2021-07-01T08:00"},
		"fio2":             "",
		"gcs":              []interface{}{15},
	}
	inputs := InputsFromMap(raw)
	assert.Equal(t, map[string]Input{
		"respiratory_rate": {Value: 30, Date: "2021-07-01T08:00"},
		"spo2":             {Value: 95},
	}, inputs)

	qcsi := table(t, loadCatalog(t, "testdata/transformation.csv"), "qcsi")
	vector, err := qcsi.Transform(inputs)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2), int64(0), nil}, vector)
}

func TestTransformCategories(t *testing.T) {
	qcsi := table(t, loadCatalog(t, "testdata/transformation.csv"), "qcsi")
	assert.Equal(t, []string{"respiratory_rate", "spo2", "o2_flow_rate"}, qcsi.Columns())

	tests := []struct {
		name   string
		values map[string]interface{}
		want   []interface{}
	}{
		{
			"middle bands",
			map[string]interface{}{"respiratory_rate": 25, "spo2": 90, "o2_flow_rate": 3},
			[]interface{}{int64(1), int64(2), int64(4)},
		},
		{
			"boundaries",
			map[string]interface{}{"respiratory_rate": 22, "spo2": 92, "o2_flow_rate": 2},
			[]interface{}{int64(0), int64(2), int64(0)},
		},
		{
			"upper bands from strings",
			map[string]interface{}{"respiratory_rate": "30", "spo2": "85", "o2_flow_rate": "6.5"},
			[]interface{}{int64(2), int64(5), int64(5)},
		},
		{
			"unclassifiable value falls back to the numeric candidate",
			map[string]interface{}{"respiratory_rate": 25, "spo2": 90, "o2_flow_rate": "3 L/min"},
			[]interface{}{int64(1), int64(2), "3 L/min"},
		},
		{
			"missing values",
			map[string]interface{}{},
			[]interface{}{nil, nil, nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vector, err := qcsi.TransformValues(tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, vector)
		})
	}
}

func TestTransformFormula(t *testing.T) {
	pima := table(t, loadCatalog(t, "testdata/transformation.csv"), "pima_diabetes")
	assert.Equal(t, 8, pima.Len())
	assert.Equal(t, []string{
		"pregnancies", "glucose", "diastolic_blood_pressure", "skinthickness",
		"insulin", "bmi", "diabetespedigreefunction", "age",
	}, pima.Columns())

	vector, err := pima.TransformValues(map[string]interface{}{
		"pregnancies":              1,
		"glucose":                  85,
		"diastolic_blood_pressure": nil,
		"skinthickness":            29,
		"insulin":                  0,
		"weight":                   69,
		"height":                   176,
		"diabetespedigreefunction": 0.351,
		"age":                      31,
	})
	require.NoError(t, err)
	require.Len(t, vector, 8)
	assert.Nil(t, vector[2])
	assert.InDelta(t, 22.275309917355372, vector[5], 1e-12)
	assert.Equal(t, int64(31), vector[7])

	vector, err = pima.TransformValues(map[string]interface{}{"weight": 69})
	require.NoError(t, err)
	assert.Nil(t, vector[5])
}

func TestTransformYAMLModel(t *testing.T) {
	geriatric := table(t, loadCatalog(t, "testdata/models.yaml"), "geriatric")
	assert.Equal(t, []string{"age_group", "bmi", "smoker"}, geriatric.Columns())
	assert.Equal(t, []string{"age", "height", "smoking_status", "weight"}, geriatric.Inputs())

	vector, err := geriatric.TransformValues(map[string]interface{}{
		"age": 70, "weight": 70, "height": 180, "smoking_status": "current",
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"elderly", 21.6, int64(1)}, vector)

	vector, err = geriatric.TransformValues(map[string]interface{}{
		"age": 40, "smoking_status": "former",
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, nil, int64(0)}, vector)
}

func TestCategoryFirstTrueRuleWins(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "score", Type: "category", Formulate: "high=gt|10", Index: 1},
		Row{Feature: "score", Type: "category", Formulate: "higher=gt|20", Index: 1},
	)
	vector, err := tbl.TransformValues(map[string]interface{}{"score": 30})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"high"}, vector)
}

func TestCategoryReferences(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "limit", Type: "numeric"},
		Row{Feature: "baseline", Type: "numeric"},
		Row{Feature: "level", Type: "category", Formulate: "[baseline]=le|[limit]", Index: 1},
		Row{Feature: "level", Type: "category", Formulate: "over=gt|[limit]", Index: 1},
		Row{Feature: "flag", Type: "category", Formulate: "1=[level]gt|[limit]"},
		Row{Feature: "flag", Type: "category", Formulate: "0=[default]"},
		Row{Feature: "alert", Type: "formula", Formulate: "[flag] * 10", Index: 2},
	)

	vector, err := tbl.TransformValues(map[string]interface{}{"level": 5, "limit": 8, "baseline": 3})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(3), int64(0)}, vector)

	vector, err = tbl.TransformValues(map[string]interface{}{"level": 9, "limit": 8, "baseline": 3})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"over", int64(10)}, vector)
}

func TestCategoryOverDerivedFeature(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "weight", Type: "numeric"},
		Row{Feature: "height", Type: "numeric"},
		Row{Feature: "bmi", Type: "formula", Formulate: "[weight]/([height]/100)**2"},
		Row{Feature: "bmi", Type: "category", Formulate: "obese=ge|30", Index: 1},
		Row{Feature: "bmi", Type: "category", Formulate: "normal=lt|30", Index: 1},
	)
	assert.Equal(t, []string{"height", "weight"}, tbl.Inputs())

	vector, err := tbl.TransformValues(map[string]interface{}{"weight": 100, "height": 170})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"obese"}, vector)

	vector, err = tbl.TransformValues(map[string]interface{}{"weight": 60, "height": 170})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"normal"}, vector)

	vector, err = tbl.TransformValues(map[string]interface{}{"weight": 100})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil}, vector)
}

func TestCategoryBareThresholdOverDerivedFeature(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "stage", Type: "numeric"},
		Row{Feature: "grade", Type: "formula", Formulate: "[stage] + 1"},
		Row{Feature: "grade", Type: "category", Formulate: "severe=4", Index: 1},
	)
	assert.Equal(t, []string{"stage"}, tbl.Inputs())

	vector, err := tbl.TransformValues(map[string]interface{}{"stage": 3})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"severe"}, vector)
}

func TestCategoryNaNThreshold(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "lactate", Type: "category", Formulate: "missing=nan", Index: 1},
		Row{Feature: "lactate", Type: "category", Formulate: "present=ne|nan", Index: 1},
	)

	vector, err := tbl.TransformValues(map[string]interface{}{"lactate": math.NaN()})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"missing"}, vector)

	vector, err = tbl.TransformValues(map[string]interface{}{"lactate": 2.1})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"present"}, vector)
}

func TestCategoryListThreshold(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "allowed", Type: "numeric"},
		Row{Feature: "code", Type: "category", Formulate: "1=eq|[allowed]", Index: 1},
	)
	f := tbl.NewFrame()
	f.Set("allowed", []interface{}{"A01", "B02"})
	f.Set("code", "B02")
	vector, err := f.Vector()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1)}, vector)

	f.Set("code", "C03")
	vector, err = f.Vector()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil}, vector)
}

func TestFrameValue(t *testing.T) {
	tbl := buildOne(t,
		Row{Feature: "a", Type: "numeric", Index: 1},
		Row{Feature: "double", Type: "formula", Formulate: "[a] * 2"},
	)
	f := tbl.NewFrame()
	assert.False(t, f.Set("unknown", 1))
	assert.False(t, f.Set(DefaultFeature, 1))
	require.True(t, f.Set("a", 4))

	v, ok := f.Value("double")
	require.True(t, ok)
	assert.Equal(t, int64(8), v)

	v, ok = f.Value(DefaultFeature)
	require.True(t, ok)
	assert.Equal(t, DefaultSentinel, v)

	_, ok = f.Value("unknown")
	assert.False(t, ok)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		rows   []Row
		target error
	}{
		{
			"index gap",
			[]Row{
				{Feature: "a", Type: "numeric", Index: 1},
				{Feature: "c", Type: "numeric", Index: 3},
			},
			ErrIndexGap,
		},
		{
			"missing index 3 of five",
			[]Row{
				{Feature: "a", Type: "numeric", Index: 1},
				{Feature: "b", Type: "numeric", Index: 2},
				{Feature: "d", Type: "numeric", Index: 4},
				{Feature: "e", Type: "numeric", Index: 5},
			},
			ErrIndexGap,
		},
		{
			"duplicate index",
			[]Row{
				{Feature: "a", Type: "numeric", Index: 1},
				{Feature: "b", Type: "numeric", Index: 1},
			},
			ErrDuplicateIndex,
		},
		{"reserved default", []Row{{Feature: "default", Type: "numeric", Index: 1}}, ErrReservedFeature},
		{"unknown type", []Row{{Feature: "a", Type: "boolean", Index: 1}}, ErrUnknownType},
		{"unknown formula operand", []Row{{Feature: "a", Type: "formula", Formulate: "[b] + 1", Index: 1}}, ErrUnknownVariable},
		{
			"forward reference",
			[]Row{
				{Feature: "a", Type: "formula", Formulate: "[b] + 1", Index: 1},
				{Feature: "b", Type: "numeric"},
			},
			ErrUnknownVariable,
		},
		{"unknown threshold", []Row{{Feature: "a", Type: "category", Formulate: "1=gt|[b]", Index: 1}}, ErrUnknownVariable},
		{"unknown subject", []Row{{Feature: "a", Type: "category", Formulate: "1=[b]gt|1", Index: 1}}, ErrUnknownVariable},
		{"unknown label", []Row{{Feature: "a", Type: "category", Formulate: "[b]=gt|1", Index: 1}}, ErrUnknownVariable},
		{"unsupported prefix", []Row{{Feature: "a", Type: "category", Formulate: "1=xx|1", Index: 1}}, ErrUnsupportedOperator},
		{"ordering against nan", []Row{{Feature: "a", Type: "category", Formulate: "1=gt|nan", Index: 1}}, ErrUnsupportedOperator},
		{"category without label", []Row{{Feature: "a", Type: "category", Formulate: "gt|1", Index: 1}}, ErrMalformedFormula},
		{"empty condition", []Row{{Feature: "a", Type: "category", Formulate: "1=gt|1&", Index: 1}}, ErrMalformedFormula},
		{"missing threshold", []Row{{Feature: "a", Type: "category", Formulate: "1=gt|", Index: 1}}, ErrMalformedFormula},
		{"bare identifier", []Row{{Feature: "a", Type: "formula", Formulate: "weight / 2", Index: 1}}, ErrMalformedFormula},
		{"dangling operator", []Row{{Feature: "w", Type: "numeric"}, {Feature: "a", Type: "formula", Formulate: "[w] +", Index: 1}}, ErrMalformedFormula},
		{"unclosed reference", []Row{{Feature: "a", Type: "formula", Formulate: "[w + 1", Index: 1}}, ErrMalformedFormula},
		{"unbalanced parenthesis", []Row{{Feature: "a", Type: "formula", Formulate: "(1 + 2", Index: 1}}, ErrMalformedFormula},
		{"function call", []Row{{Feature: "a", Type: "formula", Formulate: "__import__('os')", Index: 1}}, ErrMalformedFormula},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.rows {
				tt.rows[i].Model = "m"
			}
			_, err := Build(tt.rows)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestBuildErrorNamesRow(t *testing.T) {
	_, err := Build([]Row{{Model: "m", Feature: "a", Type: "formula", Formulate: "[b]", Index: 1, Line: 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 7")
	assert.Contains(t, err.Error(), `feature "a"`)
}

func TestCatalogGet(t *testing.T) {
	catalog := loadCatalog(t, "testdata/transformation.csv")
	assert.Equal(t, []string{"nsti", "pima_diabetes", "qcsi"}, catalog.Models())

	_, err := catalog.Get("charm")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestTransformConcurrentRequests(t *testing.T) {
	qcsi := table(t, loadCatalog(t, "testdata/transformation.csv"), "qcsi")

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < cap(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr, want := 20, int64(0)
			if i%2 == 1 {
				rr, want = 30, int64(2)
			}
			vector, err := qcsi.TransformValues(map[string]interface{}{"respiratory_rate": rr})
			if err != nil {
				errs <- err
				return
			}
			if vector[0] != want {
				errs <- fmt.Errorf("request %d: got %v, want %v", i, vector[0], want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
