package route

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuleTable(t *testing.T) {
	table, err := LoadRuleTable("testdata/resource.route")
	require.NoError(t, err)

	assert.Equal(t, 9, table.Len())
	assert.Equal(t, []string{
		"condition_datetime",
		"margin_display",
		"observation_datetime",
		"observation_period",
		"observation_quantity",
		"patient_age",
		"procedure_datetime",
		"procedure_period",
		"systolic",
	}, table.Names())

	rule, ok := table.Get("systolic")
	require.True(t, ok)
	assert.Equal(t, ResourceObservation, rule.Resource)
	assert.Equal(t, `component.{code:{coding:{code:"8480-6"}}}.valueQuantity.value`, rule.Expr)
	assert.Empty(t, rule.Builtin)

	rule, ok = table.Get("margin_display")
	require.True(t, ok)
	assert.Equal(t, ResourceProcedure, rule.Resource)
	assert.Equal(t, 5, rule.Plan.Len())

	rule, ok = table.Get("patient_age")
	require.True(t, ok)
	assert.Equal(t, ResourcePatient, rule.Resource)
	assert.Equal(t, "get_age", rule.Builtin)

	_, ok = table.Get("missing")
	assert.False(t, ok)
}

func TestParseRuleTableComments(t *testing.T) {
	table, err := ParseRuleTable(strings.NewReader(
		"# vitals = observation routes\n" +
			`vitals_code=Observation.code.coding.{system:"http://example.org/cs#vitals"}.code  # fragment system` + "\n" +
			"status=Observation.status # trailing comment\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "vitals_code"}, table.Names())

	rule, ok := table.Get("vitals_code")
	require.True(t, ok)
	assert.Equal(t, `code.coding.{system:"http://example.org/cs#vitals"}.code`, rule.Expr)

	record := map[string]interface{}{"code": map[string]interface{}{"coding": []interface{}{
		map[string]interface{}{"system": "http://loinc.org", "code": "9279-1"},
		map[string]interface{}{"system": "http://example.org/cs#vitals", "code": "rr"},
	}}}
	got, ok := Resolve(rule.Plan, record)
	require.True(t, ok)
	assert.Equal(t, "rr", got)

	rule, ok = table.Get("status")
	require.True(t, ok)
	assert.Equal(t, "status", rule.Expr)
}

func TestParseRuleTableErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{"duplicate", "a=Observation.x\na=Observation.y\n", ErrDuplicateRule},
		{"unknown resource", "a=Encounter.period.start\n", ErrUnknownResourceType},
		{"no route", "a=Observation\n", ErrMalformedRule},
		{"no name", "=Observation.x\n", ErrMalformedRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleTable(strings.NewReader(tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), err.Error())
		})
	}

	_, err := ParseRuleTable(strings.NewReader("a=Observation.{code:\"1\"\n"))
	var malformed *MalformedPathError
	assert.True(t, errors.As(err, &malformed))
	assert.Contains(t, err.Error(), "line 1")
}

func TestParseResourceType(t *testing.T) {
	rt, err := ParseResourceType("observation")
	require.NoError(t, err)
	assert.Equal(t, ResourceObservation, rt)
	assert.Equal(t, "Observation", rt.String())

	rt, err = ParseResourceType(" PATIENT ")
	require.NoError(t, err)
	assert.Equal(t, ResourcePatient, rt)

	_, err = ParseResourceType("MedicationRequest")
	assert.ErrorIs(t, err, ErrUnknownResourceType)
	assert.Equal(t, "Unknown", ResourceUnknown.String())
}

func TestNewRuleTableRejectsDuplicates(t *testing.T) {
	rule := Rule{Name: "x", Resource: ResourceObservation, Plan: MustCompile("a")}
	_, err := NewRuleTable(rule, rule)
	assert.ErrorIs(t, err, ErrDuplicateRule)
}
