package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDatetime(t *testing.T) {
	tests := []struct {
		input interface{}
		want  interface{}
	}{
		{"2024-03-15T10:04:59Z", "2024-03-15T10:04"},
		{"2024-03-15T08:00:00+08:00", "2024-03-15T08:00"},
		{"2024-03-15T08:00", "2024-03-15T08:00"},
		{"2024-03-15", "2024-03-15T00:00"},
		{"2024-13-01", nil},
		{"15/03/2024", nil},
		{"", nil},
		{20240315, nil},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDatetime(tt.input), "%v", tt.input)
	}
}

func TestPatientAge(t *testing.T) {
	ref := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(24), patientAge(map[string]interface{}{"birthDate": "2000-03-01"}, ref))
	assert.Equal(t, int64(0), patientAge(map[string]interface{}{"birthDate": "2024-01-01"}, ref))
	assert.Nil(t, patientAge(map[string]interface{}{"birthDate": "March 2000"}, ref))
	assert.Nil(t, patientAge(map[string]interface{}{"birthDate": 2000}, ref))
	assert.Nil(t, patientAge(map[string]interface{}{"id": "p1"}, ref))
}
