package terminology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()
	assert.Equal(t, "http://loinc.org", cat.System("loinc"))
	assert.Equal(t, "http://snomed.info/sct", cat.System(" SNOMED "))
	assert.Equal(t, "https://www.hpa.gov.tw/", cat.System("https://www.hpa.gov.tw/"))
	assert.Equal(t, "", cat.System(""))
}

func TestLoad(t *testing.T) {
	cat, err := Load("testdata/systems.yaml")
	require.NoError(t, err)
	assert.Equal(t, "http://loinc.org", cat.System("loinc"))
	assert.Equal(t, "https://www.nhi.gov.tw/codes", cat.System("NHI"))
	assert.Equal(t, "snomed", cat.System("snomed"), "a loaded catalog replaces the defaults")

	cat, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://loinc.org", cat.System("loinc"))

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}
