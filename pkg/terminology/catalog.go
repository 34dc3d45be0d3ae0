// Package terminology maps short code system names used in configuration
// tables to the canonical FHIR system URIs.
package terminology

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Catalog struct {
	// Systems maps a lower-case alias to a system URI.
	Systems map[string]string `yaml:"systems" json:"systems"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Systems) == 0 {
		return Catalog{}, fmt.Errorf("terminology catalog empty")
	}
	systems := make(map[string]string, len(cat.Systems))
	for alias, uri := range cat.Systems {
		systems[strings.ToLower(strings.TrimSpace(alias))] = strings.TrimSpace(uri)
	}
	cat.Systems = systems
	return cat, nil
}

// System returns the URI for alias. Values that are not aliases, such as
// URIs already, come back unchanged.
func (c Catalog) System(alias string) string {
	if uri, ok := c.Systems[strings.ToLower(strings.TrimSpace(alias))]; ok {
		return uri
	}
	return alias
}

func DefaultCatalog() Catalog {
	return Catalog{Systems: map[string]string{
		"loinc":  "http://loinc.org",
		"snomed": "http://snomed.info/sct",
		"icd10":  "http://hl7.org/fhir/sid/icd-10",
		"rxnorm": "http://www.nlm.nih.gov/research/umls/rxnorm",
		"ucum":   "http://unitsofmeasure.org",
	}}
}
