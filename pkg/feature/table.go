// Package feature describes where each model feature comes from and
// assembles feature values for a patient from FHIR search results.
package feature

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/mocab/pkg/route"
	"github.com/synaptica-ai/mocab/pkg/terminology"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

var (
	ErrFeatureCodeEmpty  = errors.New("feature code is empty")
	ErrUnknownSearchType = errors.New("unknown search type")
	ErrUnknownModel      = errors.New("unknown model")
	ErrUnknownRule       = errors.New("unknown resource route")
	ErrMissingValueRoute = errors.New("patient feature needs a value route")
)

var featureColumns = []string{
	"model", "feature", "code", "code_system", "data_alive_time",
	"default_value", "value_route", "datetime_route", "search_type", "type_of_data",
}

// Feature is the extraction config of one model feature.
type Feature struct {
	Model string
	Name  string
	// Codes holds "system|code" tokens; repeated rows for the same feature
	// add codes.
	Codes          []string
	Alive          *AliveWindow
	DefaultValue   interface{}
	HasDefault     bool
	ValueRoutes    []string
	DatetimeRoutes []string
	Search         SearchType
	Resource       route.ResourceType
	// Extra keeps columns the table does not interpret.
	Extra map[string]string
}

// Code is the FHIR search token list for the feature.
func (f *Feature) Code() string {
	return strings.Join(f.Codes, ",")
}

// Table holds the features of every model, in file order.
type Table struct {
	models map[string][]*Feature
}

type tableOptions struct {
	systems terminology.Catalog
}

type TableOption func(*tableOptions)

// WithTerminology expands code_system aliases such as "loinc" through cat
// instead of the default catalog.
func WithTerminology(cat terminology.Catalog) TableOption {
	return func(o *tableOptions) { o.systems = cat }
}

func LoadTable(path string, opts ...TableOption) (*Table, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	t, err := ParseTable(file, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func ParseTable(r io.Reader, opts ...TableOption) (*Table, error) {
	options := tableOptions{systems: terminology.DefaultCatalog()}
	for _, opt := range opts {
		opt(&options)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty feature table")
		}
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range featureColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	t := &Table{models: make(map[string][]*Feature)}
	index := make(map[string]*Feature)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		row := make(map[string]string, len(columns))
		for name, i := range columns {
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			}
		}
		if row["model"] == "" && row["feature"] == "" {
			continue
		}

		key := row["model"] + "\x00" + row["feature"]
		f, seen := index[key]
		if !seen {
			f = &Feature{Model: row["model"], Name: row["feature"]}
		}
		if err := f.apply(row, options.systems); err != nil {
			return nil, fmt.Errorf("line %d: feature %q: %w", line, row["feature"], err)
		}
		if !seen {
			index[key] = f
			t.models[f.Model] = append(t.models[f.Model], f)
		}
	}
	return t, nil
}

// apply merges one row into f. Codes accumulate; every other column takes
// the value of the latest row.
func (f *Feature) apply(row map[string]string, systems terminology.Catalog) error {
	resource, err := route.ParseResourceType(row["type_of_data"])
	if err != nil {
		return err
	}
	f.Resource = resource

	code := row["code"]
	if row["code_system"] != "" {
		code = systems.System(row["code_system"]) + "|" + code
	}
	if code == "" && resource != route.ResourcePatient {
		return ErrFeatureCodeEmpty
	}
	if code != "" {
		f.Codes = append(f.Codes, code)
	}

	f.Alive = nil
	if s := row["data_alive_time"]; s != "" {
		window, err := ParseAliveWindow(s)
		if err != nil {
			return err
		}
		f.Alive = &window
	}

	f.DefaultValue, f.HasDefault = nil, false
	if s := row["default_value"]; s != "" {
		f.DefaultValue, f.HasDefault = transform.Canonical(s), true
	}

	f.ValueRoutes = splitRoutes(row["value_route"])
	f.DatetimeRoutes = splitRoutes(row["datetime_route"])

	if f.Search, err = ParseSearchType(row["search_type"]); err != nil {
		return err
	}

	for name, value := range row {
		if isFeatureColumn(name) {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]string)
		}
		f.Extra[name] = value
	}
	return nil
}

func splitRoutes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, "&") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isFeatureColumn(name string) bool {
	for _, c := range featureColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Features returns the features of a model in file order.
func (t *Table) Features(model string) ([]*Feature, error) {
	features, ok := t.models[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return features, nil
}

func (t *Table) Models() []string {
	out := make([]string, 0, len(t.models))
	for name := range t.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks every route a feature names against rules.
func (t *Table) Validate(rules *route.RuleTable) error {
	for _, model := range t.Models() {
		for _, f := range t.models[model] {
			if f.Resource == route.ResourcePatient && len(f.ValueRoutes) == 0 {
				return fmt.Errorf("model %q feature %q: %w", model, f.Name, ErrMissingValueRoute)
			}
			s := strategies[f.Resource]
			names := append(append([]string(nil), f.ValueRoutes...), f.DatetimeRoutes...)
			if len(f.ValueRoutes) == 0 {
				names = append(names, s.valueRoutes...)
			}
			if len(f.DatetimeRoutes) == 0 {
				names = append(names, s.datetimeRoutes...)
			}
			for _, name := range names {
				rule, ok := rules.Get(name)
				if !ok {
					return fmt.Errorf("model %q feature %q: %w: %q", model, f.Name, ErrUnknownRule, name)
				}
				if rule.Builtin != "" {
					if _, ok := builtins[rule.Builtin]; !ok {
						return fmt.Errorf("model %q feature %q: %w: builtin %s()", model, f.Name, ErrUnknownRule, rule.Builtin)
					}
				}
			}
		}
	}
	return nil
}
