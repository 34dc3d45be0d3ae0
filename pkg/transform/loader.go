package transform

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var requiredColumns = []string{"model", "feature", "type", "formulate", "index"}

// LoadFile reads a transformation table from a .csv, .yaml or .yml file and
// builds it.
func LoadFile(path string) (*Catalog, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var rows []Row
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		rows, err = LoadRowsYAML(bytes.NewReader(content))
	default:
		rows, err = LoadRowsCSV(bytes.NewReader(content))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	catalog, err := Build(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// LoadRowsCSV reads rows from CSV with a header naming at least model,
// feature, type, formulate and index. An optional precision column rounds
// formula results.
func LoadRowsCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty transformation table")
		}
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		get := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if get("model") == "" && get("feature") == "" {
			continue
		}

		row := Row{
			Model:     get("model"),
			Feature:   get("feature"),
			Type:      get("type"),
			Formulate: get("formulate"),
			Line:      line,
		}
		if row.Index, err = parseOptionalInt(get("index")); err != nil {
			return nil, fmt.Errorf("line %d: index: %w", line, err)
		}
		if p := get("precision"); p != "" {
			precision, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("line %d: precision: %w", line, err)
			}
			row.Precision = &precision
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

type rowsDocument struct {
	Rows []Row `yaml:"rows"`
}

// LoadRowsYAML reads a document of the form
//
//	rows:
//	  - model: qcsi
//	    feature: spo2
//	    type: category
//	    formulate: "0=gt|92"
//	    index: 2
func LoadRowsYAML(r io.Reader) ([]Row, error) {
	var doc rowsDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty transformation table")
		}
		return nil, err
	}
	if len(doc.Rows) == 0 {
		return nil, errors.New("no transformation rows configured")
	}
	for i := range doc.Rows {
		doc.Rows[i].Line = i + 1
	}
	return doc.Rows, nil
}
