package feature

import (
	"fmt"
	"math"
	"strings"

	"github.com/synaptica-ai/mocab/pkg/transform"
)

// SearchType picks one value out of the samples found for a feature.
type SearchType int

const (
	SearchLatest SearchType = iota
	SearchMax
	SearchMin
	SearchAll
)

var searchTypes = map[string]SearchType{
	"latest": SearchLatest,
	"max":    SearchMax,
	"min":    SearchMin,
	"all":    SearchAll,
}

// ParseSearchType maps the search_type column; empty means latest.
func ParseSearchType(s string) (SearchType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SearchLatest, nil
	}
	if st, ok := searchTypes[s]; ok {
		return st, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSearchType, s)
}

func (s SearchType) String() string {
	for name, st := range searchTypes {
		if st == s {
			return name
		}
	}
	return fmt.Sprintf("SearchType(%d)", int(s))
}

// Sample is one value found for a feature. Date is a normalised
// "YYYY-MM-DDThh:mm" string or nil.
type Sample struct {
	Date  interface{} `json:"date"`
	Value interface{} `json:"value"`
}

// Reduce collapses samples, ordered newest first, into one input. Max and
// min ignore values that are not numbers and keep the first sample on ties.
// All keeps every value as a list dated with the newest sample.
func Reduce(st SearchType, samples []Sample) transform.Input {
	switch st {
	case SearchMax, SearchMin:
		best, found := -1, 0.0
		for i, s := range samples {
			v, ok := number(s.Value)
			if !ok {
				continue
			}
			if best < 0 || (st == SearchMax && v > found) || (st == SearchMin && v < found) {
				best, found = i, v
			}
		}
		if best < 0 {
			return transform.Input{}
		}
		return input(samples[best])
	case SearchAll:
		if len(samples) == 0 {
			return transform.Input{}
		}
		values := make([]interface{}, len(samples))
		for i, s := range samples {
			values[i] = s.Value
		}
		in := input(samples[0])
		in.Value = values
		return in
	default:
		if len(samples) == 0 {
			return transform.Input{}
		}
		return input(samples[0])
	}
}

func input(s Sample) transform.Input {
	in := transform.Input{Value: s.Value}
	if d, ok := s.Date.(string); ok {
		in.Date = d
	}
	return in
}

func number(v interface{}) (float64, bool) {
	switch n := transform.Canonical(v).(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	}
	return 0, false
}
