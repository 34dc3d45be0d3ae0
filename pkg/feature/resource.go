package feature

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/synaptica-ai/mocab/pkg/route"
)

// Searcher runs a FHIR search and returns the matching resources, newest
// first when the request asks for a date sort.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]map[string]interface{}, error)
}

type SearchRequest struct {
	ResourceType string
	Params       url.Values
}

const fhirDate = "2006-01-02"

// strategy is the per-resource-type behaviour of a feature. A nil record
// stands for a search that found nothing.
type strategy struct {
	search          func(ctx context.Context, s Searcher, patientID string, f *Feature, ref time.Time) ([]interface{}, error)
	value           func(r routes, record interface{}, f *Feature, ref time.Time) interface{}
	valueRoutes     []string
	datetimeRoutes  []string
	datetimeDefault func(ref time.Time) interface{}
}

var strategies = map[route.ResourceType]strategy{
	route.ResourceObservation: {
		search:         searchObservation,
		value:          observationValue,
		valueRoutes:    []string{"observation_quantity"},
		datetimeRoutes: []string{"observation_datetime", "observation_period"},
	},
	route.ResourceCondition: {
		search:         searchByCode("Condition", "recorded-date"),
		value:          presenceValue,
		datetimeRoutes: []string{"condition_datetime"},
	},
	route.ResourceProcedure: {
		search:         searchByCode("Procedure", "date"),
		value:          presenceValue,
		datetimeRoutes: []string{"procedure_datetime", "procedure_period"},
	},
	route.ResourcePatient: {
		search: searchPatient,
		value: func(r routes, record interface{}, f *Feature, ref time.Time) interface{} {
			if record == nil {
				return nil
			}
			return r.first(record, f.ValueRoutes, ref)
		},
		datetimeDefault: func(ref time.Time) interface{} { return ref.Format(fhirDate) },
	},
}

// builtins are the route names a Patient rule may call instead of a path.
var builtins = map[string]func(record interface{}, ref time.Time) interface{}{
	"get_age": patientAge,
}

var birthDate = route.MustCompile("birthDate")

// patientAge is the age in whole 365-day years at ref.
func patientAge(record interface{}, ref time.Time) interface{} {
	raw, ok := route.Resolve(birthDate, record)
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	born, err := time.ParseInLocation(fhirDate, s, ref.Location())
	if err != nil {
		return nil
	}
	days := int64(ref.Sub(born).Hours() / 24)
	return days / 365
}

func codeParams(patientID string, f *Feature) url.Values {
	params := url.Values{}
	params.Set("subject", patientID)
	params.Set("code", f.Code())
	return params
}

func searchObservation(ctx context.Context, s Searcher, patientID string, f *Feature, ref time.Time) ([]interface{}, error) {
	params := codeParams(patientID, f)
	params.Set("_sort", "-date")
	if f.Alive != nil {
		params.Set("date", "ge"+f.Alive.Since(ref).Format(fhirDate))
	}
	found, err := s.Search(ctx, SearchRequest{ResourceType: "Observation", Params: params})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		// Panels such as blood pressure carry the code on a component.
		retry := url.Values{}
		for k, v := range params {
			retry[k] = v
		}
		retry.Set("component-code", retry.Get("code"))
		retry.Del("code")
		if found, err = s.Search(ctx, SearchRequest{ResourceType: "Observation", Params: retry}); err != nil {
			return nil, err
		}
	}
	return records(found), nil
}

func searchByCode(resourceType, dateParam string) func(context.Context, Searcher, string, *Feature, time.Time) ([]interface{}, error) {
	return func(ctx context.Context, s Searcher, patientID string, f *Feature, ref time.Time) ([]interface{}, error) {
		params := codeParams(patientID, f)
		params.Set("_sort", "-"+dateParam)
		if f.Alive != nil {
			params.Set(dateParam, "ge"+f.Alive.Since(ref).Format(fhirDate))
		}
		found, err := s.Search(ctx, SearchRequest{ResourceType: resourceType, Params: params})
		if err != nil {
			return nil, err
		}
		return records(found), nil
	}
}

func searchPatient(ctx context.Context, s Searcher, patientID string, _ *Feature, _ time.Time) ([]interface{}, error) {
	params := url.Values{}
	params.Set("_id", patientID)
	params.Set("_count", "1")
	found, err := s.Search(ctx, SearchRequest{ResourceType: "Patient", Params: params})
	if err != nil {
		return nil, err
	}
	if len(found) > 1 {
		found = found[:1]
	}
	return records(found), nil
}

// records widens found resources; an empty result becomes a single nil
// record so the feature still yields a sample.
func records(found []map[string]interface{}) []interface{} {
	if len(found) == 0 {
		return []interface{}{nil}
	}
	out := make([]interface{}, len(found))
	for i, r := range found {
		out[i] = r
	}
	return out
}

func observationValue(r routes, record interface{}, f *Feature, ref time.Time) interface{} {
	if record == nil {
		return f.DefaultValue
	}
	return r.first(record, f.ValueRoutes, ref)
}

// presenceValue reports whether the patient has the condition or
// procedure, unless the feature routes to a value inside it.
func presenceValue(r routes, record interface{}, f *Feature, ref time.Time) interface{} {
	if record == nil {
		if f.HasDefault {
			return f.DefaultValue
		}
		return false
	}
	if len(f.ValueRoutes) == 0 {
		return true
	}
	return r.first(record, f.ValueRoutes, ref)
}

// routes resolves named rules from a rule table.
type routes struct {
	rules *route.RuleTable
}

// first returns the first non-nil value among the named rules.
func (r routes) first(record interface{}, names []string, ref time.Time) interface{} {
	for _, name := range names {
		rule, ok := r.rules.Get(name)
		if !ok {
			continue
		}
		if rule.Builtin != "" {
			if fn, ok := builtins[rule.Builtin]; ok {
				if v := fn(record, ref); v != nil {
					return v
				}
			}
			continue
		}
		if v, ok := route.Resolve(rule.Plan, record); ok && v != nil {
			return v
		}
	}
	return nil
}

func (s strategy) sample(r routes, record interface{}, f *Feature, ref time.Time) Sample {
	if len(f.ValueRoutes) == 0 && len(s.valueRoutes) > 0 {
		g := *f
		g.ValueRoutes = s.valueRoutes
		f = &g
	}

	var date interface{}
	switch {
	case record == nil:
	case len(f.DatetimeRoutes) > 0:
		date = r.first(record, f.DatetimeRoutes, ref)
	case s.datetimeDefault != nil:
		date = s.datetimeDefault(ref)
	default:
		date = r.first(record, s.datetimeRoutes, ref)
	}
	return Sample{Date: FormatDatetime(date), Value: s.value(r, record, f, ref)}
}

var (
	dateTimePrefix = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])T([01]\d|2[0-3]):[0-5]\d`)
	datePrefix     = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])`)
)

// FormatDatetime normalises a FHIR date or dateTime to "YYYY-MM-DDThh:mm".
// Date-only values get "T00:00"; anything else is nil.
func FormatDatetime(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	switch {
	case dateTimePrefix.MatchString(s):
		return s[:16]
	case datePrefix.MatchString(s):
		return s[:10] + "T00:00"
	}
	return nil
}
