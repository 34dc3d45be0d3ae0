package route

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Resolve walks plan against record. It returns the value found and true,
// or nil and false when any step cannot be satisfied. A present null is
// reported as (nil, true). Resolve never panics on malformed records.
func Resolve(plan Plan, record interface{}) (interface{}, bool) {
	return walk(plan.Steps, record)
}

// ResolveOr returns def when plan does not resolve against record.
func ResolveOr(plan Plan, record interface{}, def interface{}) interface{} {
	if value, ok := Resolve(plan, record); ok {
		return value
	}
	return def
}

func walk(steps []Step, current interface{}) (interface{}, bool) {
	for _, step := range steps {
		if current == nil {
			return nil, false
		}

		var ok bool
		switch step.Kind {
		case StepField:
			current, ok = lookupField(current, step.Field)
		case StepIndex:
			current, ok = lookupIndex(current, step.Index)
		case StepFilter:
			current, ok = lookupFilter(current, step.Filter)
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupField(current interface{}, name string) (interface{}, bool) {
	if m, ok := current.(map[string]interface{}); ok {
		value, found := m[name]
		return value, found
	}

	rv := indirect(reflect.ValueOf(current))
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		value := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !value.IsValid() {
			return nil, false
		}
		return normalize(value), true
	case reflect.Struct:
		return structField(rv, name)
	default:
		return nil, false
	}
}

func structField(rv reflect.Value, name string) (interface{}, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if strings.EqualFold(tag, name) || (tag == "" && strings.EqualFold(field.Name, name)) {
			return normalize(rv.Field(i)), true
		}
	}
	return nil, false
}

func lookupIndex(current interface{}, index int) (interface{}, bool) {
	if list, ok := current.([]interface{}); ok {
		if index < 0 {
			index += len(list)
		}
		if index < 0 || index >= len(list) {
			return nil, false
		}
		return list[index], true
	}

	rv := indirect(reflect.ValueOf(current))
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if index < 0 {
		index += rv.Len()
	}
	if index < 0 || index >= rv.Len() {
		return nil, false
	}
	return normalize(rv.Index(index)), true
}

func lookupFilter(current interface{}, clauses []Clause) (interface{}, bool) {
	if list, ok := current.([]interface{}); ok {
		for _, elem := range list {
			if matches(elem, clauses) {
				return elem, true
			}
		}
		return nil, false
	}

	rv := indirect(reflect.ValueOf(current))
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	for i := 0; i < rv.Len(); i++ {
		elem := normalize(rv.Index(i))
		if matches(elem, clauses) {
			return elem, true
		}
	}
	return nil, false
}

func matches(elem interface{}, clauses []Clause) bool {
	if elem == nil {
		return false
	}
	for _, clause := range clauses {
		sub, found := lookupField(elem, clause.Key)
		if !found || sub == nil {
			return false
		}

		switch clause.Kind {
		case ClauseLiteral:
			if !literalMatches(sub, clause.Literal) {
				return false
			}
		case ClauseChain:
			value, ok := walk(clause.Chain.Steps, sub)
			if !ok || value == nil {
				return false
			}
		case ClauseBlock:
			if _, ok := lookupFilter(sub, clause.Block); !ok {
				return false
			}
		}
	}
	return true
}

// literalMatches compares the string form of v with literal. Booleans also
// match the capitalised "True" and "False" found in older route files.
func literalMatches(v interface{}, literal string) bool {
	if stringify(v) == literal {
		return true
	}
	if b, ok := v.(bool); ok {
		if b {
			return literal == "True"
		}
		return literal == "False"
	}
	return false
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// normalize unwraps a reflected value, mapping nil pointers, maps, slices and
// interfaces to an untyped nil so absence checks stay uniform.
func normalize(rv reflect.Value) interface{} {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
	}
	if !rv.CanInterface() {
		return nil
	}
	return rv.Interface()
}
