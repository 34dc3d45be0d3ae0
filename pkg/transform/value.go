package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical coerces v into one of nil, bool, int64, float64 or string, or
// a []interface{} of those.
// Strings are interpreted: "true"/"false" become booleans, "none" becomes
// nil, "nan" becomes NaN and numeric text becomes int64 or float64.
func Canonical(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	case json.Number:
		return parseScalar(val.String())
	case string:
		return parseScalar(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Canonical(item)
		}
		return out
	case fmt.Stringer:
		return parseScalar(val.String())
	default:
		return parseScalar(fmt.Sprint(val))
	}
}

func parseScalar(s string) interface{} {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "none":
		return nil
	case "nan":
		return math.NaN()
	}

	trimmed := strings.TrimSpace(s)
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return s
}

// vectorValue is the form a value takes in an output vector: canonical, with
// booleans widened to 1 and 0.
func vectorValue(v interface{}) interface{} {
	c := Canonical(v)
	if b, ok := c.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return c
}

// numeric reports the float64 view of a canonical value.
func numeric(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// integral reports the int64 view of a canonical value when it is an
// integer or boolean.
func integral(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func isNaN(v interface{}) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

func roundTo(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}
