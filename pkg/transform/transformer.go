package transform

// Input is one extracted feature value together with the date of the record
// it came from.
type Input struct {
	Value interface{} `json:"value"`
	Date  string      `json:"date,omitempty"`
}

// Transform builds the feature vector for one request. Inputs without a
// matching numeric variable are ignored; slots without a value are nil.
func (t *Table) Transform(inputs map[string]Input) ([]interface{}, error) {
	f := t.NewFrame()
	for name, in := range inputs {
		f.Set(name, in.Value)
	}
	return f.Vector()
}

// TransformValues is Transform for bare values.
func (t *Table) TransformValues(values map[string]interface{}) ([]interface{}, error) {
	f := t.NewFrame()
	for name, v := range values {
		f.Set(name, v)
	}
	return f.Vector()
}

// InputsFromMap converts decoded JSON of the form {"name": {"value": v,
// "date": d}} into inputs. Entries of any other shape are skipped.
func InputsFromMap(raw map[string]interface{}) map[string]Input {
	out := make(map[string]Input, len(raw))
	for name, entry := range raw {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		v, ok := m["value"]
		if !ok {
			continue
		}
		in := Input{Value: v}
		if d, ok := m["date"].(string); ok {
			in.Date = d
		}
		out[name] = in
	}
	return out
}
