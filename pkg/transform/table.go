package transform

import (
	"fmt"
	"sort"
	"strings"
)

// Row is one line of a transformation table.
type Row struct {
	Model     string `yaml:"model"`
	Feature   string `yaml:"feature"`
	Type      string `yaml:"type"`
	Formulate string `yaml:"formulate"`
	// Index is the 1-based vector position; zero leaves the variable
	// unplaced so other rows can reference it.
	Index     int  `yaml:"index"`
	Precision *int `yaml:"precision"`
	// Line is the source line, used in error messages.
	Line int `yaml:"-"`
}

// Table is the built transformation graph of one model. It is immutable and
// safe for concurrent use; per-request values live in a Frame.
type Table struct {
	model   string
	nodes   []node
	seed    []interface{}
	inputs  map[string]int
	derived map[string][]int
	slots   [][]int
	columns []string
}

func (t *Table) Model() string { return t.model }

// Len is the length of the vectors the table produces.
func (t *Table) Len() int { return len(t.slots) }

// Columns names the feature occupying each vector position.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Inputs lists the numeric features a request may set, sorted.
func (t *Table) Inputs() []string {
	out := make([]string, 0, len(t.inputs))
	for name := range t.inputs {
		if name != DefaultFeature {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// NewFrame returns an empty frame for one request.
func (t *Table) NewFrame() *Frame {
	cells := make([]interface{}, len(t.seed))
	copy(cells, t.seed)
	return &Frame{
		table: t,
		cells: cells,
		memo:  make([]interface{}, len(t.nodes)),
		done:  make([]bool, len(t.nodes)),
	}
}

// lookup resolves a bracketed name: unplaced category and formula rows
// first, then numeric variables.
func (t *Table) lookup(name string) (reference, error) {
	if nodes, ok := t.derived[name]; ok {
		return reference{name: name, nodes: append([]int(nil), nodes...)}, nil
	}
	if n, ok := t.inputs[name]; ok {
		return reference{name: name, nodes: []int{n}}, nil
	}
	return reference{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
}

type builder struct {
	t *Table
}

func newBuilder(model string) *builder {
	b := &builder{t: &Table{
		model:   model,
		inputs:  make(map[string]int),
		derived: make(map[string][]int),
	}}
	n := b.input(DefaultFeature)
	b.t.seed[b.t.nodes[n].cell] = DefaultSentinel
	return b
}

// input returns the numeric node for name, creating its cell on first use.
// Every numeric row with the same name shares one cell.
func (b *builder) input(name string) int {
	if n, ok := b.t.inputs[name]; ok {
		return n
	}
	cell := len(b.t.seed)
	b.t.seed = append(b.t.seed, nil)
	b.t.nodes = append(b.t.nodes, node{kind: KindNumeric, feature: name, cell: cell})
	n := len(b.t.nodes) - 1
	b.t.inputs[name] = n
	return n
}

func (b *builder) add(row Row) error {
	feature := strings.TrimSpace(row.Feature)
	if feature == "" {
		return fmt.Errorf("%w: empty feature name", ErrMalformedFormula)
	}
	if feature == DefaultFeature {
		return fmt.Errorf("%w: %q", ErrReservedFeature, feature)
	}
	kind, err := ParseKind(row.Type)
	if err != nil {
		return err
	}
	if row.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrIndexGap, row.Index)
	}

	var n int
	switch kind {
	case KindNumeric:
		n = b.input(feature)
	case KindCategory:
		nd, err := b.category(feature, row.Formulate)
		if err != nil {
			return err
		}
		n = b.push(nd, row.Index == 0)
	case KindFormula:
		e, err := parseFormula(strings.TrimSpace(row.Formulate), b.t.lookup)
		if err != nil {
			return err
		}
		n = b.push(node{kind: KindFormula, feature: feature, formula: e, precision: row.Precision}, row.Index == 0)
	}

	if row.Index > 0 {
		return b.place(row.Index, feature, n)
	}
	return nil
}

// push appends nd to the arena. Unplaced rows become referenceable under
// their feature name; rows sharing a name are tried in declaration order.
func (b *builder) push(nd node, referenceable bool) int {
	b.t.nodes = append(b.t.nodes, nd)
	n := len(b.t.nodes) - 1
	if referenceable {
		b.t.derived[nd.feature] = append(b.t.derived[nd.feature], n)
	}
	return n
}

func (b *builder) place(index int, feature string, n int) error {
	for len(b.t.slots) < index {
		b.t.slots = append(b.t.slots, nil)
		b.t.columns = append(b.t.columns, "")
	}
	if col := b.t.columns[index-1]; col != "" && col != feature {
		return fmt.Errorf("%w: index %d holds %q", ErrDuplicateIndex, index, col)
	}
	b.t.slots[index-1] = append(b.t.slots[index-1], n)
	b.t.columns[index-1] = feature
	return nil
}

// category parses "label=cond&cond...". A condition is one of
//
//	[default]             always true
//	threshold             the feature itself equals threshold
//	[subject]op|threshold subject compared with op; subject and op optional
//
// where label and threshold may be a bracketed variable name.
func (b *builder) category(feature, formulate string) (node, error) {
	label, body, ok := strings.Cut(formulate, "=")
	label, body = strings.TrimSpace(label), strings.TrimSpace(body)
	if !ok || label == "" || body == "" {
		return node{}, fmt.Errorf("%w: category %q needs label=conditions", ErrMalformedFormula, formulate)
	}

	nd := node{kind: KindCategory, feature: feature}
	if name, ok := bracketed(label); ok {
		ref, err := b.t.lookup(name)
		if err != nil {
			return node{}, err
		}
		nd.labelRef = &ref
	} else {
		nd.label = Canonical(label)
	}

	for _, raw := range strings.Split(body, "&") {
		c, err := b.condition(feature, strings.TrimSpace(raw))
		if err != nil {
			return node{}, err
		}
		nd.conditions = append(nd.conditions, c)
	}
	return nd, nil
}

func (b *builder) condition(feature, raw string) (condition, error) {
	// Without a subject the condition tests the feature itself: an earlier
	// unplaced row of the same name, else its numeric input.
	self := func() reference {
		if ref, err := b.t.lookup(feature); err == nil {
			return ref
		}
		return reference{name: feature, nodes: []int{b.input(feature)}}
	}

	if raw == "" {
		return condition{}, fmt.Errorf("%w: empty condition", ErrMalformedFormula)
	}
	if raw == "["+DefaultFeature+"]" {
		ref, _ := b.t.lookup(DefaultFeature)
		return condition{subject: ref, op: OpEq, threshold: DefaultSentinel}, nil
	}

	left, threshold, ok := strings.Cut(raw, "|")
	if !ok {
		return b.threshold(condition{subject: self(), op: OpEq}, raw)
	}

	c := condition{op: OpEq}
	left = strings.TrimSpace(left)
	if strings.HasPrefix(left, "[") {
		end := strings.IndexByte(left, ']')
		if end < 0 {
			return condition{}, fmt.Errorf("%w: unclosed '[' in condition %q", ErrMalformedFormula, raw)
		}
		ref, err := b.t.lookup(strings.TrimSpace(left[1:end]))
		if err != nil {
			return condition{}, err
		}
		c.subject = ref
		left = strings.TrimSpace(left[end+1:])
	} else {
		c.subject = self()
	}
	if left != "" {
		op, err := ParseOperator(left)
		if err != nil {
			return condition{}, err
		}
		c.op = op
	}

	threshold = strings.TrimSpace(threshold)
	if threshold == "" {
		return condition{}, fmt.Errorf("%w: condition %q has no threshold", ErrMalformedFormula, raw)
	}
	return b.threshold(c, threshold)
}

func (b *builder) threshold(c condition, raw string) (condition, error) {
	if name, ok := bracketed(raw); ok {
		ref, err := b.t.lookup(name)
		if err != nil {
			return condition{}, err
		}
		c.thresholdRef = &ref
		return c, nil
	}
	if strings.EqualFold(raw, "nan") {
		switch c.op {
		case OpEq:
			c.op = OpIs
		case OpNe:
			c.op = OpIsNot
		default:
			return condition{}, fmt.Errorf("%w: %s against nan", ErrUnsupportedOperator, c.op)
		}
		return c, nil
	}
	c.threshold = Canonical(raw)
	return c, nil
}

// finish checks that the placed indexes form 1..N.
func (b *builder) finish() (*Table, error) {
	var missing []string
	for i, slot := range b.t.slots {
		if len(slot) == 0 {
			missing = append(missing, fmt.Sprint(i+1))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: model %q has no variable at index %s",
			ErrIndexGap, b.t.model, strings.Join(missing, ", "))
	}
	return b.t, nil
}

func bracketed(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return strings.TrimSpace(s[1 : len(s)-1]), true
	}
	return "", false
}

// Catalog holds the built table of every model.
type Catalog struct {
	tables map[string]*Table
}

// Build groups rows by model and builds each model's table in row order. A
// row may only reference variables declared on earlier rows.
func Build(rows []Row) (*Catalog, error) {
	builders := make(map[string]*builder)
	var order []string
	for _, row := range rows {
		model := strings.TrimSpace(row.Model)
		b, ok := builders[model]
		if !ok {
			b = newBuilder(model)
			builders[model] = b
			order = append(order, model)
		}
		if err := b.add(row); err != nil {
			return nil, rowError(row, err)
		}
	}

	c := &Catalog{tables: make(map[string]*Table, len(builders))}
	for _, model := range order {
		t, err := builders[model].finish()
		if err != nil {
			return nil, err
		}
		c.tables[model] = t
	}
	return c, nil
}

func rowError(row Row, err error) error {
	if row.Line > 0 {
		return fmt.Errorf("line %d: model %q feature %q: %w", row.Line, row.Model, row.Feature, err)
	}
	return fmt.Errorf("model %q feature %q: %w", row.Model, row.Feature, err)
}

func (c *Catalog) Get(model string) (*Table, error) {
	t, ok := c.tables[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return t, nil
}

// Models lists the model names, sorted.
func (c *Catalog) Models() []string {
	out := make([]string, 0, len(c.tables))
	for name := range c.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
