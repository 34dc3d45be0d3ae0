// Package route compiles dotted route expressions into reusable plans and
// resolves them against nested map/slice records such as FHIR resources.
//
// A route is a dot-separated list of segments:
//
//	code.coding.0.display
//	component.{code:{coding:{code:"8480-6"}}}.valueQuantity.value
//	bodySite.{coding:{system:"https://x/",code:"0"}}.coding.0.display
//
// A bare segment addresses a map key, an integer segment addresses a
// sequence position and a {key:value,...} block selects the first sequence
// element whose sub-fields match every pair.
package route

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StepKind identifies what a Step addresses.
type StepKind int

const (
	StepField StepKind = iota
	StepIndex
	StepFilter
)

func (k StepKind) String() string {
	switch k {
	case StepField:
		return "field"
	case StepIndex:
		return "index"
	case StepFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// ClauseKind identifies how a filter clause tests a candidate element.
type ClauseKind int

const (
	// ClauseLiteral matches when the stringified sub-value equals Literal.
	ClauseLiteral ClauseKind = iota
	// ClauseChain matches when Chain resolves against the sub-value.
	ClauseChain
	// ClauseBlock matches when Block selects an element of the sub-value.
	ClauseBlock
)

// Clause is one key:value pair of a filter block.
type Clause struct {
	Key     string
	Kind    ClauseKind
	Literal string
	Chain   Plan
	Block   []Clause
}

// Step is a single compiled segment.
type Step struct {
	Kind   StepKind
	Field  string
	Index  int
	Filter []Clause
}

// Plan is a compiled route. A Plan is immutable and safe for concurrent use.
type Plan struct {
	Steps []Step
}

// Len returns the number of steps in the plan.
func (p Plan) Len() int {
	return len(p.Steps)
}

// String renders the plan back into its canonical expression.
func (p Plan) String() string {
	var b strings.Builder
	writeSteps(&b, p.Steps)
	return b.String()
}

func writeSteps(b *strings.Builder, steps []Step) {
	for i, step := range steps {
		if i > 0 {
			b.WriteByte('.')
		}
		switch step.Kind {
		case StepField:
			b.WriteString(step.Field)
		case StepIndex:
			b.WriteString(strconv.Itoa(step.Index))
		case StepFilter:
			writeBlock(b, step.Filter)
		}
	}
}

func writeBlock(b *strings.Builder, clauses []Clause) {
	b.WriteByte('{')
	for i, c := range clauses {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c.Key)
		b.WriteByte(':')
		switch c.Kind {
		case ClauseLiteral:
			b.WriteByte('"')
			b.WriteString(c.Literal)
			b.WriteByte('"')
		case ClauseChain:
			writeSteps(b, c.Chain.Steps)
		case ClauseBlock:
			writeBlock(b, c.Block)
		}
	}
	b.WriteByte('}')
}

// MalformedPathError reports a route expression that cannot be compiled.
type MalformedPathError struct {
	Expr   string
	Reason string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("malformed route %q: %s", e.Expr, e.Reason)
}

// Compile parses expr into a Plan.
func Compile(expr string) (Plan, error) {
	steps, err := compileChain(expr)
	if err != nil {
		return Plan{}, &MalformedPathError{Expr: expr, Reason: err.Error()}
	}
	return Plan{Steps: steps}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) Plan {
	plan, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return plan
}

func compileChain(expr string) ([]Step, error) {
	segments, err := splitTopLevel(expr, '.')
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(segments))
	for _, raw := range segments {
		segment := strings.TrimSpace(raw)
		if segment == "" {
			return nil, errors.New("empty segment")
		}

		if segment[0] == '{' {
			if segment[len(segment)-1] != '}' {
				return nil, fmt.Errorf("filter block %q has trailing text", segment)
			}
			clauses, err := compileBlock(segment)
			if err != nil {
				return nil, err
			}
			steps = append(steps, Step{Kind: StepFilter, Filter: clauses})
			continue
		}

		if strings.ContainsAny(segment, `{}",:`) {
			return nil, fmt.Errorf("unexpected character in segment %q", segment)
		}

		if index, err := strconv.Atoi(segment); err == nil {
			steps = append(steps, Step{Kind: StepIndex, Index: index})
			continue
		}

		steps = append(steps, Step{Kind: StepField, Field: segment})
	}

	return steps, nil
}

func compileBlock(block string) ([]Clause, error) {
	inner := block[1 : len(block)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, errors.New("empty filter block")
	}

	pairs, err := splitTopLevel(inner, ',')
	if err != nil {
		return nil, err
	}

	clauses := make([]Clause, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("filter pair %q is not key:value", strings.TrimSpace(pair))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "" || strings.ContainsAny(key, `{}"`) {
			return nil, fmt.Errorf("invalid filter key %q", key)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate filter key %q", key)
		}
		seen[key] = struct{}{}

		clause, err := compileClause(key, value)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	return clauses, nil
}

func compileClause(key, value string) (Clause, error) {
	switch {
	case value == "":
		return Clause{}, fmt.Errorf("missing value for filter key %q", key)

	case value[0] == '"':
		if len(value) < 2 || value[len(value)-1] != '"' {
			return Clause{}, fmt.Errorf("unterminated literal for filter key %q", key)
		}
		return Clause{Key: key, Kind: ClauseLiteral, Literal: value[1 : len(value)-1]}, nil

	case value[0] == '{':
		steps, err := compileChain(value)
		if err != nil {
			return Clause{}, err
		}
		if len(steps) != 1 || steps[0].Kind != StepFilter {
			return Clause{}, fmt.Errorf("nested filter for key %q must be a single block", key)
		}
		return Clause{Key: key, Kind: ClauseBlock, Block: steps[0].Filter}, nil

	default:
		steps, err := compileChain(value)
		if err != nil {
			return Clause{}, err
		}
		return Clause{Key: key, Kind: ClauseChain, Chain: Plan{Steps: steps}}, nil
	}
}

// splitTopLevel splits s on sep, ignoring separators nested in braces or
// inside double-quoted literals.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '"' {
				inQuote = false
			}
			continue
		}

		switch c {
		case '"':
			inQuote = true
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced '}' at offset %d", i)
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}

	if inQuote {
		return nil, errors.New("unterminated quoted literal")
	}
	if depth != 0 {
		return nil, errors.New("unclosed '{'")
	}

	return append(parts, s[start:]), nil
}
