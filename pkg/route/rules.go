package route

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrDuplicateRule       = errors.New("duplicate rule name")
	ErrUnknownResourceType = errors.New("unknown resource type")
	ErrMalformedRule       = errors.New("malformed rule")
)

// ResourceType is the closed set of FHIR resource types a rule can target.
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourceObservation
	ResourceCondition
	ResourceProcedure
	ResourcePatient
)

var resourceTypeNames = map[ResourceType]string{
	ResourceObservation: "Observation",
	ResourceCondition:   "Condition",
	ResourceProcedure:   "Procedure",
	ResourcePatient:     "Patient",
}

func (r ResourceType) String() string {
	if name, ok := resourceTypeNames[r]; ok {
		return name
	}
	return "Unknown"
}

// ParseResourceType maps a resource name to its ResourceType, ignoring case.
func ParseResourceType(name string) (ResourceType, error) {
	name = strings.TrimSpace(name)
	for rt, candidate := range resourceTypeNames {
		if strings.EqualFold(candidate, name) {
			return rt, nil
		}
	}
	return ResourceUnknown, fmt.Errorf("%w: %q", ErrUnknownResourceType, name)
}

// Rule is a named, compiled route bound to a resource type.
type Rule struct {
	Name     string
	Resource ResourceType
	Expr     string
	Plan     Plan
	// Builtin names a computed accessor such as "get_age" when the route is
	// a single call segment like "get_age()".
	Builtin string
}

// RuleTable holds the named rules of a resource route file.
type RuleTable struct {
	rules map[string]Rule
}

// NewRuleTable builds a table from already compiled rules.
func NewRuleTable(rules ...Rule) (*RuleTable, error) {
	table := &RuleTable{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if _, exists := table.rules[rule.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name)
		}
		table.rules[rule.Name] = rule
	}
	return table, nil
}

// LoadRuleTable reads a resource route file from disk.
func LoadRuleTable(path string) (*RuleTable, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	table, err := ParseRuleTable(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ParseRuleTable reads lines of the form
//
//	name=ResourceType.route  # comment
//
// Lines without '=' are ignored.
func ParseRuleTable(r io.Reader) (*RuleTable, error) {
	table := &RuleTable{rules: make(map[string]Rule)}
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if !strings.Contains(line, "=") {
			continue
		}

		rule, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, exists := table.rules[rule.Name]; exists {
			return nil, fmt.Errorf("line %d: %w: %s", lineNo, ErrDuplicateRule, rule.Name)
		}
		table.rules[rule.Name] = rule
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return table, nil
}

// stripComment drops a '#' comment. A '#' inside a quoted literal, such as
// a system URI fragment, is kept.
func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// ParseRule parses a single "name=ResourceType.route" definition.
func ParseRule(line string) (Rule, error) {
	name, body, _ := strings.Cut(line, "=")
	name = strings.TrimSpace(name)
	body = strings.TrimSpace(body)
	if name == "" {
		return Rule{}, fmt.Errorf("%w: missing rule name", ErrMalformedRule)
	}

	resource, expr, found := strings.Cut(body, ".")
	if !found || strings.TrimSpace(expr) == "" {
		return Rule{}, fmt.Errorf("%w: rule %s has no route", ErrMalformedRule, name)
	}

	rt, err := ParseResourceType(resource)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}

	plan, err := Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}

	rule := Rule{Name: name, Resource: rt, Expr: strings.TrimSpace(expr), Plan: plan}
	if plan.Len() == 1 && plan.Steps[0].Kind == StepField && strings.HasSuffix(plan.Steps[0].Field, "()") {
		rule.Builtin = strings.TrimSuffix(plan.Steps[0].Field, "()")
	}
	return rule, nil
}

// Get returns the rule registered under name.
func (t *RuleTable) Get(name string) (Rule, bool) {
	rule, ok := t.rules[name]
	return rule, ok
}

// Names returns the sorted rule names.
func (t *RuleTable) Names() []string {
	names := make([]string, 0, len(t.rules))
	for name := range t.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of rules.
func (t *RuleTable) Len() int {
	return len(t.rules)
}
