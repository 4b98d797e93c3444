package normcache

import (
	"fmt"

	"github.com/goliatone/go-normcache/storekey"
)

// plan is a selection set with variables bound, directives decided, fragment
// spreads inlined and storage keys computed. Plans are built once per
// operation and reused by every traversal.
type plan struct {
	nodes []planNode
}

type planNode interface {
	planNode()
}

type planField struct {
	name        string
	responseKey string
	storeKey    string
	leaf        bool
	sub         *plan
}

type planFragment struct {
	typeCondition string
	sub           *plan
}

func (*planField) planNode()    {}
func (*planFragment) planNode() {}

type compiler struct {
	fragments map[string]*FragmentDefinition
	variables map[string]any
	active    map[string]bool
}

// compilePlan binds set against variables. Document defaults are applied
// beneath the supplied variables.
func compilePlan(doc *Document, set SelectionSet, variables map[string]any) (*plan, error) {
	if doc == nil {
		return nil, fmt.Errorf("normcache: document is required")
	}
	vars := make(map[string]any, len(doc.VariableDefaults)+len(variables))
	for key, value := range doc.VariableDefaults {
		vars[key] = value
	}
	for key, value := range variables {
		vars[key] = value
	}
	c := &compiler{
		fragments: doc.Fragments,
		variables: vars,
		active:    map[string]bool{},
	}
	return c.compile(set)
}

func (c *compiler) compile(set SelectionSet) (*plan, error) {
	p := &plan{nodes: make([]planNode, 0, len(set))}
	for _, sel := range set {
		switch typed := sel.(type) {
		case *Field:
			if typed == nil || !c.included(typed.Directives) {
				continue
			}
			node, err := c.field(typed)
			if err != nil {
				return nil, err
			}
			p.nodes = append(p.nodes, node)
		case *InlineFragment:
			if typed == nil || !c.included(typed.Directives) {
				continue
			}
			sub, err := c.compile(typed.SelectionSet)
			if err != nil {
				return nil, err
			}
			p.nodes = append(p.nodes, &planFragment{typeCondition: typed.TypeCondition, sub: sub})
		case *FragmentSpread:
			if typed == nil || !c.included(typed.Directives) {
				continue
			}
			node, err := c.spread(typed.Name)
			if err != nil {
				return nil, err
			}
			p.nodes = append(p.nodes, node)
		}
	}
	return p, nil
}

func (c *compiler) field(f *Field) (*planField, error) {
	args := c.arguments(f.Arguments)
	base := f.ResponseKey()
	if conn, ok := findDirective(f.Directives, "connection"); ok {
		if key, ok := c.value(conn.Arguments["key"]); ok {
			if name, ok := key.(string); ok && name != "" {
				base = name
			}
			args = filterArguments(args, c.stringList(conn.Arguments["filter"]))
		}
	}
	key, err := storekey.Key(base, args)
	if err != nil {
		return nil, err
	}
	node := &planField{
		name:        f.Name,
		responseKey: f.ResponseKey(),
		storeKey:    key,
		leaf:        f.Leaf(),
	}
	if !node.leaf {
		sub, err := c.compile(f.SelectionSet)
		if err != nil {
			return nil, err
		}
		node.sub = sub
	}
	return node, nil
}

func (c *compiler) spread(name string) (*planFragment, error) {
	def, ok := c.fragments[name]
	if !ok || def == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFragment, name)
	}
	if c.active[name] {
		return nil, fmt.Errorf("%w: %s", ErrFragmentCycle, name)
	}
	c.active[name] = true
	defer delete(c.active, name)

	sub, err := c.compile(def.SelectionSet)
	if err != nil {
		return nil, err
	}
	return &planFragment{typeCondition: def.TypeCondition, sub: sub}, nil
}

// included evaluates @skip and @include. An unbound condition counts as
// false, so @include drops the selection and @skip keeps it.
func (c *compiler) included(directives []Directive) bool {
	for _, d := range directives {
		switch d.Name {
		case "skip":
			if c.condition(d) {
				return false
			}
		case "include":
			if !c.condition(d) {
				return false
			}
		}
	}
	return true
}

func (c *compiler) condition(d Directive) bool {
	value, ok := c.value(d.Arguments["if"])
	if !ok {
		return false
	}
	flag, _ := value.(bool)
	return flag
}

// arguments resolves variables. Arguments bound to an undefined variable
// are omitted, which keeps them distinct from an explicit null.
func (c *compiler) arguments(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for name, raw := range args {
		if value, ok := c.value(raw); ok {
			out[name] = value
		}
	}
	return out
}

func (c *compiler) value(raw any) (any, bool) {
	switch typed := raw.(type) {
	case Variable:
		value, ok := c.variables[string(typed)]
		return value, ok
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			if value, ok := c.value(elem); ok {
				out[key] = value
			}
		}
		return out, true
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			value, _ := c.value(elem)
			out[i] = value
		}
		return out, true
	default:
		return raw, true
	}
}

func (c *compiler) stringList(raw any) []string {
	value, ok := c.value(raw)
	if !ok {
		return nil
	}
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, elem := range typed {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func findDirective(directives []Directive, name string) (Directive, bool) {
	for _, d := range directives {
		if d.Name == name {
			return d, true
		}
	}
	return Directive{}, false
}

func filterArguments(args map[string]any, keep []string) map[string]any {
	if len(args) == 0 || len(keep) == 0 {
		return nil
	}
	out := make(map[string]any, len(keep))
	for _, name := range keep {
		if value, ok := args[name]; ok {
			out[name] = value
		}
	}
	return out
}

// collectedField is one response key after merging every matching
// occurrence at the same level.
type collectedField struct {
	*planField
	subs  []*plan
	fuzzy bool
}

func (f *collectedField) selection() *plan {
	if len(f.subs) == 1 {
		return f.subs[0]
	}
	merged := &plan{}
	for _, sub := range f.subs {
		merged.nodes = append(merged.nodes, sub.nodes...)
	}
	return merged
}

// collect flattens p for an object of the given typename.
func (p *plan) collect(typename string, matcher *typeMatcher) []*collectedField {
	var fields []*collectedField
	index := map[string]int{}
	var walk func(p *plan, fuzzy bool)
	walk = func(p *plan, fuzzy bool) {
		for _, node := range p.nodes {
			switch typed := node.(type) {
			case *planField:
				if i, ok := index[typed.responseKey]; ok {
					existing := fields[i]
					existing.fuzzy = existing.fuzzy && fuzzy
					if typed.sub != nil {
						existing.subs = append(existing.subs, typed.sub)
					}
					continue
				}
				cf := &collectedField{planField: typed, fuzzy: fuzzy}
				if typed.sub != nil {
					cf.subs = []*plan{typed.sub}
				}
				index[typed.responseKey] = len(fields)
				fields = append(fields, cf)
			case *planFragment:
				switch matcher.match(typename, typed.typeCondition) {
				case matchYes:
					walk(typed.sub, fuzzy)
				case matchFuzzy:
					walk(typed.sub, true)
				}
			}
		}
	}
	walk(p, false)
	return fields
}

type matchResult int

const (
	matchNo matchResult = iota
	matchYes
	matchFuzzy
)

// typeMatcher decides type conditions from declared possible types.
type typeMatcher struct {
	possible map[string][]string
	concrete map[string]struct{}
}

func newTypeMatcher(possible map[string][]string) *typeMatcher {
	m := &typeMatcher{
		possible: make(map[string][]string, len(possible)),
		concrete: map[string]struct{}{},
	}
	for super, subs := range possible {
		m.possible[super] = append([]string(nil), subs...)
	}
	for _, subs := range m.possible {
		for _, sub := range subs {
			if _, abstract := m.possible[sub]; !abstract {
				m.concrete[sub] = struct{}{}
			}
		}
	}
	return m
}

func (m *typeMatcher) match(typename, condition string) matchResult {
	if condition == "" || condition == typename {
		return matchYes
	}
	if typename == "" {
		return matchFuzzy
	}
	if _, abstract := m.possible[condition]; abstract {
		if m.subtype(typename, condition, map[string]bool{}) {
			return matchYes
		}
		return matchNo
	}
	if _, known := m.concrete[condition]; known {
		return matchNo
	}
	return matchFuzzy
}

func (m *typeMatcher) subtype(typename, super string, seen map[string]bool) bool {
	if seen[super] {
		return false
	}
	seen[super] = true
	for _, sub := range m.possible[super] {
		if sub == typename {
			return true
		}
		if _, abstract := m.possible[sub]; abstract && m.subtype(typename, sub, seen) {
			return true
		}
	}
	return false
}
