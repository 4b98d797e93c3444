package normcache

import (
	"errors"
	"reflect"
	"testing"
)

func planKeys(p *plan) []string {
	var keys []string
	for _, node := range p.nodes {
		if field, ok := node.(*planField); ok {
			keys = append(keys, field.storeKey)
		}
	}
	return keys
}

func TestCompilePlanStoreKeys(t *testing.T) {
	cases := []struct {
		name      string
		field     *Field
		variables map[string]any
		defaults  map[string]any
		want      string
	}{
		{name: "bare", field: Leaf("name"), want: "name"},
		{name: "alias", field: Leaf("name").As("label"), want: "label"},
		{
			name:  "literal arguments",
			field: Leaf("avatar").WithArgs(map[string]any{"size": 64, "round": true}),
			want:  `avatar({"round":true,"size":64})`,
		},
		{
			name:      "variable arguments",
			field:     Leaf("avatar").WithArgs(map[string]any{"size": Variable("size")}),
			variables: map[string]any{"size": 32},
			want:      `avatar({"size":32})`,
		},
		{
			name:     "variable default",
			field:    Leaf("avatar").WithArgs(map[string]any{"size": Variable("size")}),
			defaults: map[string]any{"size": 16},
			want:     `avatar({"size":16})`,
		},
		{
			name:  "unbound variable omitted",
			field: Leaf("avatar").WithArgs(map[string]any{"size": Variable("size")}),
			want:  "avatar",
		},
		{
			name:      "explicit null kept",
			field:     Leaf("avatar").WithArgs(map[string]any{"size": Variable("size")}),
			variables: map[string]any{"size": nil},
			want:      `avatar({"size":null})`,
		},
		{
			name:      "nested variables",
			field:     Leaf("search").WithArgs(map[string]any{"filter": map[string]any{"tags": []any{Variable("tag"), "b"}}}),
			variables: map[string]any{"tag": "a"},
			want:      `search({"filter":{"tags":["a","b"]}})`,
		},
		{
			name: "connection key and filter",
			field: Leaf("feed").
				WithArgs(map[string]any{"first": 10, "type": "news"}).
				WithDirective("connection", map[string]any{"key": "newsFeed", "filter": []any{"type"}}),
			want: `newsFeed({"type":"news"})`,
		},
		{
			name: "connection without filter",
			field: Leaf("feed").
				WithArgs(map[string]any{"first": 10}).
				WithDirective("connection", map[string]any{"key": "newsFeed"}),
			want: "newsFeed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := Query(tc.field)
			doc.VariableDefaults = tc.defaults
			p, err := compilePlan(doc, doc.SelectionSet, tc.variables)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if keys := planKeys(p); len(keys) != 1 || keys[0] != tc.want {
				t.Fatalf("expected key %q, got %v", tc.want, keys)
			}
		})
	}
}

func TestCompilePlanDirectives(t *testing.T) {
	doc := Query(
		Leaf("a").WithDirective("skip", map[string]any{"if": Variable("flag")}),
		Leaf("b").WithDirective("include", map[string]any{"if": Variable("flag")}),
		Leaf("c").WithDirective("skip", map[string]any{"if": Variable("unbound")}),
		Leaf("d").WithDirective("include", map[string]any{"if": Variable("unbound")}),
		Leaf("e").WithDirective("skip", map[string]any{"if": false}).WithDirective("include", map[string]any{"if": true}),
	)
	cases := []struct {
		flag bool
		want []string
	}{
		{flag: true, want: []string{"b", "c", "e"}},
		{flag: false, want: []string{"a", "c", "e"}},
	}
	for _, tc := range cases {
		p, err := compilePlan(doc, doc.SelectionSet, map[string]any{"flag": tc.flag})
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		if got := planKeys(p); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("flag=%v: expected %v, got %v", tc.flag, tc.want, got)
		}
	}
}

func TestCompilePlanFragments(t *testing.T) {
	doc := Query(Object("node", Spread("Outer"))).WithFragments(
		Fragment("Outer", "Node", Leaf("id"), Spread("Inner")),
		Fragment("Inner", "Node", Leaf("name")),
	)
	if _, err := compilePlan(doc, doc.SelectionSet, nil); err != nil {
		t.Fatalf("nested spreads should compile: %v", err)
	}

	shared := Query(Object("a", Spread("F")), Object("b", Spread("F"))).WithFragments(
		Fragment("F", "Node", Leaf("id")),
	)
	if _, err := compilePlan(shared, shared.SelectionSet, nil); err != nil {
		t.Fatalf("a fragment spread twice is not a cycle: %v", err)
	}

	self := Query(Spread("Loop")).WithFragments(Fragment("Loop", "Query", Spread("Loop")))
	if _, err := compilePlan(self, self.SelectionSet, nil); !errors.Is(err, ErrFragmentCycle) {
		t.Fatalf("expected ErrFragmentCycle, got %v", err)
	}
}

func TestCollectMergesDuplicateFields(t *testing.T) {
	doc := Query(
		Object("user", Leaf("id")),
		On("Query", Object("user", Leaf("name"))),
	)
	p, err := compilePlan(doc, doc.SelectionSet, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	fields := p.collect("Query", newTypeMatcher(nil))
	if len(fields) != 1 {
		t.Fatalf("expected merged field, got %d", len(fields))
	}
	if got := planKeys(fields[0].selection()); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Fatalf("expected merged sub-selection, got %v", got)
	}
	if fields[0].fuzzy {
		t.Fatalf("field selected outside a fragment must not be fuzzy")
	}
}

func TestTypeMatcher(t *testing.T) {
	m := newTypeMatcher(map[string][]string{
		"Node":         {"User", "Content"},
		"Content":      {"Post", "Video"},
		"SearchResult": {"User", "Post"},
	})
	cases := []struct {
		typename  string
		condition string
		want      matchResult
	}{
		{"User", "User", matchYes},
		{"User", "", matchYes},
		{"User", "Node", matchYes},
		{"Post", "Node", matchYes},
		{"Video", "SearchResult", matchNo},
		{"User", "Post", matchNo},
		{"User", "Unknown", matchFuzzy},
		{"", "User", matchFuzzy},
	}
	for _, tc := range cases {
		if got := m.match(tc.typename, tc.condition); got != tc.want {
			t.Fatalf("match(%q, %q): expected %v, got %v", tc.typename, tc.condition, tc.want, got)
		}
	}
}
