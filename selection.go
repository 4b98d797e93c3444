package normcache

// OperationKind identifies the root operation type of a document.
type OperationKind int

const (
	OperationQuery OperationKind = iota
	OperationMutation
	OperationSubscription
)

// Well-known root entity ids.
const (
	RootQueryID        = "ROOT_QUERY"
	RootMutationID     = "ROOT_MUTATION"
	RootSubscriptionID = "ROOT_SUBSCRIPTION"
)

// RootID returns the fixed entity id for the operation kind.
func (k OperationKind) RootID() string {
	switch k {
	case OperationMutation:
		return RootMutationID
	case OperationSubscription:
		return RootSubscriptionID
	default:
		return RootQueryID
	}
}

func (k OperationKind) String() string {
	switch k {
	case OperationMutation:
		return "mutation"
	case OperationSubscription:
		return "subscription"
	default:
		return "query"
	}
}

var rootTypenames = map[string]string{
	RootQueryID:        "Query",
	RootMutationID:     "Mutation",
	RootSubscriptionID: "Subscription",
}

// Document is an already parsed and validated operation. Fragment
// definitions are reachable by name.
type Document struct {
	Operation        OperationKind
	SelectionSet     SelectionSet
	Fragments        map[string]*FragmentDefinition
	VariableDefaults map[string]any
}

// SelectionSet is an ordered list of selections.
type SelectionSet []Selection

// Selection is one of *Field, *InlineFragment or *FragmentSpread.
type Selection interface {
	selection()
}

// Field selects a value by name, optionally aliased, with arguments.
// A nil SelectionSet marks a leaf.
type Field struct {
	Alias        string
	Name         string
	Arguments    map[string]any
	Directives   []Directive
	SelectionSet SelectionSet
}

// InlineFragment applies its selections when TypeCondition matches.
type InlineFragment struct {
	TypeCondition string
	Directives    []Directive
	SelectionSet  SelectionSet
}

// FragmentSpread inlines the named fragment definition.
type FragmentSpread struct {
	Name       string
	Directives []Directive
}

// FragmentDefinition is a named reusable selection guarded by a type
// condition.
type FragmentDefinition struct {
	Name          string
	TypeCondition string
	SelectionSet  SelectionSet
}

// Directive is a resolved directive occurrence such as @skip(if: $flag).
type Directive struct {
	Name      string
	Arguments map[string]any
}

// Variable is an argument placeholder resolved against operation variables.
type Variable string

func (*Field) selection()          {}
func (*InlineFragment) selection() {}
func (*FragmentSpread) selection() {}

// ResponseKey is the key the field occupies in a result object.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Leaf reports whether the field selects a scalar.
func (f *Field) Leaf() bool {
	return f.SelectionSet == nil
}

// Query builds a query document from selections.
func Query(selections ...Selection) *Document {
	return &Document{Operation: OperationQuery, SelectionSet: selections}
}

// Mutation builds a mutation document from selections.
func Mutation(selections ...Selection) *Document {
	return &Document{Operation: OperationMutation, SelectionSet: selections}
}

// WithFragments attaches fragment definitions to the document.
func (d *Document) WithFragments(defs ...*FragmentDefinition) *Document {
	if d.Fragments == nil {
		d.Fragments = make(map[string]*FragmentDefinition, len(defs))
	}
	for _, def := range defs {
		if def != nil {
			d.Fragments[def.Name] = def
		}
	}
	return d
}

// Leaf builds a scalar field selection.
func Leaf(name string) *Field {
	return &Field{Name: name}
}

// Object builds a field selection with a sub-selection.
func Object(name string, selections ...Selection) *Field {
	if selections == nil {
		selections = SelectionSet{}
	}
	return &Field{Name: name, SelectionSet: selections}
}

// As sets the field alias.
func (f *Field) As(alias string) *Field {
	f.Alias = alias
	return f
}

// WithArgs sets the field arguments.
func (f *Field) WithArgs(args map[string]any) *Field {
	f.Arguments = args
	return f
}

// WithDirective appends a directive to the field.
func (f *Field) WithDirective(name string, args map[string]any) *Field {
	f.Directives = append(f.Directives, Directive{Name: name, Arguments: args})
	return f
}

// On builds an inline fragment.
func On(typeCondition string, selections ...Selection) *InlineFragment {
	return &InlineFragment{TypeCondition: typeCondition, SelectionSet: selections}
}

// Spread builds a fragment spread.
func Spread(name string) *FragmentSpread {
	return &FragmentSpread{Name: name}
}

// Fragment builds a fragment definition.
func Fragment(name, typeCondition string, selections ...Selection) *FragmentDefinition {
	return &FragmentDefinition{Name: name, TypeCondition: typeCondition, SelectionSet: selections}
}
