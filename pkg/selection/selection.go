// Package selection describes which fields a consumer needs, as an immutable
// tree built ahead of time (see contrib/selgen) and validated against the
// schema registry at startup.
package selection

type Kind int

const (
	KindScalar Kind = iota
	KindLinked
	KindPluralLinked
	KindFragmentSpread
	KindInlineFragment
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "ScalarField"
	case KindLinked:
		return "LinkedField"
	case KindPluralLinked:
		return "PluralLinkedField"
	case KindFragmentSpread:
		return "FragmentSpread"
	case KindInlineFragment:
		return "InlineFragment"
	default:
		return "Unknown"
	}
}

// Node is one entry of a selection set.
type Node interface {
	Kind() Kind
}

type ScalarField struct {
	Name  string
	Alias string
	Args  []Argument
}

func (*ScalarField) Kind() Kind { return KindScalar }

// ResponseKey is the key of the field in payloads and in read results.
func (f *ScalarField) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// StorageKey is the key of the field in its record.
func (f *ScalarField) StorageKey(vars map[string]any) string {
	return storageKey(f.Name, f.Args, vars)
}

// LinkedField selects a reference (or, when Plural, a list of references)
// and the fields needed from the referenced records.
type LinkedField struct {
	Name  string
	Alias string
	Args  []Argument
	// TypeName is the declared type of the field, filled in by the compiler.
	TypeName   string
	Plural     bool
	Connection *Connection
	Selections []Node
}

func (f *LinkedField) Kind() Kind {
	if f.Plural {
		return KindPluralLinked
	}
	return KindLinked
}

func (f *LinkedField) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func (f *LinkedField) StorageKey(vars map[string]any) string {
	return storageKey(f.Name, f.Args, vars)
}

// Connection marks a field annotated with @connection(key, filters).
type Connection struct {
	Key string `json:"key"`
	// Filters names the arguments that identify the connection. Nil means every
	// argument except the pagination ones.
	Filters []string `json:"filters"`
}

type FragmentSpread struct {
	Fragment *Fragment
}

func (*FragmentSpread) Kind() Kind { return KindFragmentSpread }

// InlineFragment applies its selections only to records of TypeCondition
// (or one of its possible types).
type InlineFragment struct {
	TypeCondition string
	Selections    []Node
}

func (*InlineFragment) Kind() Kind { return KindInlineFragment }

// Fragment is a named, reusable selection set owned by one consumer.
type Fragment struct {
	Name          string
	TypeCondition string
	Selections    []Node
}

type OperationKind string

const (
	Query        OperationKind = "query"
	Mutation     OperationKind = "mutation"
	Subscription OperationKind = "subscription"
)

type VariableDefinition struct {
	Name    string
	Default any
}

// Operation is a query, mutation or subscription: the document text sent over
// the wire plus the selection used to normalize and read its payload.
type Operation struct {
	Name       string
	Kind       OperationKind
	Text       string
	Variables  []VariableDefinition
	Selections []Node
}

// VariablesWith merges vars over the declared defaults.
func (op *Operation) VariablesWith(vars map[string]any) map[string]any {
	out := make(map[string]any, len(op.Variables)+len(vars))
	for _, def := range op.Variables {
		if def.Default != nil {
			out[def.Name] = def.Default
		}
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// AsFragment exposes the operation's root selection as a fragment on typename.
func (op *Operation) AsFragment(typename string) *Fragment {
	return &Fragment{Name: op.Name, TypeCondition: typename, Selections: op.Selections}
}

// Field returns a scalar field selection.
func Field(name string, args ...Argument) *ScalarField {
	return &ScalarField{Name: name, Args: args}
}

// Link returns a single reference selection.
func Link(name string, selections ...Node) *LinkedField {
	return &LinkedField{Name: name, Selections: selections}
}

// Plural returns a plural reference selection.
func Plural(name string, selections ...Node) *LinkedField {
	return &LinkedField{Name: name, Plural: true, Selections: selections}
}

func (f *ScalarField) As(alias string) *ScalarField {
	c := *f
	c.Alias = alias
	return &c
}

func (f *LinkedField) As(alias string) *LinkedField {
	c := *f
	c.Alias = alias
	return &c
}

func (f *LinkedField) WithArgs(args ...Argument) *LinkedField {
	c := *f
	c.Args = args
	return &c
}

func (f *LinkedField) OfType(typename string) *LinkedField {
	c := *f
	c.TypeName = typename
	return &c
}

// WithConnection marks the field as a paginated connection.
func (f *LinkedField) WithConnection(key string, filters ...string) *LinkedField {
	c := *f
	c.Connection = &Connection{Key: key, Filters: filters}
	return &c
}

func Spread(fragment *Fragment) *FragmentSpread {
	return &FragmentSpread{Fragment: fragment}
}

func On(typeCondition string, selections ...Node) *InlineFragment {
	return &InlineFragment{TypeCondition: typeCondition, Selections: selections}
}
