// Package schema holds the type and field metadata needed to normalize
// server payloads into flat records.
package schema

import (
	"sort"
	"sync"
)

type TypeKind int

const (
	KindObject TypeKind = iota
	KindInterface
	KindUnion
	KindScalar
	KindEnum
	KindInputObject
)

func (k TypeKind) Composite() bool {
	return k == KindObject || k == KindInterface || k == KindUnion
}

// FieldKind tells the normalizer how to store a field.
type FieldKind int

const (
	// FieldScalar values, including lists of scalars and enums, are stored inline.
	FieldScalar FieldKind = iota
	// FieldLinked values are stored as a reference to another record.
	FieldLinked
	// FieldPluralLinked values are stored as an ordered list of references.
	FieldPluralLinked
)

func (k FieldKind) String() string {
	switch k {
	case FieldScalar:
		return "scalar"
	case FieldLinked:
		return "linked"
	case FieldPluralLinked:
		return "plural linked"
	default:
		return "unknown"
	}
}

type Field struct {
	Name string
	// TypeName is the named type once list and non-null wrappers are removed.
	TypeName string
	List     bool
	NonNull  bool
	Args     []string
	Kind     FieldKind
}

type Type struct {
	Name       string
	Kind       TypeKind
	Fields     map[string]*Field
	Interfaces []string
	// PossibleTypes lists the concrete object types of a union or interface.
	PossibleTypes []string
}

var builtinScalars = []string{"ID", "String", "Int", "Float", "Boolean"}

var typenameField = &Field{Name: "__typename", TypeName: "String", NonNull: true, Kind: FieldScalar}

// Registry is safe for concurrent reads once built.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type

	QueryType        string
	MutationType     string
	SubscriptionType string
}

// NewRegistry returns a registry containing only the built-in scalars.
func NewRegistry() *Registry {
	r := &Registry{
		types:            make(map[string]*Type),
		QueryType:        "Query",
		MutationType:     "Mutation",
		SubscriptionType: "Subscription",
	}
	for _, name := range builtinScalars {
		r.types[name] = &Type{Name: name, Kind: KindScalar}
	}
	return r
}

// AddType registers t, replacing a previous type with the same name.
// Call Finalize once every type is registered.
func (r *Registry) AddType(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Fields == nil {
		t.Fields = make(map[string]*Field)
	}
	r.types[t.Name] = t
}

// Finalize resolves field kinds and the possible types of abstract types.
// It fails on references to unknown types.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	implementers := make(map[string][]string)
	for _, t := range r.types {
		if t.Kind != KindObject {
			continue
		}
		for _, iface := range t.Interfaces {
			it, ok := r.types[iface]
			if !ok || it.Kind != KindInterface {
				return &ConfigurationError{Type: t.Name, Reason: "implements unknown interface " + iface}
			}
			implementers[iface] = append(implementers[iface], t.Name)
		}
	}

	for _, t := range r.types {
		switch t.Kind {
		case KindInterface:
			t.PossibleTypes = implementers[t.Name]
			sort.Strings(t.PossibleTypes)
		case KindUnion:
			for _, member := range t.PossibleTypes {
				mt, ok := r.types[member]
				if !ok || mt.Kind != KindObject {
					return &ConfigurationError{Type: t.Name, Reason: "union member is not an object type: " + member}
				}
			}
		}

		for _, f := range t.Fields {
			target, ok := r.types[f.TypeName]
			if !ok {
				return &ConfigurationError{Type: t.Name, Field: f.Name, Reason: "unknown type " + f.TypeName}
			}
			switch {
			case !target.Kind.Composite():
				f.Kind = FieldScalar
			case f.List:
				f.Kind = FieldPluralLinked
			default:
				f.Kind = FieldLinked
			}
		}
	}

	return nil
}

// Type looks a type up by name.
func (r *Registry) Type(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, &ConfigurationError{Type: name, Reason: "unknown type"}
	}
	return t, nil
}

// Field returns the metadata of typename.field. __typename is known on every composite type.
func (r *Registry) Field(typename, field string) (*Field, error) {
	t, err := r.Type(typename)
	if err != nil {
		return nil, err
	}
	if field == typenameField.Name && t.Kind.Composite() {
		return typenameField, nil
	}
	f, ok := t.Fields[field]
	if !ok {
		return nil, &ConfigurationError{Type: typename, Field: field, Reason: "unknown field"}
	}
	return f, nil
}

// IsSubtype reports whether concrete satisfies a type condition on parent.
func (r *Registry) IsSubtype(parent, concrete string) bool {
	if parent == concrete {
		return true
	}
	t, err := r.Type(parent)
	if err != nil {
		return false
	}
	for _, p := range t.PossibleTypes {
		if p == concrete {
			return true
		}
	}
	return false
}

// RootType returns the root type name for an operation kind ("query", "mutation", "subscription").
func (r *Registry) RootType(operation string) string {
	switch operation {
	case "mutation":
		return r.MutationType
	case "subscription":
		return r.SubscriptionType
	default:
		return r.QueryType
	}
}

// TypeNames lists registered types in name order.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
