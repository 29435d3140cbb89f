package schema

import (
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// ParseSDL builds a finalized registry from GraphQL schema definition language.
func ParseSDL(sdl string) (*Registry, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: sdl})
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing schema: %v", err)}
	}

	r := NewRegistry()
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.ObjectDefinition:
			r.AddType(objectFromAST(d))
		case *ast.TypeExtensionDefinition:
			if d.Definition == nil {
				continue
			}
			ext := objectFromAST(d.Definition)
			if existing, err := r.Type(ext.Name); err == nil {
				for name, f := range ext.Fields {
					existing.Fields[name] = f
				}
				existing.Interfaces = append(existing.Interfaces, ext.Interfaces...)
			} else {
				r.AddType(ext)
			}
		case *ast.InterfaceDefinition:
			r.AddType(&Type{
				Name:   d.Name.Value,
				Kind:   KindInterface,
				Fields: fieldsFromAST(d.Fields),
			})
		case *ast.UnionDefinition:
			t := &Type{Name: d.Name.Value, Kind: KindUnion}
			for _, member := range d.Types {
				t.PossibleTypes = append(t.PossibleTypes, member.Name.Value)
			}
			r.AddType(t)
		case *ast.ScalarDefinition:
			r.AddType(&Type{Name: d.Name.Value, Kind: KindScalar})
		case *ast.EnumDefinition:
			r.AddType(&Type{Name: d.Name.Value, Kind: KindEnum})
		case *ast.InputObjectDefinition:
			r.AddType(&Type{Name: d.Name.Value, Kind: KindInputObject})
		case *ast.SchemaDefinition:
			for _, op := range d.OperationTypes {
				switch op.Operation {
				case ast.OperationTypeQuery:
					r.QueryType = op.Type.Name.Value
				case ast.OperationTypeMutation:
					r.MutationType = op.Type.Name.Value
				case ast.OperationTypeSubscription:
					r.SubscriptionType = op.Type.Name.Value
				}
			}
		}
	}

	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return r, nil
}

func objectFromAST(d *ast.ObjectDefinition) *Type {
	t := &Type{
		Name:   d.Name.Value,
		Kind:   KindObject,
		Fields: fieldsFromAST(d.Fields),
	}
	for _, iface := range d.Interfaces {
		t.Interfaces = append(t.Interfaces, iface.Name.Value)
	}
	return t
}

func fieldsFromAST(defs []*ast.FieldDefinition) map[string]*Field {
	fields := make(map[string]*Field, len(defs))
	for _, fd := range defs {
		f := &Field{Name: fd.Name.Value}
		unwrapType(fd.Type, f)
		for _, arg := range fd.Arguments {
			f.Args = append(f.Args, arg.Name.Value)
		}
		fields[f.Name] = f
	}
	return fields
}

// unwrapType records the outer non-null flag, whether any list wrapper is
// present, and the innermost named type.
func unwrapType(t ast.Type, f *Field) {
	first := true
	for t != nil {
		switch typ := t.(type) {
		case *ast.NonNull:
			if first {
				f.NonNull = true
			}
			t = typ.Type
		case *ast.List:
			f.List = true
			t = typ.Type
		case *ast.Named:
			f.TypeName = typ.Name.Value
			return
		default:
			return
		}
		first = false
	}
}
