package selection

import (
	"fmt"

	"github.com/surrealdb/gqlcache.go/pkg/schema"
)

// Validate checks every field of op against reg. It is meant to run once at
// startup; reads and writes never consult the schema for validity.
func Validate(reg *schema.Registry, op *Operation) error {
	root := reg.RootType(string(op.Kind))
	if _, err := reg.Type(root); err != nil {
		return err
	}
	v := &validator{reg: reg, visiting: map[string]bool{}}
	return v.nodes(root, op.Selections, op.Name)
}

// ValidateFragment checks a fragment against reg.
func ValidateFragment(reg *schema.Registry, f *Fragment) error {
	if _, err := reg.Type(f.TypeCondition); err != nil {
		return err
	}
	v := &validator{reg: reg, visiting: map[string]bool{f.Name: true}}
	return v.nodes(f.TypeCondition, f.Selections, f.Name)
}

type validator struct {
	reg      *schema.Registry
	visiting map[string]bool
}

func (v *validator) nodes(parent string, nodes []Node, path string) error {
	for _, n := range nodes {
		switch node := n.(type) {
		case *ScalarField:
			f, err := v.reg.Field(parent, node.Name)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if f.Kind != schema.FieldScalar {
				return v.fail(parent, node.Name, path, "selected as a scalar but is "+f.Kind.String())
			}
		case *LinkedField:
			if err := v.linked(parent, node, path); err != nil {
				return err
			}
		case *FragmentSpread:
			frag := node.Fragment
			if frag == nil {
				return v.fail(parent, "", path, "spread of a nil fragment")
			}
			if v.visiting[frag.Name] {
				return v.fail(parent, "", path, "fragment cycle through "+frag.Name)
			}
			if _, err := v.reg.Type(frag.TypeCondition); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			v.visiting[frag.Name] = true
			err := v.nodes(frag.TypeCondition, frag.Selections, path+"..."+frag.Name)
			delete(v.visiting, frag.Name)
			if err != nil {
				return err
			}
		case *InlineFragment:
			if _, err := v.reg.Type(node.TypeCondition); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := v.nodes(node.TypeCondition, node.Selections, path+"...on "+node.TypeCondition); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) linked(parent string, node *LinkedField, path string) error {
	f, err := v.reg.Field(parent, node.Name)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	switch {
	case f.Kind == schema.FieldScalar:
		return v.fail(parent, node.Name, path, "selected as a reference but is a scalar")
	case node.Plural && f.Kind != schema.FieldPluralLinked:
		return v.fail(parent, node.Name, path, "selected as plural but is a single reference")
	case !node.Plural && f.Kind == schema.FieldPluralLinked:
		return v.fail(parent, node.Name, path, "selected as a single reference but is plural")
	case node.TypeName != "" && node.TypeName != f.TypeName:
		return v.fail(parent, node.Name, path, fmt.Sprintf("declared type %s does not match %s", node.TypeName, f.TypeName))
	}
	if node.Connection != nil {
		if node.Connection.Key == "" {
			return v.fail(parent, node.Name, path, "connection without a key")
		}
		if findLinked(node.Selections, "edges") == nil || findLinked(node.Selections, "pageInfo") == nil {
			return v.fail(parent, node.Name, path, "connection must select edges and pageInfo")
		}
	}
	return v.nodes(f.TypeName, node.Selections, path+"."+node.ResponseKey())
}

func (v *validator) fail(typename, field, path, reason string) error {
	return fmt.Errorf("%s: %w", path, &schema.ConfigurationError{Type: typename, Field: field, Reason: reason})
}

func findLinked(nodes []Node, name string) *LinkedField {
	for _, n := range nodes {
		if lf, ok := n.(*LinkedField); ok && lf.Name == name {
			return lf
		}
	}
	return nil
}
