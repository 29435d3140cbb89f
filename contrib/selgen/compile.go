package selgen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
	"github.com/surrealdb/gqlcache.go/pkg/constants"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

const (
	connectionDirective = "connection"
	typenameField       = "__typename"
)

// fragmentArgumentDirectives scope variables to a fragment. They are not
// supported: paginated fragments read the operation's variables.
var fragmentArgumentDirectives = map[string]bool{
	"arguments":           true,
	"argumentDefinitions": true,
}

// Source is one GraphQL document.
type Source struct {
	Name string
	Body string
}

type fragmentDef struct {
	def      *ast.FragmentDefinition
	fragment *selection.Fragment
	origin   string
}

type operationDef struct {
	def    *ast.OperationDefinition
	origin string
}

type compiler struct {
	reg        *schema.Registry
	fragments  map[string]*fragmentDef
	operations []operationDef
}

// Compile parses sources and returns one artifact per operation, in name
// order. Fragments may be spread from any source. Operations must be named.
func Compile(reg *schema.Registry, sources ...Source) ([]*selection.Artifact, error) {
	c := &compiler{reg: reg, fragments: make(map[string]*fragmentDef)}
	for _, src := range sources {
		if err := c.parse(src); err != nil {
			return nil, err
		}
	}

	// Fragments may spread each other, so allocate them all before building bodies.
	names := make([]string, 0, len(c.fragments))
	for name := range c.fragments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fd := c.fragments[name]
		sels, err := c.selections(fd.fragment.TypeCondition, fd.def.SelectionSet)
		if err != nil {
			return nil, fmt.Errorf("%s: fragment %s: %w", fd.origin, name, err)
		}
		fd.fragment.Selections = sels
	}
	for _, name := range names {
		fd := c.fragments[name]
		if err := selection.ValidateFragment(c.reg, fd.fragment); err != nil {
			return nil, fmt.Errorf("%s: %w", fd.origin, err)
		}
	}

	sort.Slice(c.operations, func(i, j int) bool {
		return c.operations[i].def.Name.Value < c.operations[j].def.Name.Value
	})
	artifacts := make([]*selection.Artifact, 0, len(c.operations))
	for _, od := range c.operations {
		a, err := c.operation(od.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", od.origin, err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (c *compiler) parse(src Source) error {
	doc, err := parser.Parse(parser.ParseParams{Source: source.NewSource(&source.Source{
		Body: []byte(src.Body),
		Name: src.Name,
	})})
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", constants.ErrConfiguration, src.Name, err)
	}

	seen := make(map[string]bool)
	for _, op := range c.operations {
		seen[op.def.Name.Value] = true
	}
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			if d.Name == nil || d.Name.Value == "" {
				return fmt.Errorf("%w: %s: anonymous %s", constants.ErrConfiguration, src.Name, d.Operation)
			}
			if seen[d.Name.Value] {
				return fmt.Errorf("%w: %s: duplicate operation %s", constants.ErrConfiguration, src.Name, d.Name.Value)
			}
			seen[d.Name.Value] = true
			c.operations = append(c.operations, operationDef{def: d, origin: src.Name})
		case *ast.FragmentDefinition:
			name := d.Name.Value
			if err := rejectFragmentArguments(d.Directives); err != nil {
				return fmt.Errorf("%s: fragment %s: %w", src.Name, name, err)
			}
			if prev, ok := c.fragments[name]; ok {
				return fmt.Errorf("%w: %s: fragment %s already defined in %s", constants.ErrConfiguration, src.Name, name, prev.origin)
			}
			c.fragments[name] = &fragmentDef{
				def:      d,
				fragment: &selection.Fragment{Name: name, TypeCondition: d.TypeCondition.Name.Value},
				origin:   src.Name,
			}
		default:
			return fmt.Errorf("%w: %s: unexpected %s definition", constants.ErrConfiguration, src.Name, def.GetKind())
		}
	}
	return nil
}

func (c *compiler) operation(def *ast.OperationDefinition) (*selection.Artifact, error) {
	kind := selection.OperationKind(def.Operation)
	root := c.reg.RootType(string(kind))
	sels, err := c.selections(root, def.SelectionSet)
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", def.Name.Value, err)
	}

	op := &selection.Operation{Name: def.Name.Value, Kind: kind, Selections: sels}
	for _, v := range def.VariableDefinitions {
		vd := selection.VariableDefinition{Name: v.Variable.Name.Value}
		if v.DefaultValue != nil {
			if vd.Default, err = value(v.DefaultValue); err != nil {
				return nil, fmt.Errorf("operation %s: default of $%s: %w", def.Name.Value, vd.Name, err)
			}
		}
		op.Variables = append(op.Variables, vd)
	}
	if err := selection.Validate(c.reg, op); err != nil {
		return nil, err
	}
	if err := declared(op); err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	c.spreads(def.SelectionSet, used)
	fragments := make(map[string]*selection.Fragment, len(used))
	names := make([]string, 0, len(used))
	for name := range used {
		fragments[name] = c.fragments[name].fragment
		names = append(names, name)
	}
	sort.Strings(names)

	text, err := printNode(def)
	if err != nil {
		return nil, err
	}
	parts := []string{text}
	for _, name := range names {
		ft, err := printNode(c.fragments[name].def)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ft)
	}
	op.Text = strings.Join(parts, "\n\n")

	return &selection.Artifact{Operation: op, Fragments: fragments}, nil
}

// selections builds the selection of set on parent. The AST is rewritten in
// place so the printed text matches: @connection is removed and __typename is
// added under abstract types.
func (c *compiler) selections(parent string, set *ast.SelectionSet) ([]selection.Node, error) {
	if set == nil {
		return nil, nil
	}
	out := make([]selection.Node, 0, len(set.Selections))
	hasTypename := false
	for _, s := range set.Selections {
		switch n := s.(type) {
		case *ast.Field:
			node, err := c.field(parent, n)
			if err != nil {
				return nil, err
			}
			if n.Name.Value == typenameField && n.Alias == nil {
				hasTypename = true
			}
			out = append(out, node)
		case *ast.FragmentSpread:
			if err := rejectFragmentArguments(n.Directives); err != nil {
				return nil, fmt.Errorf("spread of %s: %w", n.Name.Value, err)
			}
			fd, ok := c.fragments[n.Name.Value]
			if !ok {
				return nil, fmt.Errorf("%w: unknown fragment %s", constants.ErrConfiguration, n.Name.Value)
			}
			out = append(out, selection.Spread(fd.fragment))
		case *ast.InlineFragment:
			condition := parent
			if n.TypeCondition != nil {
				condition = n.TypeCondition.Name.Value
			}
			sels, err := c.selections(condition, n.SelectionSet)
			if err != nil {
				return nil, err
			}
			out = append(out, selection.On(condition, sels...))
		}
	}

	if !hasTypename && c.abstract(parent) {
		set.Selections = append(set.Selections, ast.NewField(&ast.Field{
			Name: ast.NewName(&ast.Name{Value: typenameField}),
		}))
		out = append(out, selection.Field(typenameField))
	}
	return out, nil
}

func (c *compiler) field(parent string, n *ast.Field) (selection.Node, error) {
	name := n.Name.Value
	f, err := c.reg.Field(parent, name)
	if err != nil {
		return nil, err
	}
	args, err := arguments(n.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", parent, name, err)
	}
	var alias string
	if n.Alias != nil {
		alias = n.Alias.Value
	}

	if f.Kind == schema.FieldScalar {
		if n.SelectionSet != nil {
			return nil, &schema.ConfigurationError{Type: parent, Field: name, Reason: "scalar field has a selection set"}
		}
		return &selection.ScalarField{Name: name, Alias: alias, Args: args}, nil
	}

	if n.SelectionSet == nil {
		return nil, &schema.ConfigurationError{Type: parent, Field: name, Reason: "linked field needs a selection set"}
	}
	lf := &selection.LinkedField{
		Name:     name,
		Alias:    alias,
		Args:     args,
		TypeName: f.TypeName,
		Plural:   f.Kind == schema.FieldPluralLinked,
	}
	if lf.Connection, n.Directives, err = parseConnection(n.Directives); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", parent, name, err)
	}
	if lf.Selections, err = c.selections(f.TypeName, n.SelectionSet); err != nil {
		return nil, err
	}
	return lf, nil
}

func (c *compiler) abstract(typename string) bool {
	t, err := c.reg.Type(typename)
	return err == nil && (t.Kind == schema.KindInterface || t.Kind == schema.KindUnion)
}

// spreads collects the fragments set spreads, directly or through other fragments.
func (c *compiler) spreads(set *ast.SelectionSet, used map[string]bool) {
	if set == nil {
		return
	}
	for _, s := range set.Selections {
		switch n := s.(type) {
		case *ast.Field:
			c.spreads(n.SelectionSet, used)
		case *ast.InlineFragment:
			c.spreads(n.SelectionSet, used)
		case *ast.FragmentSpread:
			name := n.Name.Value
			if used[name] {
				continue
			}
			used[name] = true
			if fd, ok := c.fragments[name]; ok {
				c.spreads(fd.def.SelectionSet, used)
			}
		}
	}
}

func rejectFragmentArguments(directives []*ast.Directive) error {
	for _, d := range directives {
		if fragmentArgumentDirectives[d.Name.Value] {
			return fmt.Errorf("%w: @%s is not supported, declare the variables on the operation", constants.ErrConfiguration, d.Name.Value)
		}
	}
	return nil
}

// declared checks that op declares every variable its selections use,
// including those used inside spread fragments.
func declared(op *selection.Operation) error {
	defs := make(map[string]bool, len(op.Variables))
	for _, v := range op.Variables {
		defs[v.Name] = true
	}
	for _, name := range selection.VariableNames(op.Selections) {
		if !defs[name] {
			return fmt.Errorf("%w: operation %s uses undeclared variable $%s", constants.ErrConfiguration, op.Name, name)
		}
	}
	return nil
}

// parseConnection reads @connection(key, filters) and returns the remaining directives.
func parseConnection(directives []*ast.Directive) (*selection.Connection, []*ast.Directive, error) {
	var conn *selection.Connection
	rest := directives[:0:0]
	for _, d := range directives {
		if d.Name.Value != connectionDirective {
			rest = append(rest, d)
			continue
		}
		conn = &selection.Connection{}
		for _, arg := range d.Arguments {
			v, err := value(arg.Value)
			if err != nil {
				return nil, nil, err
			}
			switch arg.Name.Value {
			case "key":
				key, ok := v.(string)
				if !ok || key == "" {
					return nil, nil, fmt.Errorf("%w: @connection key must be a non-empty string", constants.ErrConfiguration)
				}
				conn.Key = key
			case "filters":
				list, ok := v.([]any)
				if !ok {
					return nil, nil, fmt.Errorf("%w: @connection filters must be a list of strings", constants.ErrConfiguration)
				}
				conn.Filters = make([]string, 0, len(list))
				for _, item := range list {
					s, ok := item.(string)
					if !ok {
						return nil, nil, fmt.Errorf("%w: @connection filters must be a list of strings", constants.ErrConfiguration)
					}
					conn.Filters = append(conn.Filters, s)
				}
			}
		}
		if conn.Key == "" {
			return nil, nil, fmt.Errorf("%w: @connection needs a key", constants.ErrConfiguration)
		}
	}
	return conn, rest, nil
}

func arguments(in []*ast.Argument) ([]selection.Argument, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]selection.Argument, 0, len(in))
	for _, a := range in {
		v, err := value(a.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", a.Name.Value, err)
		}
		out = append(out, selection.Arg(a.Name.Value, v))
	}
	return out, nil
}

// value converts a literal to the form JSON decoding produces, so numbers are
// float64. Variables become selection.Variable.
func value(v ast.Value) (any, error) {
	switch val := v.(type) {
	case *ast.Variable:
		return selection.Var(val.Name.Value), nil
	case *ast.IntValue:
		return strconv.ParseFloat(val.Value, 64)
	case *ast.FloatValue:
		return strconv.ParseFloat(val.Value, 64)
	case *ast.StringValue:
		return val.Value, nil
	case *ast.BooleanValue:
		return val.Value, nil
	case *ast.EnumValue:
		return val.Value, nil
	case *ast.ListValue:
		out := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			iv, err := value(item)
			if err != nil {
				return nil, err
			}
			out = append(out, iv)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]any, len(val.Fields))
		for _, f := range val.Fields {
			fv, err := value(f.Value)
			if err != nil {
				return nil, err
			}
			out[f.Name.Value] = fv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value %s", constants.ErrConfiguration, v.GetKind())
	}
}

func printNode(node ast.Node) (string, error) {
	text, ok := printer.Print(node).(string)
	if !ok {
		return "", fmt.Errorf("printing %s: unexpected printer output", node.GetKind())
	}
	return text, nil
}
