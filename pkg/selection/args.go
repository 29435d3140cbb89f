package selection

import "github.com/surrealdb/gqlcache.go/pkg/schema"

// Argument is a field argument. Value is a literal that may contain Variable
// values at any depth.
type Argument struct {
	Name  string
	Value any
}

// Variable refers to an operation variable inside an argument value.
type Variable struct {
	Name string
}

func Arg(name string, value any) Argument {
	return Argument{Name: name, Value: value}
}

func Var(name string) Variable {
	return Variable{Name: name}
}

// paginationArgs are excluded from a connection's identity.
var paginationArgs = map[string]struct{}{
	"first":  {},
	"last":   {},
	"after":  {},
	"before": {},
	"count":  {},
	"cursor": {},
}

// ArgValues resolves variables and returns the argument values by name.
// Unset variables resolve to nil, which drops the argument from storage keys.
func ArgValues(args []Argument, vars map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		out[a.Name] = resolveValue(a.Value, vars)
	}
	return out
}

func resolveValue(v any, vars map[string]any) any {
	switch val := v.(type) {
	case Variable:
		return vars[val.Name]
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = resolveValue(val[i], vars)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = resolveValue(inner, vars)
		}
		return out
	default:
		return v
	}
}

func storageKey(name string, args []Argument, vars map[string]any) string {
	return schema.StorageKey(name, ArgValues(args, vars))
}

// HandleKey is the storage key of the client-side connection record that
// pages are merged into. Pagination arguments never take part in it.
func (f *LinkedField) HandleKey(vars map[string]any) string {
	if f.Connection == nil {
		return f.StorageKey(vars)
	}
	values := ArgValues(f.Args, vars)
	filtered := make(map[string]any, len(values))
	if f.Connection.Filters != nil {
		for _, name := range f.Connection.Filters {
			if v, ok := values[name]; ok {
				filtered[name] = v
			}
		}
	} else {
		for name, v := range values {
			if _, skip := paginationArgs[name]; !skip {
				filtered[name] = v
			}
		}
	}
	return schema.StorageKey("__"+f.Connection.Key+"_connection", filtered)
}
