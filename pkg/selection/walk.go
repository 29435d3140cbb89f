package selection

import "sort"

// FindConnection returns the chain of linked fields leading from nodes to the
// field annotated with @connection(key), the connection field last.
// Fragment spreads and inline fragments are searched transparently.
func FindConnection(nodes []Node, key string) ([]*LinkedField, bool) {
	return findConnection(nodes, key, map[*Fragment]bool{})
}

func findConnection(nodes []Node, key string, seen map[*Fragment]bool) ([]*LinkedField, bool) {
	for _, n := range nodes {
		switch node := n.(type) {
		case *LinkedField:
			if node.Connection != nil && node.Connection.Key == key {
				return []*LinkedField{node}, true
			}
			if path, ok := findConnection(node.Selections, key, seen); ok {
				return append([]*LinkedField{node}, path...), true
			}
		case *FragmentSpread:
			if node.Fragment == nil || seen[node.Fragment] {
				continue
			}
			seen[node.Fragment] = true
			if path, ok := findConnection(node.Fragment.Selections, key, seen); ok {
				return path, true
			}
		case *InlineFragment:
			if path, ok := findConnection(node.Selections, key, seen); ok {
				return path, true
			}
		}
	}
	return nil, false
}

// HasArg reports whether the field declares an argument called name.
func (f *LinkedField) HasArg(name string) bool {
	for _, a := range f.Args {
		if a.Name == name {
			return true
		}
	}
	return false
}

// VariableNames returns the variables referenced by the arguments of nodes
// and of the fragments they spread, sorted.
func VariableNames(nodes []Node) []string {
	names := map[string]bool{}
	collectVariables(nodes, names, map[*Fragment]bool{})
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectVariables(nodes []Node, names map[string]bool, seen map[*Fragment]bool) {
	for _, n := range nodes {
		switch node := n.(type) {
		case *ScalarField:
			for _, a := range node.Args {
				variablesIn(a.Value, names)
			}
		case *LinkedField:
			for _, a := range node.Args {
				variablesIn(a.Value, names)
			}
			collectVariables(node.Selections, names, seen)
		case *FragmentSpread:
			if node.Fragment == nil || seen[node.Fragment] {
				continue
			}
			seen[node.Fragment] = true
			collectVariables(node.Fragment.Selections, names, seen)
		case *InlineFragment:
			collectVariables(node.Selections, names, seen)
		}
	}
}

func variablesIn(v any, names map[string]bool) {
	switch val := v.(type) {
	case Variable:
		names[val.Name] = true
	case []any:
		for _, item := range val {
			variablesIn(item, names)
		}
	case map[string]any:
		for _, item := range val {
			variablesIn(item, names)
		}
	}
}
