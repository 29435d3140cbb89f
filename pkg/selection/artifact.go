package selection

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// Artifact is the serialized form of an operation and the fragments it spreads,
// as written by the selection compiler.
type Artifact struct {
	Operation *Operation
	Fragments map[string]*Fragment
}

type artifactJSON struct {
	Name      string              `json:"name"`
	Operation OperationKind       `json:"operation"`
	Text      string              `json:"text"`
	Variables []variableJSON      `json:"variables,omitempty"`
	Selection []nodeJSON          `json:"selections"`
	Fragments map[string]fragJSON `json:"fragments,omitempty"`
}

type fragJSON struct {
	TypeCondition string     `json:"typeCondition"`
	Selection     []nodeJSON `json:"selections"`
}

type variableJSON struct {
	Name    string `json:"name"`
	Default any    `json:"default,omitempty"`
}

type argumentJSON struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type nodeJSON struct {
	Kind          string         `json:"kind"`
	Name          string         `json:"name,omitempty"`
	Alias         string         `json:"alias,omitempty"`
	Args          []argumentJSON `json:"args,omitempty"`
	Type          string         `json:"type,omitempty"`
	Plural        bool           `json:"plural,omitempty"`
	Connection    *Connection    `json:"connection,omitempty"`
	TypeCondition string         `json:"typeCondition,omitempty"`
	Selection     []nodeJSON     `json:"selections,omitempty"`
}

// variableMarker tags a variable reference inside a serialized argument value.
const variableMarker = "$variable"

func (a *Artifact) MarshalJSON() ([]byte, error) {
	op := a.Operation
	out := artifactJSON{
		Name:      op.Name,
		Operation: op.Kind,
		Text:      op.Text,
		Selection: encodeNodes(op.Selections),
	}
	for _, v := range op.Variables {
		out.Variables = append(out.Variables, variableJSON{Name: v.Name, Default: v.Default})
	}
	if len(a.Fragments) > 0 {
		out.Fragments = make(map[string]fragJSON, len(a.Fragments))
		for name, f := range a.Fragments {
			out.Fragments[name] = fragJSON{TypeCondition: f.TypeCondition, Selection: encodeNodes(f.Selections)}
		}
	}
	return json.Marshal(out)
}

func (a *Artifact) UnmarshalJSON(data []byte) error {
	var in artifactJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	// Fragments may spread each other, so allocate them all before decoding bodies.
	a.Fragments = make(map[string]*Fragment, len(in.Fragments))
	for name, f := range in.Fragments {
		a.Fragments[name] = &Fragment{Name: name, TypeCondition: f.TypeCondition}
	}
	names := make([]string, 0, len(in.Fragments))
	for name := range in.Fragments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sels, err := decodeNodes(in.Fragments[name].Selection, a.Fragments)
		if err != nil {
			return fmt.Errorf("fragment %s: %w", name, err)
		}
		a.Fragments[name].Selections = sels
	}

	sels, err := decodeNodes(in.Selection, a.Fragments)
	if err != nil {
		return fmt.Errorf("operation %s: %w", in.Name, err)
	}
	op := &Operation{Name: in.Name, Kind: in.Operation, Text: in.Text, Selections: sels}
	if op.Kind == "" {
		op.Kind = Query
	}
	for _, v := range in.Variables {
		op.Variables = append(op.Variables, VariableDefinition{Name: v.Name, Default: v.Default})
	}
	a.Operation = op
	return nil
}

func encodeNodes(nodes []Node) []nodeJSON {
	out := make([]nodeJSON, 0, len(nodes))
	for _, n := range nodes {
		switch node := n.(type) {
		case *ScalarField:
			out = append(out, nodeJSON{Kind: KindScalar.String(), Name: node.Name, Alias: node.Alias, Args: encodeArgs(node.Args)})
		case *LinkedField:
			out = append(out, nodeJSON{
				Kind:       KindLinked.String(),
				Name:       node.Name,
				Alias:      node.Alias,
				Args:       encodeArgs(node.Args),
				Type:       node.TypeName,
				Plural:     node.Plural,
				Connection: node.Connection,
				Selection:  encodeNodes(node.Selections),
			})
		case *FragmentSpread:
			out = append(out, nodeJSON{Kind: KindFragmentSpread.String(), Name: node.Fragment.Name})
		case *InlineFragment:
			out = append(out, nodeJSON{Kind: KindInlineFragment.String(), TypeCondition: node.TypeCondition, Selection: encodeNodes(node.Selections)})
		}
	}
	return out
}

func decodeNodes(in []nodeJSON, fragments map[string]*Fragment) ([]Node, error) {
	out := make([]Node, 0, len(in))
	for _, n := range in {
		switch n.Kind {
		case KindScalar.String():
			out = append(out, &ScalarField{Name: n.Name, Alias: n.Alias, Args: decodeArgs(n.Args)})
		case KindLinked.String(), KindPluralLinked.String():
			sels, err := decodeNodes(n.Selection, fragments)
			if err != nil {
				return nil, err
			}
			out = append(out, &LinkedField{
				Name:       n.Name,
				Alias:      n.Alias,
				Args:       decodeArgs(n.Args),
				TypeName:   n.Type,
				Plural:     n.Plural || n.Kind == KindPluralLinked.String(),
				Connection: n.Connection,
				Selections: sels,
			})
		case KindFragmentSpread.String():
			f, ok := fragments[n.Name]
			if !ok {
				return nil, fmt.Errorf("unknown fragment %s", n.Name)
			}
			out = append(out, &FragmentSpread{Fragment: f})
		case KindInlineFragment.String():
			sels, err := decodeNodes(n.Selection, fragments)
			if err != nil {
				return nil, err
			}
			out = append(out, &InlineFragment{TypeCondition: n.TypeCondition, Selections: sels})
		default:
			return nil, fmt.Errorf("unknown selection kind %q", n.Kind)
		}
	}
	return out, nil
}

func encodeArgs(args []Argument) []argumentJSON {
	if len(args) == 0 {
		return nil
	}
	out := make([]argumentJSON, len(args))
	for i, a := range args {
		out[i] = argumentJSON{Name: a.Name, Value: encodeValue(a.Value)}
	}
	return out
}

func encodeValue(v any) any {
	switch val := v.(type) {
	case Variable:
		return map[string]any{variableMarker: val.Name}
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = encodeValue(val[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = encodeValue(inner)
		}
		return out
	default:
		return v
	}
}

func decodeArgs(args []argumentJSON) []Argument {
	if len(args) == 0 {
		return nil
	}
	out := make([]Argument, len(args))
	for i, a := range args {
		out[i] = Argument{Name: a.Name, Value: decodeValue(a.Value)}
	}
	return out
}

func decodeValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = decodeValue(val[i])
		}
		return out
	case map[string]any:
		if name, ok := val[variableMarker].(string); ok && len(val) == 1 {
			return Variable{Name: name}
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = decodeValue(inner)
		}
		return out
	default:
		return v
	}
}

// LoadArtifact reads an artifact file written by the selection compiler.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	return &a, nil
}
