package store

import (
	"strconv"

	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

type invalidated struct{}

// Invalidated replaces a payload subtree the server flagged as unusable.
// The normalizer unsets the field holding it, so the data reads as missing.
var Invalidated any = invalidated{}

// ConnectionPayload is a page of a @connection field found while normalizing.
type ConnectionPayload struct {
	ParentID models.DataID
	Field    *selection.LinkedField
	// RecordID is the server connection record, empty when the server returned null.
	RecordID  models.DataID
	HandleKey string
	Args      map[string]any
}

// Normalize writes a response payload into the store, flattening it into
// records along selections. Records with an id field keep that id; others get
// a client id derived from their parent and storage key. Keys absent from the
// payload are left untouched.
func Normalize(tx *Tx, root models.DataID, typename string, selections []selection.Node, vars map[string]any, data map[string]any) []ConnectionPayload {
	n := &normalizer{tx: tx, vars: vars}
	tx.Create(root, typename)
	n.record(root, typename, selections, data)
	return n.connections
}

type normalizer struct {
	tx          *Tx
	vars        map[string]any
	connections []ConnectionPayload
}

func (n *normalizer) record(id models.DataID, typename string, selections []selection.Node, data map[string]any) {
	for _, node := range selections {
		switch f := node.(type) {
		case *selection.ScalarField:
			value, ok := data[f.ResponseKey()]
			if !ok {
				continue
			}
			if f.Name == models.TypenameKey {
				if name, ok := value.(string); ok {
					n.tx.Create(id, name)
				}
				continue
			}
			key := f.StorageKey(n.vars)
			if value == Invalidated {
				n.tx.Unset(id, key)
				continue
			}
			n.tx.Set(id, key, value)
		case *selection.LinkedField:
			value, ok := data[f.ResponseKey()]
			if !ok {
				continue
			}
			n.linked(id, f, value)
		case *selection.FragmentSpread:
			if f.Fragment != nil && n.applies(f.Fragment.TypeCondition, typename) {
				n.record(id, typename, f.Fragment.Selections, data)
			}
		case *selection.InlineFragment:
			if n.applies(f.TypeCondition, typename) {
				n.record(id, typename, f.Selections, data)
			}
		}
	}
}

func (n *normalizer) linked(parent models.DataID, f *selection.LinkedField, value any) {
	key := f.StorageKey(n.vars)
	if value == Invalidated {
		n.tx.Unset(parent, key)
		return
	}

	var child models.DataID
	switch v := value.(type) {
	case nil:
		n.tx.Set(parent, key, nil)
	case map[string]any:
		if v == nil {
			n.tx.Set(parent, key, nil)
			break
		}
		if f.Plural {
			n.malformed(parent, key, value)
			return
		}
		child = n.child(parent, key, f, v)
		n.tx.Set(parent, key, models.Ref{ID: child})
	case []any:
		if !f.Plural {
			n.malformed(parent, key, value)
			return
		}
		refs := make(models.RefList, len(v))
		for i, item := range v {
			switch it := item.(type) {
			case nil:
			case map[string]any:
				refs[i] = n.child(parent, key, f, it, i)
			default:
				// An invalidated or malformed element poisons the whole list.
				n.tx.Unset(parent, key)
				return
			}
		}
		n.tx.Set(parent, key, refs)
	default:
		n.malformed(parent, key, value)
		return
	}

	if f.Connection != nil {
		n.connections = append(n.connections, ConnectionPayload{
			ParentID:  parent,
			Field:     f,
			RecordID:  child,
			HandleKey: f.HandleKey(n.vars),
			Args:      selection.ArgValues(f.Args, n.vars),
		})
	}
}

func (n *normalizer) child(parent models.DataID, key string, f *selection.LinkedField, data map[string]any, index ...int) models.DataID {
	id := identity(data)
	if id == "" {
		id = models.ClientID(parent, key, index...)
	}
	typename, _ := data[models.TypenameKey].(string)
	if typename == "" {
		if existing, ok := n.tx.Get(id); ok {
			typename = existing.Typename
		} else {
			typename = f.TypeName
		}
	}
	n.tx.Create(id, typename)
	n.record(id, typename, f.Selections, data)
	return id
}

// applies reports whether a fragment on condition may hold fields of a record
// of typename. Unknown typenames apply every fragment: the server only sends
// fields for the branch that matched.
func (n *normalizer) applies(condition, typename string) bool {
	if condition == "" || typename == "" || condition == typename {
		return true
	}
	if reg := n.tx.s.schema; reg != nil {
		if _, err := reg.Type(typename); err == nil {
			return reg.IsSubtype(condition, typename)
		}
		return true
	}
	return false
}

func (n *normalizer) malformed(id models.DataID, key string, value any) {
	n.tx.s.logger.Warn("payload shape does not match selection", "record", id, "field", key, "value", value)
}

func identity(data map[string]any) models.DataID {
	switch v := data[models.IDKey].(type) {
	case string:
		return models.DataID(v)
	case float64:
		return models.DataID(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return ""
	}
}

// Prune replaces the value at path in data with Invalidated. Path elements are
// response keys (string) or list indices (int or float64). It reports whether
// the path existed.
func Prune(data map[string]any, path []any) bool {
	if len(path) == 0 {
		return false
	}
	var cur any = data
	for i, seg := range path {
		last := i == len(path)-1
		switch node := cur.(type) {
		case map[string]any:
			key, ok := seg.(string)
			if !ok {
				return false
			}
			next, ok := node[key]
			if !ok {
				return false
			}
			if last {
				node[key] = Invalidated
				return true
			}
			cur = next
		case []any:
			idx, ok := index(seg)
			if !ok || idx < 0 || idx >= len(node) {
				return false
			}
			if last {
				node[idx] = Invalidated
				return true
			}
			cur = node[idx]
		default:
			return false
		}
	}
	return false
}

func index(seg any) (int, bool) {
	switch v := seg.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
