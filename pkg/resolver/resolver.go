// Package resolver denormalizes records into the tree a selection asks for.
//
// Read never mutates its source and never fails: absent data is reported as
// models.Missing values and Snapshot.IsMissingData.
package resolver

import (
	"github.com/surrealdb/gqlcache.go/pkg/logger"
	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/schema"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

// RecordSource is read access to normalized records. The store hands one to
// Read while holding its read lock.
type RecordSource interface {
	Get(id models.DataID) (*models.Record, bool)
}

// FieldKey names one field of one record. An empty Key stands for the record itself.
type FieldKey struct {
	ID  models.DataID
	Key string
}

// Seen is the set of record fields a read depended on.
type Seen map[FieldKey]struct{}

func (s Seen) Add(id models.DataID, key string) {
	s[FieldKey{ID: id, Key: key}] = struct{}{}
}

func (s Seen) Has(id models.DataID, key string) bool {
	_, ok := s[FieldKey{ID: id, Key: key}]
	return ok
}

// Snapshot is the result of one read.
type Snapshot struct {
	Root models.DataID
	// Data is nil when the root record itself is absent.
	Data          map[string]any
	IsMissingData bool
	Seen          Seen
}

type Options struct {
	// Schema, when set, decides inline fragment matches on abstract types and
	// flags dangling references in non-null fields.
	Schema *schema.Registry
	Logger logger.Logger
}

type reader struct {
	src     RecordSource
	vars    map[string]any
	opts    Options
	log     logger.Logger
	missing bool
	seen    Seen
}

// Read walks selections from root, one source lookup per reference hop.
func Read(src RecordSource, root models.DataID, selections []selection.Node, vars map[string]any, opts Options) Snapshot {
	r := &reader{
		src:  src,
		vars: vars,
		opts: opts,
		log:  logger.OrNop(opts.Logger),
		seen: make(Seen),
	}
	snap := Snapshot{Root: root, Seen: r.seen}
	if data, ok := r.record(root, selections); ok {
		snap.Data = data
	}
	snap.IsMissingData = r.missing
	return snap
}

func (r *reader) record(id models.DataID, selections []selection.Node) (map[string]any, bool) {
	r.seen.Add(id, "")
	rec, ok := r.src.Get(id)
	if !ok {
		r.missing = true
		return nil, false
	}
	data := make(map[string]any, len(selections))
	r.selections(rec, selections, data)
	return data, true
}

func (r *reader) selections(rec *models.Record, selections []selection.Node, data map[string]any) {
	for _, n := range selections {
		switch node := n.(type) {
		case *selection.ScalarField:
			key := node.StorageKey(r.vars)
			r.seen.Add(rec.ID, key)
			value, ok := rec.Get(key)
			if !ok {
				r.missing = true
				data[node.ResponseKey()] = models.Missing
				continue
			}
			data[node.ResponseKey()] = models.CloneValue(value)
		case *selection.LinkedField:
			data[node.ResponseKey()] = r.linked(rec, node)
		case *selection.FragmentSpread:
			if node.Fragment != nil && r.matches(node.Fragment.TypeCondition, rec.Typename) {
				r.selections(rec, node.Fragment.Selections, data)
			}
		case *selection.InlineFragment:
			if r.matches(node.TypeCondition, rec.Typename) {
				r.selections(rec, node.Selections, data)
			}
		}
	}
}

func (r *reader) linked(rec *models.Record, field *selection.LinkedField) any {
	key := field.StorageKey(r.vars)
	if field.Connection != nil {
		handle := field.HandleKey(r.vars)
		r.seen.Add(rec.ID, handle)
		if _, ok := rec.Get(handle); ok {
			key = handle
		}
	}
	r.seen.Add(rec.ID, key)

	value, ok := rec.Get(key)
	if !ok {
		r.missing = true
		return models.Missing
	}

	switch v := value.(type) {
	case nil:
		return nil
	case models.Ref:
		data, ok := r.record(v.ID, field.Selections)
		if !ok {
			r.dangling(rec, field, v.ID)
			return models.Missing
		}
		return data
	case models.RefList:
		items := make([]any, len(v))
		for i, id := range v {
			if id == "" {
				items[i] = nil
				continue
			}
			data, ok := r.record(id, field.Selections)
			if !ok {
				r.dangling(rec, field, id)
				items[i] = models.Missing
				continue
			}
			items[i] = data
		}
		return items
	default:
		r.log.Warn("linked field holds a scalar value", "record", rec.ID, "field", key)
		r.missing = true
		return models.Missing
	}
}

func (r *reader) matches(condition, typename string) bool {
	if condition == "" || condition == typename {
		return true
	}
	if r.opts.Schema == nil || typename == "" {
		return false
	}
	return r.opts.Schema.IsSubtype(condition, typename)
}

func (r *reader) dangling(parent *models.Record, field *selection.LinkedField, target models.DataID) {
	if r.opts.Schema == nil || parent.Typename == "" {
		return
	}
	f, err := r.opts.Schema.Field(parent.Typename, field.Name)
	if err != nil || !f.NonNull {
		return
	}
	r.log.Warn("non-null field references a deleted record",
		"record", parent.ID, "field", field.Name, "target", target)
}
