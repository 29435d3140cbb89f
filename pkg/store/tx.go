package store

import (
	"sort"

	"github.com/surrealdb/gqlcache.go/pkg/models"
	"github.com/surrealdb/gqlcache.go/pkg/resolver"
	"github.com/surrealdb/gqlcache.go/pkg/selection"
)

// Tx is the write handle passed to Store.Update. It is only valid inside the
// update function.
type Tx struct {
	s *Store
	// before holds the state of every touched record prior to the update,
	// nil for records that did not exist.
	before map[models.DataID]*models.Record
}

func newTx(s *Store) *Tx {
	return &Tx{s: s, before: make(map[models.DataID]*models.Record)}
}

func (tx *Tx) touch(id models.DataID) {
	if _, ok := tx.before[id]; ok {
		return
	}
	if r, ok := tx.s.records[id]; ok {
		tx.before[id] = r.Clone()
		return
	}
	tx.before[id] = nil
}

// Get returns the current record, including writes made earlier in the
// transaction. The record must not be modified.
func (tx *Tx) Get(id models.DataID) (*models.Record, bool) {
	r, ok := tx.s.records[id]
	return r, ok
}

// Read denormalizes selections against the transaction's current state.
func (tx *Tx) Read(root models.DataID, selections []selection.Node, vars map[string]any) resolver.Snapshot {
	return tx.s.read(root, selections, vars)
}

func (tx *Tx) ensure(id models.DataID, typename string) *models.Record {
	tx.touch(id)
	r, ok := tx.s.records[id]
	if !ok {
		r = models.NewRecord(id, typename)
		tx.s.records[id] = r
	} else if typename != "" && r.Typename != typename {
		r.Typename = typename
	}
	return r
}

// Create makes sure the record exists, setting its typename when one is given.
func (tx *Tx) Create(id models.DataID, typename string) {
	tx.ensure(id, typename)
}

// Write merges fields into id with last-write-wins per field key.
func (tx *Tx) Write(id models.DataID, typename string, fields map[string]any) {
	r := tx.ensure(id, typename)
	for k, v := range fields {
		if k == models.TypenameKey {
			if name, ok := v.(string); ok && name != "" {
				r.Typename = name
			}
			continue
		}
		r.Fields[k] = models.CloneValue(v)
	}
}

func (tx *Tx) Set(id models.DataID, key string, value any) {
	tx.Write(id, "", map[string]any{key: value})
}

// Unset removes a field key so it reads as missing.
func (tx *Tx) Unset(id models.DataID, key string) {
	r, ok := tx.s.records[id]
	if !ok {
		return
	}
	if _, ok := r.Fields[key]; !ok {
		return
	}
	tx.touch(id)
	delete(r.Fields, key)
}

func (tx *Tx) Delete(id models.DataID) {
	if _, ok := tx.s.records[id]; !ok {
		return
	}
	tx.touch(id)
	delete(tx.s.records, id)
}

// ApplyPatch applies every record patch of p.
func (tx *Tx) ApplyPatch(p models.Patch) {
	for _, id := range p.IDs() {
		rp := p[id]
		if rp.Delete {
			tx.Delete(id)
			continue
		}
		tx.Write(id, rp.Typename, rp.Set)
		for _, key := range rp.Unset {
			tx.Unset(id, key)
		}
	}
}

func (tx *Tx) rollback() {
	for id, before := range tx.before {
		if before == nil {
			delete(tx.s.records, id)
			continue
		}
		tx.s.records[id] = before
	}
}

// commit diffs every touched record against its prior state. It returns the
// change and the set of (id, key) pairs that actually changed; the empty key
// marks a record that was created or deleted.
func (tx *Tx) commit() (*models.Change, map[resolver.FieldKey]struct{}) {
	change := &models.Change{Forward: models.Patch{}, Inverse: models.Patch{}}
	changed := make(map[resolver.FieldKey]struct{})
	mark := func(id models.DataID, key string) {
		changed[resolver.FieldKey{ID: id, Key: key}] = struct{}{}
	}

	for id, before := range tx.before {
		after, exists := tx.s.records[id]
		switch {
		case before == nil && !exists:
		case before == nil:
			fwd := change.Forward.Record(id)
			fwd.Typename = after.Typename
			fwd.Set = cloneFields(after.Fields)
			change.Inverse.Record(id).Delete = true
			mark(id, "")
			for k := range after.Fields {
				mark(id, k)
			}
		case !exists:
			change.Forward.Record(id).Delete = true
			inv := change.Inverse.Record(id)
			inv.Typename = before.Typename
			inv.Set = cloneFields(before.Fields)
			mark(id, "")
			for k := range before.Fields {
				mark(id, k)
			}
		default:
			diffRecord(change, before, after, mark)
		}
	}
	return change, changed
}

func diffRecord(change *models.Change, before, after *models.Record, mark func(models.DataID, string)) {
	id := after.ID
	if before.Typename != after.Typename {
		change.Forward.Record(id).Typename = after.Typename
		change.Inverse.Record(id).Typename = before.Typename
		mark(id, models.TypenameKey)
	}
	keys := make([]string, 0, len(after.Fields))
	for k := range after.Fields {
		keys = append(keys, k)
	}
	for k := range before.Fields {
		if _, ok := after.Fields[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		old, hadOld := before.Fields[k]
		cur, hasCur := after.Fields[k]
		switch {
		case hadOld && hasCur && models.ValuesEqual(old, cur):
			continue
		case hasCur:
			change.Forward.SetField(id, k, models.CloneValue(cur))
		default:
			change.Forward.UnsetField(id, k)
		}
		if hadOld {
			change.Inverse.SetField(id, k, models.CloneValue(old))
		} else {
			change.Inverse.UnsetField(id, k)
		}
		mark(id, k)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = models.CloneValue(v)
	}
	return out
}
