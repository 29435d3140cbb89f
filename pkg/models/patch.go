package models

import "sort"

// RecordPatch describes how one record changes.
//
// When Delete is set the record is removed and the other fields are ignored.
// Otherwise the record is created with Typename if absent, then Set is merged
// in and Unset keys are removed.
type RecordPatch struct {
	Typename string
	Set      map[string]any
	Unset    []string
	Delete   bool
}

// Patch is a set of record patches keyed by record id.
type Patch map[DataID]*RecordPatch

// IDs returns the patched record ids in a stable order.
func (p Patch) IDs() []DataID {
	ids := make([]DataID, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p Patch) Empty() bool {
	return len(p) == 0
}

// Record returns the patch for id, creating an empty one.
func (p Patch) Record(id DataID) *RecordPatch {
	rp, ok := p[id]
	if !ok {
		rp = &RecordPatch{}
		p[id] = rp
	}
	return rp
}

// SetField records key=value on id, cancelling a pending Unset of the same key.
func (p Patch) SetField(id DataID, key string, value any) {
	rp := p.Record(id)
	if rp.Set == nil {
		rp.Set = make(map[string]any)
	}
	rp.Set[key] = value
	rp.Unset = removeKey(rp.Unset, key)
}

// UnsetField records the removal of key on id, cancelling a pending Set of the same key.
func (p Patch) UnsetField(id DataID, key string) {
	rp := p.Record(id)
	delete(rp.Set, key)
	for _, k := range rp.Unset {
		if k == key {
			return
		}
	}
	rp.Unset = append(rp.Unset, key)
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// Change is the outcome of one store update: the patch that was applied and
// the patch that undoes it.
type Change struct {
	Forward Patch
	Inverse Patch
}
