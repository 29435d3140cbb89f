package models

import (
	"fmt"
	"reflect"
	"strings"
)

// DataID identifies a record in the store. It is opaque to everything but the
// store and the normalizer.
type DataID string

const (
	// RootID is the record every query root field hangs off.
	RootID DataID = "client:root"

	clientIDPrefix = "client:"

	// TypenameKey is the field key of the typename pseudo field.
	TypenameKey = "__typename"
	// IDKey is the field key holding the server-assigned identity.
	IDKey = "id"
)

// ClientID derives the id of a record that has no server identity from its
// parent and the storage key it was found under. Plural fields pass the index.
func ClientID(parent DataID, storageKey string, index ...int) DataID {
	id := string(parent)
	if !strings.HasPrefix(id, clientIDPrefix) {
		id = clientIDPrefix + id
	}
	id += ":" + storageKey
	for _, i := range index {
		id += fmt.Sprintf(":%d", i)
	}
	return DataID(id)
}

func (id DataID) IsClientID() bool {
	return strings.HasPrefix(string(id), clientIDPrefix)
}

func (id DataID) String() string {
	return string(id)
}

// Ref is a field value pointing at another record.
type Ref struct {
	ID DataID
}

// RefList is an ordered list of references. An empty DataID is a null element.
type RefList []DataID

type missing struct{}

func (missing) String() string {
	return "<missing>"
}

// Missing is returned by reads for field keys that were never written.
// It is a value, not an error: consumers render it as loading or absent.
var Missing any = missing{}

func IsMissing(v any) bool {
	_, ok := v.(missing)
	return ok
}

// Record is a flat snapshot of one entity. Nested entities live in their own
// records and are linked through Ref and RefList values.
type Record struct {
	ID       DataID
	Typename string
	Fields   map[string]any
}

func NewRecord(id DataID, typename string) *Record {
	return &Record{
		ID:       id,
		Typename: typename,
		Fields:   make(map[string]any),
	}
}

// Get returns the value stored under key. ok is false when the key was never written,
// which is different from an explicit null (nil value, ok true).
func (r *Record) Get(key string) (value any, ok bool) {
	if key == TypenameKey {
		return r.Typename, r.Typename != ""
	}
	value, ok = r.Fields[key]
	return value, ok
}

func (r *Record) GetRef(key string) (DataID, bool) {
	v, ok := r.Fields[key].(Ref)
	return v.ID, ok
}

func (r *Record) GetRefs(key string) (RefList, bool) {
	v, ok := r.Fields[key].(RefList)
	return v, ok
}

// Clone copies the record. Lists are copied so the clone can be mutated freely.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:       r.ID,
		Typename: r.Typename,
		Fields:   make(map[string]any, len(r.Fields)),
	}
	for k, v := range r.Fields {
		c.Fields[k] = CloneValue(v)
	}
	return c
}

// CloneValue copies list values. Scalars and Refs are immutable and returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case RefList:
		return append(RefList(nil), val...)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = CloneValue(val[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = CloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// ValuesEqual reports whether two field values are the same for invalidation purposes.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
