package models

import (
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/surrealdb/gqlcache.go/internal/codec"
)

type valueKind uint8

const (
	kindScalar valueKind = iota
	kindRef
	kindRefList
)

type cborField struct {
	Key   string    `cbor:"k"`
	Kind  valueKind `cbor:"t"`
	Value any       `cbor:"v"`
	Ref   string    `cbor:"r,omitempty"`
	Refs  []string  `cbor:"l,omitempty"`
}

type cborRecord struct {
	ID       string      `cbor:"id"`
	Typename string      `cbor:"tn"`
	Fields   []cborField `cbor:"f"`
}

// MarshalCBOR encodes the record with an explicit kind per field,
// so references survive the round trip through a snapshot file.
func (r *Record) MarshalCBOR() ([]byte, error) {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := cborRecord{ID: string(r.ID), Typename: r.Typename, Fields: make([]cborField, 0, len(keys))}
	for _, k := range keys {
		f := cborField{Key: k}
		switch v := r.Fields[k].(type) {
		case Ref:
			f.Kind = kindRef
			f.Ref = string(v.ID)
		case RefList:
			f.Kind = kindRefList
			f.Refs = make([]string, len(v))
			for i, id := range v {
				f.Refs[i] = string(id)
			}
		default:
			f.Kind = kindScalar
			f.Value = v
		}
		out.Fields = append(out.Fields, f)
	}

	return getCborEncoder().Marshal(out)
}

func (r *Record) UnmarshalCBOR(data []byte) error {
	var in cborRecord
	if err := getCborDecoder().Unmarshal(data, &in); err != nil {
		return err
	}

	r.ID = DataID(in.ID)
	r.Typename = in.Typename
	r.Fields = make(map[string]any, len(in.Fields))
	for _, f := range in.Fields {
		switch f.Kind {
		case kindRef:
			r.Fields[f.Key] = Ref{ID: DataID(f.Ref)}
		case kindRefList:
			refs := make(RefList, len(f.Refs))
			for i, id := range f.Refs {
				refs[i] = DataID(id)
			}
			r.Fields[f.Key] = refs
		case kindScalar:
			r.Fields[f.Key] = f.Value
		default:
			return fmt.Errorf("record %s: unknown field kind %d for %q", in.ID, f.Kind, f.Key)
		}
	}

	return nil
}

type CborMarshaler struct {
}

func (c CborMarshaler) Marshal(v any) ([]byte, error) {
	return getCborEncoder().Marshal(v)
}

func (c CborMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	return getCborEncoder().NewEncoder(w)
}

type CborUnmarshaler struct {
}

func (c CborUnmarshaler) Unmarshal(data []byte, dst any) error {
	return getCborDecoder().Unmarshal(data, dst)
}

func (c CborUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	return getCborDecoder().NewDecoder(r)
}

func getCborEncoder() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	return em
}

func getCborDecoder() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return dm
}
