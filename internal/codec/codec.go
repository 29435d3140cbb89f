// Package codec abstracts the encoding of GraphQL requests and responses on
// the wire. The transports only depend on these interfaces; JSON is the one
// implementation the GraphQL protocols need.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

// Marshaler encodes request bodies and websocket frames.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

// Unmarshaler decodes response bodies and websocket frames. Numbers decode
// to float64 and objects to map[string]any.
type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is both halves, as used by a transport.
type Codec interface {
	Marshaler
	Unmarshaler
}

var _ Codec = (*JSON)(nil)
