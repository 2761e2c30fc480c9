package tinybase

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes a record type T to and from the opaque byte
// strings stored in a table's primary tree. Implementations must round-trip:
// Decode(Encode(x)) must yield a value equal to x for every well-formed x.
type Codec[T any] interface {
	Encode(buf []byte, v *T) ([]byte, error)
	Decode(data []byte, v *T) error
}

// msgpackCodec is the default Codec, matching the wire format the rest of
// this package's ancestry (andreyvit/edb) uses for row values.
type msgpackCodec[T any] struct{}

// Msgpack returns a Codec[T] backed by github.com/vmihailenco/msgpack/v5.
func Msgpack[T any]() Codec[T] { return msgpackCodec[T]{} }

func (msgpackCodec[T]) Encode(buf []byte, v *T) ([]byte, error) {
	bb := &bytesBuilder{Buf: buf}
	enc := msgpack.GetEncoder()
	enc.Reset(bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("tinybase: failed to encode %T using msgpack: %w", v, err)
	}
	return bb.Buf, nil
}

func (msgpackCodec[T]) Decode(data []byte, v *T) error {
	r := bytes.NewReader(data)
	dec := msgpack.GetDecoder()
	dec.Reset(r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// jsonCodec is an alternative Codec, useful when records must stay
// human-readable on disk.
type jsonCodec[T any] struct{}

// JSON returns a Codec[T] backed by encoding/json.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

func (jsonCodec[T]) Encode(buf []byte, v *T) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tinybase: failed to encode %T to JSON: %w", v, err)
	}
	return appendRaw(buf, raw), nil
}

func (jsonCodec[T]) Decode(data []byte, v *T) error {
	if err := json.Unmarshal(data, v); err != nil {
		return dataErrf(data, 0, err, "failed to decode JSON into %T", v)
	}
	return nil
}
