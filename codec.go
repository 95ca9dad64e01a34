package reldoc

import "github.com/vmihailenco/msgpack/v5"

// Codec serializes document bodies to an opaque blob plus a content-type
// tag. Applications may supply their own codec (JSON, protobuf, ...); the
// rest of the library never inspects the bytes it produces.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec is the default Codec, backed by msgpack, applied here to a
// whole document instead of per-field tuples since the library treats the
// payload as opaque.
type MsgpackCodec struct{}

func (MsgpackCodec) ContentType() string { return "application/msgpack" }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
