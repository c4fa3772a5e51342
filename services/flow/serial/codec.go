// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package serial provides the pluggable serialization capability used to
// persist entity values.
//
// The engine never inspects values itself; each entity carries a Codec and
// the cache store calls Encode before a persistent write and Decode after a
// persistent read. Codecs are generic over the decoded type so a value read
// back from disk has the same Go type as the value the producing function
// returned:
//
//	entity.Declaration{
//	    Name:  "model",
//	    Codec: serial.JSON[Model](),
//	    ...
//	}
//
// Canonical returns the deterministic CBOR form used for content hashing.
package serial

import (
	"encoding/json"
	"fmt"

	"github.com/ugorji/go/codec"
	"gopkg.in/yaml.v3"
)

// Codec converts entity values to and from bytes.
//
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name identifies the encoding in persisted record metadata.
	Name() string

	// Encode serializes a value.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes produced by Encode.
	Decode(data []byte) (any, error)
}

var (
	cborHandle    = newCBORHandle()
	msgpackHandle = newMsgpackHandle()
)

func newCBORHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	return h
}

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.Canonical = true
	return h
}

// Canonical returns the canonical CBOR encoding of v.
//
// Map keys are sorted so equal values always produce equal bytes. Used by
// the case key deriver for content hashing of assigned values.
func Canonical(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, cborHandle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalCBOR encodes v as canonical CBOR. Used for persisted record envelopes.
func MarshalCBOR(v any) ([]byte, error) {
	return Canonical(v)
}

// UnmarshalCBOR decodes CBOR bytes into the value pointed to by v.
func UnmarshalCBOR(data []byte, v any) error {
	return codec.NewDecoderBytes(data, cborHandle).Decode(v)
}

// typedCodec adapts typed encode/decode functions to the Codec interface.
type typedCodec[T any] struct {
	name   string
	encode func(v T) ([]byte, error)
	decode func(data []byte, v *T) error
}

func (c *typedCodec[T]) Name() string {
	return c.name
}

func (c *typedCodec[T]) Encode(v any) ([]byte, error) {
	typed, ok := v.(T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: %s codec expects %T, got %T", ErrTypeMismatch, c.name, zero, v)
	}
	return c.encode(typed)
}

func (c *typedCodec[T]) Decode(data []byte) (any, error) {
	var v T
	if err := c.decode(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSON returns a codec using encoding/json that decodes into T.
func JSON[T any]() Codec {
	return &typedCodec[T]{
		name: "json",
		encode: func(v T) ([]byte, error) {
			return json.Marshal(v)
		},
		decode: func(data []byte, v *T) error {
			return json.Unmarshal(data, v)
		},
	}
}

// CBOR returns a canonical CBOR codec that decodes into T.
func CBOR[T any]() Codec {
	return &typedCodec[T]{
		name: "cbor",
		encode: func(v T) ([]byte, error) {
			var out []byte
			err := codec.NewEncoderBytes(&out, cborHandle).Encode(v)
			return out, err
		},
		decode: func(data []byte, v *T) error {
			return codec.NewDecoderBytes(data, cborHandle).Decode(v)
		},
	}
}

// Msgpack returns a MessagePack codec that decodes into T.
func Msgpack[T any]() Codec {
	return &typedCodec[T]{
		name: "msgpack",
		encode: func(v T) ([]byte, error) {
			var out []byte
			err := codec.NewEncoderBytes(&out, msgpackHandle).Encode(v)
			return out, err
		},
		decode: func(data []byte, v *T) error {
			return codec.NewDecoderBytes(data, msgpackHandle).Decode(v)
		},
	}
}

// YAML returns a codec using gopkg.in/yaml.v3 that decodes into T.
func YAML[T any]() Codec {
	return &typedCodec[T]{
		name: "yaml",
		encode: func(v T) ([]byte, error) {
			return yaml.Marshal(v)
		},
		decode: func(data []byte, v *T) error {
			return yaml.Unmarshal(data, v)
		},
	}
}

// Bytes returns a pass-through codec for []byte values.
func Bytes() Codec {
	return &typedCodec[[]byte]{
		name: "bytes",
		encode: func(v []byte) ([]byte, error) {
			out := make([]byte, len(v))
			copy(out, v)
			return out, nil
		},
		decode: func(data []byte, v *[]byte) error {
			*v = append([]byte(nil), data...)
			return nil
		},
	}
}
