// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package casekey derives the deterministic identity of entity instances.
//
// A case key is the hex SHA-256 of length-prefixed fields. Three shapes
// exist, each with its own domain tag so they can never collide:
//
//   - Derive: a computed instance, from the entity name, the producing
//     function's version token and the ordered case keys of the dependency
//     instances it consumed.
//   - ForValue: an externally assigned value, from the entity name and a
//     content hash of the value (or the token from Identifier).
//   - ForGroup: a gather group, from the ordered member keys.
//
// Nothing in a key depends on which Flow produced it, so equal inputs give
// equal keys across Flows and processes.
package casekey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"reflect"

	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// Key is a case key: 64 lowercase hex characters.
type Key string

// String returns the key text.
func (k Key) String() string {
	return string(k)
}

// Short returns the first 12 characters, for logs and labels.
func (k Key) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

// Valid reports whether k looks like a case key.
func (k Key) Valid() bool {
	if len(k) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(k))
	return err == nil
}

// Identifier lets a value supply its own identity token in place of a
// content hash. Use it for values that cannot be encoded, or whose encoding
// is not a faithful identity (unexported fields, handles).
type Identifier interface {
	CaseIdentity() string
}

const (
	tagInstance = "flow/instance/v1"
	tagValue    = "flow/value/v1"
	tagIdentity = "flow/identity/v1"
	tagGroup    = "flow/group/v1"
)

// ErrNotHashable is matched by every *NotHashableError.
var ErrNotHashable = errors.New("value is not hashable")

// NotHashableError reports an assigned value that can be neither encoded
// nor identified.
type NotHashableError struct {
	Entity string
	Type   string
	Err    error
}

func (e *NotHashableError) Error() string {
	msg := fmt.Sprintf("value of type %s assigned to %q is not hashable; implement casekey.Identifier", e.Type, e.Entity)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotHashableError) Unwrap() error {
	return e.Err
}

// Is matches ErrNotHashable.
func (e *NotHashableError) Is(target error) bool {
	return target == ErrNotHashable
}

type fieldHasher struct {
	h hash.Hash
}

func newHasher(tag string) *fieldHasher {
	f := &fieldHasher{h: sha256.New()}
	f.field([]byte(tag))
	return f
}

func (f *fieldHasher) field(data []byte) {
	var lengthBytes [8]byte
	binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
	f.h.Write(lengthBytes[:])
	f.h.Write(data)
}

func (f *fieldHasher) count(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	f.field(b[:])
}

func (f *fieldHasher) sum() Key {
	return Key(hex.EncodeToString(f.h.Sum(nil)))
}

// Derive returns the case key of a computed instance.
//
// Inputs:
//
//	entity  - Entity name.
//	version - Version token of the producing function.
//	deps    - Case keys of the dependency instances, in dependency order.
//
// Outputs:
//
//	Key - The case key. Same inputs always give the same key.
func Derive(entity, version string, deps ...Key) Key {
	f := newHasher(tagInstance)
	f.field([]byte(entity))
	f.field([]byte(version))
	f.count(len(deps))
	for _, d := range deps {
		f.field([]byte(d))
	}
	return f.sum()
}

// ForValue returns the case key of a value assigned to entity.
//
// Values implementing Identifier are keyed by their token. Everything else is
// keyed by its Go type name plus its canonical CBOR encoding, so 1 and "1"
// differ and map iteration order does not matter. The position of the value
// within its assignment is not part of the key.
func ForValue(entity string, v any) (Key, error) {
	if id, ok := v.(Identifier); ok {
		f := newHasher(tagIdentity)
		f.field([]byte(entity))
		f.field([]byte(id.CaseIdentity()))
		return f.sum(), nil
	}

	typeName := fmt.Sprintf("%T", v)
	if v != nil {
		switch reflect.TypeOf(v).Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return "", &NotHashableError{Entity: entity, Type: typeName}
		}
	}

	encoded, err := serial.Canonical(v)
	if err != nil {
		return "", &NotHashableError{Entity: entity, Type: typeName, Err: err}
	}
	digest := sha256.Sum256(encoded)

	f := newHasher(tagValue)
	f.field([]byte(entity))
	f.field([]byte(typeName))
	f.field(digest[:])
	return f.sum(), nil
}

// ForGroup returns the case key of a gather group with the given members,
// in order.
func ForGroup(members []Key) Key {
	f := newHasher(tagGroup)
	f.count(len(members))
	for _, m := range members {
		f.field([]byte(m))
	}
	return f.sum()
}
