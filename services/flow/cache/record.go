// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// RecordFormat is the envelope format version written by this package.
const RecordFormat = 1

// Record is the persisted envelope for one cached value.
//
// Records are stored as canonical CBOR. Checksum is the hex SHA-256 of
// Payload and is verified on every load.
type Record struct {
	Format    int    `codec:"format"`
	Key       string `codec:"key"`
	Entity    string `codec:"entity"`
	Version   string `codec:"version"`
	Codec     string `codec:"codec"`
	CreatedAt int64  `codec:"created_at"` // unix milliseconds
	Checksum  string `codec:"checksum"`
	Payload   []byte `codec:"payload"`
}

// NewRecord builds a record for an encoded payload.
func NewRecord(e Entry, payload []byte, createdAt time.Time) *Record {
	codecName := ""
	if e.Codec != nil {
		codecName = e.Codec.Name()
	}
	return &Record{
		Format:    RecordFormat,
		Key:       string(e.Key),
		Entity:    e.Entity,
		Version:   e.Version,
		Codec:     codecName,
		CreatedAt: createdAt.UnixMilli(),
		Checksum:  checksum(payload),
		Payload:   payload,
	}
}

// Created returns the creation time.
func (r *Record) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// Marshal encodes the record.
func (r *Record) Marshal() ([]byte, error) {
	return serial.MarshalCBOR(r)
}

// Verify checks the format version and payload checksum.
func (r *Record) Verify() error {
	if r.Format != RecordFormat {
		return fmt.Errorf("%w: format %d, want %d", ErrCorruptRecord, r.Format, RecordFormat)
	}
	if r.Checksum != checksum(r.Payload) {
		return fmt.Errorf("%w: checksum mismatch for %s", ErrCorruptRecord, r.Key)
	}
	return nil
}

// UnmarshalRecord decodes and verifies record bytes stored under key.
//
// Outputs:
//
//	*Record - The verified record.
//	error - Wraps ErrCorruptRecord if the bytes do not decode, fail
//	        verification, or belong to a different key.
func UnmarshalRecord(key casekey.Key, data []byte) (*Record, error) {
	var r Record
	if err := serial.UnmarshalCBOR(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	if r.Key != string(key) {
		return nil, fmt.Errorf("%w: stored under %s but names %s", ErrCorruptRecord, key, r.Key)
	}
	return &r, nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
