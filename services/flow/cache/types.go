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
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// Sentinel errors for the cache package.
var (
	// ErrNotFound is returned by a Persistent tier when no record exists.
	ErrNotFound = errors.New("cache record not found")

	// ErrCorruptRecord is returned when a persisted record fails verification.
	ErrCorruptRecord = errors.New("cache record is corrupt")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("cache store is closed")
)

// Persistent is a durable tier addressed by case key.
//
// Implementations store opaque record bytes. A Save must be atomic: a
// concurrent or later Load sees either the previous record or the complete
// new one, never a partial write.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use, including by several
//	processes sharing the same location.
type Persistent interface {
	// Load returns the record bytes for key, or ErrNotFound.
	Load(ctx context.Context, key casekey.Key) ([]byte, error)

	// Save stores the record bytes for key, replacing any previous record.
	Save(ctx context.Context, key casekey.Key, data []byte) error

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key casekey.Key) error

	// List calls fn for every stored key. Iteration stops at the first error.
	List(ctx context.Context, fn func(key casekey.Key) error) error

	// Close releases resources held by the tier.
	Close() error
}

// Entry describes the cache slot for one instance.
type Entry struct {
	// Key is the instance's case key.
	Key casekey.Key

	// Entity is the producing entity name, recorded as metadata.
	Entity string

	// Version is the producing function's version token, recorded as metadata.
	Version string

	// Codec serializes the value for the persistent tier. Nil means memory only.
	Codec serial.Codec

	// Transient keeps the value in memory only.
	Transient bool
}

// Persistable reports whether the value may be written to the persistent tier.
func (e Entry) Persistable() bool {
	return e.Codec != nil && !e.Transient
}

// ComputeFunc produces the value for an entry on a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Source tells where a value returned by GetOrCompute came from.
type Source int

const (
	// SourceComputed means this call ran the computation.
	SourceComputed Source = iota

	// SourceMemory means the memory tier had the value.
	SourceMemory

	// SourcePersistent means the persistent tier had the value.
	SourcePersistent

	// SourceShared means another in-flight call for the same key produced it.
	SourceShared
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourcePersistent:
		return "persistent"
	case SourceShared:
		return "shared"
	default:
		return "computed"
	}
}

// Stats is a snapshot of Store counters.
type Stats struct {
	MemoryEntries  int
	MaxEntries     int
	MemoryHits     int64
	PersistentHits int64
	Misses         int64
	Computations   int64
	SharedWaits    int64
	Evictions      int64
	CorruptRecords int64
	Errors         int64
}

// Options configures a Store.
type Options struct {
	// MaxEntries bounds the memory tier; the least recently used entry is
	// evicted first. Zero means unbounded.
	MaxEntries int

	// Logger receives warnings about corrupt records. Nil means slog.Default().
	Logger *slog.Logger

	// Now returns the time stamped on new records. Nil means time.Now.
	Now func() time.Time
}

// Option configures a Store.
type Option func(*Options)

// WithMaxEntries bounds the memory tier.
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		o.MaxEntries = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock sets the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}
