// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the two-tier store for computed entity values.
//
// Values are addressed by case key. The memory tier holds decoded values
// for the lifetime of the Store; the optional persistent tier holds encoded
// records that outlive the process. Lookups consult memory first, then the
// persistent tier, promoting persistent hits into memory.
//
// A Store is an explicit handle: create one per process (or per test) and
// pass it to every Flow that should share cached values.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// Store is the two-tier cache.
//
// Thread Safety:
//
//	Store is safe for concurrent use. The memory tier is guarded by a mutex;
//	GetOrCompute runs at most one computation per case key at a time.
type Store struct {
	persistent Persistent
	options    Options
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[casekey.Key]*list.Element
	lru     *list.List
	closed  bool

	flight singleflight.Group

	memoryHits     int64
	persistentHits int64
	misses         int64
	computations   int64
	sharedWaits    int64
	evictions      int64
	corruptRecords int64
	errorCount     int64
}

type memEntry struct {
	key   casekey.Key
	value any
}

// NewStore creates a Store over an optional persistent tier.
//
// Inputs:
//
//	persistent - Durable tier. Nil gives a memory-only store.
//	opts - Functional options.
//
// Outputs:
//
//	*Store - The store. Never nil.
func NewStore(persistent Persistent, opts ...Option) *Store {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		persistent: persistent,
		options:    options,
		logger:     logger.With("component", "flow_cache"),
		entries:    make(map[casekey.Key]*list.Element),
		lru:        list.New(),
	}
}

// NewMemoryStore creates a memory-only Store.
func NewMemoryStore(opts ...Option) *Store {
	return NewStore(nil, opts...)
}

// Persistent returns the persistent tier, or nil.
func (s *Store) Persistent() Persistent {
	return s.persistent
}

// Get returns the cached value for an entry.
//
// A memory hit returns the stored object, not a copy, so callers must not
// mutate it.
//
// Outputs:
//
//	any - The value, if found.
//	bool - True if either tier had the value.
//	error - Non-nil on a persistent tier failure or a decode failure
//	        (*serial.Error). A corrupt record is not an error: it is
//	        deleted and reported as a miss.
func (s *Store) Get(ctx context.Context, e Entry) (any, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	if v, ok := s.memGet(e.Key); ok {
		atomic.AddInt64(&s.memoryHits, 1)
		recordHit(ctx, "memory")
		return v, true, nil
	}

	v, found, err := s.load(ctx, e)
	if err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		return nil, false, err
	}
	if !found {
		atomic.AddInt64(&s.misses, 1)
		recordMiss(ctx)
		return nil, false, nil
	}
	atomic.AddInt64(&s.persistentHits, 1)
	recordHit(ctx, "persistent")
	s.memPut(ctx, e.Key, v)
	return v, true, nil
}

// Put writes a value to both tiers.
//
// The persistent write happens first; if it fails the memory tier is left
// untouched so the value is not half-cached.
func (s *Store) Put(ctx context.Context, e Entry, v any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.save(ctx, e, v); err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		return err
	}
	s.memPut(ctx, e.Key, v)
	return nil
}

type flightResult struct {
	value  any
	source Source
}

// GetOrCompute returns the cached value for an entry, computing and storing
// it on a miss.
//
// Description:
//
//	Concurrent calls for the same key share a single execution: one caller
//	checks the tiers again, computes on a miss and writes both tiers; the
//	others block and receive its result with SourceShared. A failed
//	computation is returned to every waiter and is not cached, so the next
//	call computes again. As with Get, the value is shared and must not be
//	mutated.
//
// Inputs:
//
//	ctx - Bounds how long this caller waits. The shared computation runs
//	      under the first caller's context values with its cancellation
//	      removed, so a caller that gives up does not fail the others and
//	      the computation still completes and is cached.
//	e - The entry.
//	compute - Produces the value on a miss.
//
// Outputs:
//
//	any - The value.
//	Source - Where the value came from.
//	error - The compute error verbatim, or a storage/serialization error.
func (s *Store) GetOrCompute(ctx context.Context, e Entry, compute ComputeFunc) (any, Source, error) {
	if err := s.checkOpen(); err != nil {
		return nil, SourceComputed, err
	}
	if v, ok := s.memGet(e.Key); ok {
		atomic.AddInt64(&s.memoryHits, 1)
		recordHit(ctx, "memory")
		return v, SourceMemory, nil
	}

	executed := false
	ch := s.flight.DoChan(string(e.Key), func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		executed = true

		// Check again: another flight may have finished between our
		// memory check and acquiring this one.
		if v, ok := s.memGet(e.Key); ok {
			atomic.AddInt64(&s.memoryHits, 1)
			recordHit(ctx, "memory")
			return flightResult{value: v, source: SourceMemory}, nil
		}

		v, found, err := s.load(ctx, e)
		if err != nil {
			return nil, err
		}
		if found {
			atomic.AddInt64(&s.persistentHits, 1)
			recordHit(ctx, "persistent")
			s.memPut(ctx, e.Key, v)
			return flightResult{value: v, source: SourcePersistent}, nil
		}

		atomic.AddInt64(&s.misses, 1)
		recordMiss(ctx)
		atomic.AddInt64(&s.computations, 1)
		v, err = compute(ctx)
		if err != nil {
			return nil, err
		}

		if err := s.save(ctx, e, v); err != nil {
			return nil, err
		}
		s.memPut(ctx, e.Key, v)
		return flightResult{value: v, source: SourceComputed}, nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, SourceComputed, ctx.Err()
	}
	if r.Err != nil {
		if executed {
			atomic.AddInt64(&s.errorCount, 1)
		}
		return nil, SourceComputed, r.Err
	}

	out := r.Val.(flightResult)
	if !executed {
		atomic.AddInt64(&s.sharedWaits, 1)
		out.source = SourceShared
	}
	return out.value, out.source, nil
}

// Contains reports whether the memory tier holds key. It does not consult
// the persistent tier and does not affect LRU order.
func (s *Store) Contains(key casekey.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Forget removes key from the memory tier only.
func (s *Store) Forget(key casekey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[key]; ok {
		s.lru.Remove(elem)
		delete(s.entries, key)
	}
}

// Purge removes key from both tiers.
func (s *Store) Purge(ctx context.Context, key casekey.Key) error {
	s.Forget(key)
	if s.persistent == nil {
		return nil
	}
	if err := s.persistent.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Clear empties the memory tier. The persistent tier is untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[casekey.Key]*list.Element)
	s.lru.Init()
}

// Stats returns current cache statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries := len(s.entries)
	s.mu.Unlock()

	return Stats{
		MemoryEntries:  entries,
		MaxEntries:     s.options.MaxEntries,
		MemoryHits:     atomic.LoadInt64(&s.memoryHits),
		PersistentHits: atomic.LoadInt64(&s.persistentHits),
		Misses:         atomic.LoadInt64(&s.misses),
		Computations:   atomic.LoadInt64(&s.computations),
		SharedWaits:    atomic.LoadInt64(&s.sharedWaits),
		Evictions:      atomic.LoadInt64(&s.evictions),
		CorruptRecords: atomic.LoadInt64(&s.corruptRecords),
		Errors:         atomic.LoadInt64(&s.errorCount),
	}
}

// Close clears the memory tier and closes the persistent tier.
// Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.entries = make(map[casekey.Key]*list.Element)
	s.lru.Init()
	s.mu.Unlock()

	if s.persistent != nil {
		return s.persistent.Close()
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// Memory tier
// =============================================================================

func (s *Store) memGet(key casekey.Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(elem)
	return elem.Value.(*memEntry).value, true
}

func (s *Store) memPut(ctx context.Context, key casekey.Key, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if elem, ok := s.entries[key]; ok {
		elem.Value.(*memEntry).value = v
		s.lru.MoveToFront(elem)
		return
	}

	s.entries[key] = s.lru.PushFront(&memEntry{key: key, value: v})
	s.evictIfNeeded(ctx)
}

// evictIfNeeded drops least recently used entries past MaxEntries.
// Must hold s.mu.
func (s *Store) evictIfNeeded(ctx context.Context) {
	if s.options.MaxEntries <= 0 {
		return
	}
	for s.lru.Len() > s.options.MaxEntries {
		oldest := s.lru.Back()
		if oldest == nil {
			return
		}
		s.lru.Remove(oldest)
		delete(s.entries, oldest.Value.(*memEntry).key)
		atomic.AddInt64(&s.evictions, 1)
		recordEviction(ctx)
	}
}

// =============================================================================
// Persistent tier
// =============================================================================

// load reads and decodes a persisted value. A corrupt record is deleted and
// reported as not found; a record written by a different codec is a miss.
func (s *Store) load(ctx context.Context, e Entry) (any, bool, error) {
	if s.persistent == nil || !e.Persistable() {
		return nil, false, nil
	}

	ctx, span := startCacheSpan(ctx, "Load", e)
	defer span.End()

	start := time.Now()
	data, err := s.persistent.Load(ctx, e.Key)
	if errors.Is(err, ErrNotFound) {
		recordLoadLatency(ctx, time.Since(start), false)
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("load %s for %q: %w", e.Key, e.Entity, err)
	}
	recordLoadLatency(ctx, time.Since(start), true)

	record, err := UnmarshalRecord(e.Key, data)
	if err != nil {
		atomic.AddInt64(&s.corruptRecords, 1)
		recordCorrupt(ctx)
		s.logger.Warn("discarding corrupt cache record",
			slog.String("entity", e.Entity),
			slog.String("key", string(e.Key)),
			slog.String("error", err.Error()),
		)
		if delErr := s.persistent.Delete(ctx, e.Key); delErr != nil {
			s.logger.Warn("failed to delete corrupt cache record",
				slog.String("key", string(e.Key)),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, false, nil
	}

	if record.Codec != e.Codec.Name() {
		s.logger.Debug("cache record written by another codec",
			slog.String("entity", e.Entity),
			slog.String("key", string(e.Key)),
			slog.String("record_codec", record.Codec),
			slog.String("codec", e.Codec.Name()),
		)
		return nil, false, nil
	}

	v, err := e.Codec.Decode(record.Payload)
	if err != nil {
		return nil, false, &serial.Error{Entity: e.Entity, Codec: e.Codec.Name(), Op: "decode", Err: err}
	}
	return v, true, nil
}

// save encodes and persists a value. Non-persistable entries are skipped.
func (s *Store) save(ctx context.Context, e Entry, v any) error {
	if s.persistent == nil || !e.Persistable() {
		return nil
	}

	ctx, span := startCacheSpan(ctx, "Save", e)
	defer span.End()

	payload, err := e.Codec.Encode(v)
	if err != nil {
		span.RecordError(err)
		return &serial.Error{Entity: e.Entity, Codec: e.Codec.Name(), Op: "encode", Err: err}
	}

	data, err := NewRecord(e, payload, s.options.Now()).Marshal()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal record %s: %w", e.Key, err)
	}

	start := time.Now()
	err = s.persistent.Save(ctx, e.Key, data)
	recordSaveLatency(ctx, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save %s for %q: %w", e.Key, e.Entity, err)
	}
	return nil
}
