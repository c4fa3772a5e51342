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
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
)

// MapPersistent is an in-process Persistent tier backed by a map.
//
// It stands in for a durable tier in tests and for embedders that want the
// full record encode/verify path without touching disk. The "memory"
// backend does not use it; that backend has no persistent tier at all.
type MapPersistent struct {
	mu      sync.RWMutex
	records map[casekey.Key][]byte
	closed  bool
}

// NewMapPersistent creates an empty MapPersistent.
func NewMapPersistent() *MapPersistent {
	return &MapPersistent{records: make(map[casekey.Key][]byte)}
}

// Load implements Persistent.
func (m *MapPersistent) Load(_ context.Context, key casekey.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Save implements Persistent.
func (m *MapPersistent) Save(_ context.Context, key casekey.Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[key] = append([]byte(nil), data...)
	return nil
}

// Delete implements Persistent.
func (m *MapPersistent) Delete(_ context.Context, key casekey.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// List implements Persistent. Keys are listed in sorted order.
func (m *MapPersistent) List(_ context.Context, fn func(key casekey.Key) error) error {
	m.mu.RLock()
	keys := make([]casekey.Key, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Persistent.
func (m *MapPersistent) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored records.
func (m *MapPersistent) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Corrupt overwrites the stored bytes for key. Used to test recovery.
func (m *MapPersistent) Corrupt(key casekey.Key, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = append([]byte(nil), data...)
}
