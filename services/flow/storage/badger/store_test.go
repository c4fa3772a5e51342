// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

func TestStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	key := casekey.Derive("a", "1")
	_, err = s.Load(ctx, key)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Save(ctx, key, []byte("record")))
	data, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), data)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Load(ctx, key)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.True(t, s.DB().InMemory())
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	keys := []casekey.Key{casekey.Derive("a", ""), casekey.Derive("b", "")}
	for _, k := range keys {
		require.NoError(t, s.Save(ctx, k, []byte("x")))
	}
	// Unrelated keys in the same database are not listed.
	require.NoError(t, s.DB().WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("other/thing"), []byte("y"))
	}))

	var listed []casekey.Key
	require.NoError(t, s.List(ctx, func(k casekey.Key) error {
		listed = append(listed, k)
		return nil
	}))
	assert.ElementsMatch(t, keys, listed)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	entry := cache.Entry{Key: casekey.Derive("m", "1"), Entity: "m", Version: "1", Codec: serial.Msgpack[string]()}

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	s1, err := Open(cfg)
	require.NoError(t, err)
	store1 := cache.NewStore(s1)
	require.NoError(t, store1.Put(ctx, entry, "fitted"))
	require.NoError(t, store1.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	store2 := cache.NewStore(s2)
	defer store2.Close()

	v, ok, err := store2.Get(ctx, entry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fitted", v)
	assert.Equal(t, dir, s2.DB().Path())
}

func TestStore_CloseTwice(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestOpenDB_Validation(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.ErrorIs(t, err, ErrNoPath)

	cfg := DefaultConfig(t.TempDir())
	cfg.GCDiscardRatio = 1.5
	_, err = OpenDB(cfg)
	assert.Error(t, err)

	cfg.GCDiscardRatio = 0.5
	cfg.GCInterval = -time.Second
	_, err = OpenDB(cfg)
	assert.Error(t, err)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Save(ctx, casekey.Derive("a", ""), []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Compact(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer mem.Close()
	n, err := mem.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = 10 * time.Millisecond
	cfg.SyncWrites = false
	disk, err := Open(cfg)
	require.NoError(t, err)

	key := casekey.Derive("a", "")
	require.NoError(t, disk.Save(ctx, key, []byte("x")))
	require.NoError(t, disk.Delete(ctx, key))
	_, err = disk.Compact(ctx)
	require.NoError(t, err)

	// Close stops the background loop before closing the database.
	require.NoError(t, disk.Close())
}
