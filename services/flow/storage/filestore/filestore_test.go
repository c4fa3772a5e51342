// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	key := casekey.Derive("a", "1")
	_, err = s.Load(ctx, key)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.Save(ctx, key, []byte("record")))
	data, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("record"), data)

	k := string(key)
	assert.Equal(t, filepath.Join(s.Root(), k[:2], k+".rec"), s.Path(key))
	assert.FileExists(t, s.Path(key))

	require.NoError(t, s.Save(ctx, key, []byte("replaced")))
	data, err = s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "deleting twice is fine")
	_, err = s.Load(ctx, key)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), WithSync(false))
	require.NoError(t, err)

	key := casekey.Derive("a", "1")
	require.NoError(t, s.Save(ctx, key, []byte("x")))

	entries, err := os.ReadDir(filepath.Dir(s.Path(key)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(key)+".rec", entries[0].Name())
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	keys := []casekey.Key{casekey.Derive("a", ""), casekey.Derive("b", ""), casekey.Derive("c", "")}
	for _, k := range keys {
		require.NoError(t, s.Save(ctx, k, []byte("x")))
	}
	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "README"), []byte("hi"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "nothex.rec"), []byte("hi"), 0o600))

	var listed []casekey.Key
	require.NoError(t, s.List(ctx, func(k casekey.Key) error {
		listed = append(listed, k)
		return nil
	}))
	assert.ElementsMatch(t, keys, listed)
}

func TestStore_RejectsInvalidKey(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	err = s.Save(context.Background(), "../escape", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestStore_WithCacheStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	entry := cache.Entry{Key: casekey.Derive("m", "1"), Entity: "m", Version: "1", Codec: serial.JSON[[]int]()}

	fs1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, cache.NewStore(fs1).Put(ctx, entry, []int{1, 2, 3}))

	// Another process opening the same directory sees the record.
	fs2, err := Open(dir)
	require.NoError(t, err)
	v, ok, err := cache.NewStore(fs2).Get(ctx, entry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestOpen_EmptyRoot(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
