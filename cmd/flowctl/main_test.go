// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cacheEnv points the CLI at an empty file cache.
func cacheEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLOW_CACHE_BACKEND", "file")
	t.Setenv("FLOW_CACHE_DIR", dir)
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), err
}

func listJSON(t *testing.T, args ...string) []recordInfo {
	t.Helper()
	out, err := runCLI(t, append([]string{"cache", "ls", "--json"}, args...)...)
	require.NoError(t, err)
	var infos []recordInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	return infos
}

func TestDemo_SecondRunServedFromCache(t *testing.T) {
	cacheEnv(t)

	out, err := runCLI(t, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "g[d=1] = 63")
	assert.Contains(t, out, "g[d=2] = 66")
	assert.Contains(t, out, "computed=8")

	out, err = runCLI(t, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "g[d=1] = 63")
	assert.Contains(t, out, "computed=0")
}

func TestDemo_Values(t *testing.T) {
	cacheEnv(t)

	out, err := runCLI(t, "demo", "--values", "5", "--offsets", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "g[d=0] = 50")
}

func TestDemo_Dot(t *testing.T) {
	cacheEnv(t)

	out, err := runCLI(t, "demo", "--dot", "--vertical")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph"))
	assert.Contains(t, out, "rankdir=TB")
	assert.Contains(t, out, "cluster_")
}

func TestCache_ListShowRemove(t *testing.T) {
	cacheEnv(t)
	_, err := runCLI(t, "demo")
	require.NoError(t, err)

	all := listJSON(t)
	assert.Len(t, all, 8)

	ms := listJSON(t, "--entity", "m")
	require.Len(t, ms, 6)
	for _, info := range ms {
		assert.Equal(t, "m", info.Entity)
		assert.Equal(t, "json", info.Codec)
		assert.Equal(t, demoVersion, info.Version)
	}

	table, err := runCLI(t, "cache", "ls")
	require.NoError(t, err)
	assert.Contains(t, table, "KEY")
	assert.Contains(t, table, "msgpack")

	key := ms[0].Key
	out, err := runCLI(t, "cache", "show", key[:10])
	require.NoError(t, err)
	assert.Contains(t, out, "key:      "+key)
	assert.Contains(t, out, "entity:   m")

	out, err = runCLI(t, "cache", "rm", key)
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+key)
	assert.Len(t, listJSON(t, "--entity", "m"), 5)

	_, err = runCLI(t, "cache", "show", key)
	assert.Error(t, err)
}

func TestCache_Prune(t *testing.T) {
	dir := cacheEnv(t)
	_, err := runCLI(t, "demo")
	require.NoError(t, err)

	out, err := runCLI(t, "cache", "prune", "--entity", "m")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 6 record(s)")

	remaining := listJSON(t)
	require.Len(t, remaining, 2)

	// Damage one record on disk.
	var damaged string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || damaged != "" || filepath.Ext(path) != ".rec" {
			return err
		}
		damaged = path
		return os.WriteFile(path, []byte("garbage"), 0644)
	}))
	require.NotEmpty(t, damaged)

	infos := listJSON(t)
	corrupt := 0
	for _, info := range infos {
		if info.Error != "" {
			corrupt++
		}
	}
	assert.Equal(t, 1, corrupt)

	out, err = runCLI(t, "cache", "prune", "--corrupt")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 record(s)")
	assert.Len(t, listJSON(t), 1)
}

func TestCache_PruneNeedsFlag(t *testing.T) {
	cacheEnv(t)
	_, err := runCLI(t, "cache", "prune")
	assert.Error(t, err)
}

func TestCache_ShowShortPrefix(t *testing.T) {
	cacheEnv(t)
	_, err := runCLI(t, "cache", "show", "ab")
	assert.Error(t, err)
}

func TestRun_InvalidBackend(t *testing.T) {
	cacheEnv(t)
	t.Setenv("FLOW_CACHE_BACKEND", "tape")
	_, err := runCLI(t, "cache", "ls")
	assert.Error(t, err)
}

func TestRun_ConfigFile(t *testing.T) {
	cacheEnv(t)
	t.Setenv("FLOW_CACHE_BACKEND", "")
	t.Setenv("FLOW_CACHE_DIR", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	cfg := "cache:\n  backend: memory\nworkers: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	out, err := runCLI(t, "--config", path, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "computed=8")

	// The memory backend has nothing to list.
	_, err = runCLI(t, "--config", path, "cache", "ls")
	assert.Error(t, err)
}

func TestCache_WatchNeedsFileBackend(t *testing.T) {
	cacheEnv(t)
	t.Setenv("FLOW_CACHE_BACKEND", "memory")
	_, err := runCLI(t, "cache", "watch")
	assert.ErrorIs(t, err, ErrWatchUnsupported)
}

func TestCache_PruneBadgerBackend(t *testing.T) {
	cacheEnv(t)
	t.Setenv("FLOW_CACHE_BACKEND", "badger")

	_, err := runCLI(t, "demo")
	require.NoError(t, err)
	assert.Len(t, listJSON(t, "--entity", "g"), 2)

	out, err := runCLI(t, "cache", "prune", "--entity", "g")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 record(s)")
	assert.Empty(t, listJSON(t, "--entity", "g"))
}
