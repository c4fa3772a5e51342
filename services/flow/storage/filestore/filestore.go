// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filestore implements the persistent cache tier on a local
// directory.
//
// Layout: one file per case key at <root>/<key[0:2]>/<key>.rec. Writes go
// to a temp file in the same directory, are fsynced, and are renamed into
// place, so readers in this or any other process never observe a partial
// record.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
)

const recordExt = ".rec"

// ErrInvalidKey is returned for keys that are not case keys.
var ErrInvalidKey = errors.New("invalid case key")

// Store is a directory-backed cache.Persistent.
//
// Thread Safety:
//
//	Safe for concurrent use by multiple goroutines and processes.
type Store struct {
	root string
	sync bool
}

// Option configures a Store.
type Option func(*Store)

// WithSync controls fsync before rename. Default: true.
func WithSync(enabled bool) Option {
	return func(s *Store) {
		s.sync = enabled
	}
}

// Open creates the root directory if needed and returns a Store over it.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("filestore: root must not be empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: create root %s: %w", root, err)
	}
	s := &Store{root: root, sync: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file path for key.
func (s *Store) Path(key casekey.Key) string {
	k := string(key)
	return filepath.Join(s.root, k[:2], k+recordExt)
}

func (s *Store) check(key casekey.Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Load implements cache.Persistent.
func (s *Store) Load(ctx context.Context, key casekey.Key) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return data, nil
}

// Save implements cache.Persistent with temp file + fsync + rename.
func (s *Store) Save(ctx context.Context, key casekey.Key, data []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	// Ensure cleanup on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write record: %w", err)
	}

	if s.sync {
		if err := tempFile.Sync(); err != nil {
			tempFile.Close()
			return fmt.Errorf("sync record: %w", err)
		}
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close record: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}

	success = true
	return nil
}

// Delete implements cache.Persistent.
func (s *Store) Delete(_ context.Context, key casekey.Key) error {
	if err := s.check(key); err != nil {
		return err
	}
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// List implements cache.Persistent. Keys are listed in sorted order; temp
// files and unrelated files are skipped.
func (s *Store) List(ctx context.Context, fn func(key casekey.Key) error) error {
	var keys []casekey.Key
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, recordExt) {
			return nil
		}
		key := casekey.Key(strings.TrimSuffix(name, recordExt))
		if key.Valid() {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", s.root, err)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Close implements cache.Persistent. It holds no resources.
func (s *Store) Close() error {
	return nil
}
