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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
)

// ChangeOp is the kind of change reported by Watch.
type ChangeOp int

const (
	// ChangeWritten means a record was written or replaced.
	ChangeWritten ChangeOp = iota

	// ChangeRemoved means a record was deleted.
	ChangeRemoved
)

// String returns "written" or "removed".
func (op ChangeOp) String() string {
	if op == ChangeRemoved {
		return "removed"
	}
	return "written"
}

// Change is a record appearing in or leaving the store.
type Change struct {
	Key casekey.Key
	Op  ChangeOp
}

// Watch calls fn for every record written or removed under the root, by
// this or any other process, until ctx is done or fn returns an error.
//
// Description:
//
//	Shard directories created while watching are added as they appear and
//	scanned once, so a record renamed into a new shard before its watch
//	was registered is still reported. A record may therefore be reported
//	more than once. Temp files are ignored.
//
// Outputs:
//
//	error - nil when ctx ends; otherwise the error from fn or the watcher.
func (s *Store) Watch(ctx context.Context, fn func(Change) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filestore: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.root); err != nil {
		return fmt.Errorf("filestore: watch %s: %w", s.root, err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", s.root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(s.root, e.Name())); err != nil {
				return fmt.Errorf("filestore: watch shard %s: %w", e.Name(), err)
			}
		}
	}

	root := filepath.Clean(s.root)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == root {
				if err := s.addShard(w, event.Name, fn); err != nil {
					return err
				}
				continue
			}
			key, ok := recordKey(event.Name)
			if !ok {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				err = fn(Change{Key: key, Op: ChangeWritten})
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				err = fn(Change{Key: key, Op: ChangeRemoved})
			}
			if err != nil {
				return err
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("filestore: watch: %w", err)
		}
	}
}

// addShard watches a new shard directory and reports records already in it.
func (s *Store) addShard(w *fsnotify.Watcher, dir string, fn func(Change) error) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("filestore: watch shard %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if key, ok := recordKey(e.Name()); ok {
			if err := fn(Change{Key: key, Op: ChangeWritten}); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordKey(path string) (casekey.Key, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	key := casekey.Key(strings.TrimSuffix(name, recordExt))
	return key, key.Valid()
}
