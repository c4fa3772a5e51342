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
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
)

// entryPrefix namespaces cache records within the database.
const entryPrefix = "entry/"

// Store is a BadgerDB-backed cache.Persistent.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	db *DB
}

// Open opens a database with cfg and returns a Store that owns it.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already open database. Close closes db.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

func entryKey(key casekey.Key) []byte {
	return []byte(entryPrefix + string(key))
}

// Load implements cache.Persistent.
func (s *Store) Load(ctx context.Context, key casekey.Key) ([]byte, error) {
	var out []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return out, nil
}

// Save implements cache.Persistent. The record is committed atomically.
func (s *Store) Save(ctx context.Context, key casekey.Key, data []byte) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(entryKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("badger save: %w", err)
	}
	return nil
}

// Delete implements cache.Persistent.
func (s *Store) Delete(ctx context.Context, key casekey.Key) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(entryKey(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// List implements cache.Persistent. Keys are listed in byte order.
//
// Keys are collected in a read transaction first so fn may call back into
// the store.
func (s *Store) List(ctx context.Context, fn func(key casekey.Key) error) error {
	var keys []casekey.Key
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(entryPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			keys = append(keys, casekey.Key(k[len(entryPrefix):]))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger list: %w", err)
	}

	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// defaultCompactRatio applies when the config sets no discard ratio.
const defaultCompactRatio = 0.5

// Compact reclaims value log space left by deleted records. It returns the
// number of value log files rewritten.
func (s *Store) Compact(ctx context.Context) (int, error) {
	ratio := s.db.cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = defaultCompactRatio
	}
	return s.db.Compact(ctx, ratio)
}

// Close implements cache.Persistent.
func (s *Store) Close() error {
	return s.db.Close()
}
