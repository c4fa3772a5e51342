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
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
)

// ErrNoPersistentTier is returned by maintenance operations on a memory-only Store.
var ErrNoPersistentTier = errors.New("store has no persistent tier")

// Inspect loads and verifies the persisted record for key without decoding
// its payload.
func (s *Store) Inspect(ctx context.Context, key casekey.Key) (*Record, error) {
	if s.persistent == nil {
		return nil, ErrNoPersistentTier
	}
	data, err := s.persistent.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return UnmarshalRecord(key, data)
}

// Records calls fn for every persisted record in the order the tier lists
// them. Corrupt records are passed with a nil *Record and the verification
// error so callers can report or remove them.
func (s *Store) Records(ctx context.Context, fn func(key casekey.Key, r *Record, err error) error) error {
	if s.persistent == nil {
		return ErrNoPersistentTier
	}
	return s.persistent.List(ctx, func(key casekey.Key) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := s.Inspect(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fn(key, r, err)
	})
}

// PruneEntity removes every persisted record produced by the named entity,
// and every corrupt record when removeCorrupt is set. It returns the number
// of records removed.
func (s *Store) PruneEntity(ctx context.Context, entity string, removeCorrupt bool) (int, error) {
	var doomed []casekey.Key
	err := s.Records(ctx, func(key casekey.Key, r *Record, err error) error {
		switch {
		case err != nil && errors.Is(err, ErrCorruptRecord):
			if removeCorrupt {
				doomed = append(doomed, key)
			}
		case err != nil:
			return err
		case entity != "" && r.Entity == entity:
			doomed = append(doomed, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, key := range doomed {
		if err := s.Purge(ctx, key); err != nil {
			return i, fmt.Errorf("prune: %w", err)
		}
	}
	return len(doomed), nil
}
