// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	badgerstore "github.com/AleutianAI/AleutianFlow/services/flow/storage/badger"
	"github.com/AleutianAI/AleutianFlow/services/flow/storage/filestore"
	"github.com/AleutianAI/AleutianFlow/services/flow/storage/gcs"
)

// OpenStore builds the two-tier cache store described by cfg. Close the
// store to release the persistent tier.
func OpenStore(ctx context.Context, cfg CacheConfig, logger *slog.Logger) (*cache.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	persistent, err := openPersistent(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("cache store opened",
		slog.String("backend", cfg.Backend),
		slog.String("dir", cfg.Dir),
		slog.String("bucket", cfg.Bucket),
	)
	return cache.NewStore(persistent,
		cache.WithMaxEntries(cfg.MemoryMaxEntries),
		cache.WithLogger(logger),
	), nil
}

func openPersistent(ctx context.Context, cfg CacheConfig, logger *slog.Logger) (cache.Persistent, error) {
	switch cfg.Backend {
	case BackendMemory:
		return nil, nil

	case BackendFile:
		dir, err := ExpandPath(cfg.Dir)
		if err != nil {
			return nil, err
		}
		s, err := filestore.Open(dir, filestore.WithSync(cfg.SyncWrites))
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		return s, nil

	case BackendBadger:
		dir, err := ExpandPath(cfg.Dir)
		if err != nil {
			return nil, err
		}
		bcfg := badgerstore.DefaultConfig(dir)
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.Logger = logger
		s, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger cache: %w", err)
		}
		return s, nil

	case BackendGCS:
		s, err := gcs.Open(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("open gcs cache: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
