// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements the persistent cache tier on an embedded
// BadgerDB.
//
// Every record lives under the key "entry/<case key>" and is written in its
// own read-write transaction, so a record is either fully committed or
// absent. Deleted and replaced records leave garbage in the value log; a
// background loop reclaims it for on-disk databases and Compact reclaims it
// on demand.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNoPath is returned by OpenDB for an on-disk config without a Path.
var ErrNoPath = errors.New("badger: path is required unless InMemory is set")

// Config holds configuration for a cache database.
type Config struct {
	// Path is the database directory. Required unless InMemory is true.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's own log output. Nil silences it.
	Logger *slog.Logger

	// GCInterval is the period of background value log collection.
	// Zero disables the loop.
	GCInterval time.Duration

	// GCDiscardRatio is the fraction of a value log file that must be
	// garbage before it is rewritten. Must be in (0, 1).
	GCDiscardRatio float64
}

// DefaultConfig returns the configuration used for a cache directory:
// synchronous writes and value log collection every five minutes at a 0.5
// discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration with no disk I/O and no
// collection loop.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

func (c Config) validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrNoPath
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("badger: negative GC interval %s", c.GCInterval)
	}
	if c.GCInterval > 0 && (c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1) {
		return fmt.Errorf("badger: GC discard ratio %v must be in (0, 1)", c.GCDiscardRatio)
	}
	return nil
}

func (c Config) options() badger.Options {
	var opts badger.Options
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(c.Path)
	}
	opts = opts.WithSyncWrites(c.SyncWrites).WithNumVersionsToKeep(1)
	if c.Logger != nil {
		return opts.WithLogger(slogAdapter{c.Logger.With(slog.String("component", "badger"))})
	}
	return opts.WithLogger(nil)
}

// slogAdapter satisfies badger.Logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(f string, args ...any) { a.l.Error(fmt.Sprintf(f, args...)) }
func (a slogAdapter) Warningf(f string, args ...any) { a.l.Warn(fmt.Sprintf(f, args...)) }
func (a slogAdapter) Infof(f string, args ...any) { a.l.Debug(fmt.Sprintf(f, args...)) }
func (a slogAdapter) Debugf(f string, args ...any) { a.l.Debug(fmt.Sprintf(f, args...)) }

// DB is an open cache database.
//
// Thread Safety:
//
//	Safe for concurrent use. Close is idempotent.
type DB struct {
	*badger.DB
	cfg Config

	stopGC    context.CancelFunc
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens the database described by cfg and starts the collection
// loop when configured.
//
// Outputs:
//
//	*DB - The open database. Call Close when done.
//	error - ErrNoPath, an invalid GC setting, or the open failure.
func OpenDB(cfg Config) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create %s: %w", cfg.Path, err)
		}
	}

	db, err := badger.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	d := &DB{DB: db, cfg: cfg}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		d.stopGC = cancel
		d.gcDone = make(chan struct{})
		go d.gcLoop(ctx)
	}
	return d, nil
}

// Path returns the database directory, empty when in memory.
func (d *DB) Path() string {
	return d.cfg.Path
}

// InMemory reports whether the database lives only in memory.
func (d *DB) InMemory() bool {
	return d.cfg.InMemory
}

// Close stops the collection loop and closes the database.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.stopGC != nil {
			d.stopGC()
			<-d.gcDone
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// WithTxn runs fn in a read-write transaction, committing if fn succeeds.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// Compact rewrites value log files until none is at least ratio garbage
// or ctx ends. It returns the number of files rewritten. In-memory
// databases have no value log and return 0.
func (d *DB) Compact(ctx context.Context, ratio float64) (int, error) {
	if d.cfg.InMemory {
		return 0, nil
	}
	rewritten := 0
	for {
		if err := ctx.Err(); err != nil {
			return rewritten, err
		}
		err := d.DB.RunValueLogGC(ratio)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			return rewritten, nil
		default:
			return rewritten, fmt.Errorf("badger: value log GC: %w", err)
		}
	}
}

func (d *DB) gcLoop(ctx context.Context) {
	defer close(d.gcDone)

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Compact(ctx, d.cfg.GCDiscardRatio)
			if d.cfg.Logger == nil {
				continue
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				d.cfg.Logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
			} else if n > 0 {
				d.cfg.Logger.Debug("badger value log GC", slog.Int("rewritten", n))
			}
		}
	}
}
