// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"log/slog"
	"runtime"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// Options configures a Flow. Derived Flows share their parent's Options.
type Options struct {
	// Store caches computed values. Defaults to a new memory-only store.
	Store *cache.Store

	// Logger receives evaluation logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Workers bounds concurrently running producing functions.
	// Defaults to runtime.GOMAXPROCS(0).
	Workers int

	// DefaultCodec persists values of entities declared without a codec.
	// Nil keeps such values in memory only.
	DefaultCodec serial.Codec
}

// Option is a functional option for configuring a Flow.
type Option func(*Options)

// WithStore sets the cache store. Share one store between Flows to share
// cached values.
func WithStore(s *cache.Store) Option {
	return func(o *Options) {
		o.Store = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithWorkers bounds concurrently running producing functions.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithDefaultCodec sets the codec for entities declared without one.
func WithDefaultCodec(c serial.Codec) Option {
	return func(o *Options) {
		o.DefaultCodec = c
	}
}

func defaultOptions() Options {
	return Options{
		Workers: runtime.GOMAXPROCS(0),
	}
}
