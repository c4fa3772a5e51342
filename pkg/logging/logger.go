// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by flow binaries.
//
// Library packages (flow, cache, storage) take a plain *slog.Logger and
// fall back to slog.Default. Binaries build one here: console output on
// stderr, text or JSON, plus an optional daily JSON file.
//
//	logger := logging.New(logging.Config{
//	    Level:   slog.LevelDebug,
//	    LogDir:  "~/.aleutian/logs",
//	    Service: "flowctl",
//	})
//	defer logger.Close()
//
//	f, err := builder.Build(flow.WithLogger(logger.Slog()))
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ParseLevel converts a case-insensitive level name to a slog.Level.
//
// Inputs:
//
//	s - "debug", "info", "warn", "warning" or "error". Empty means info.
//
// Outputs:
//
//	slog.Level - The parsed level; LevelInfo on error.
//	error - Non-nil if the name is not recognized.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config configures a Logger. The zero value logs Info and above to stderr
// as text.
type Config struct {
	// Level is the minimum level logged.
	Level slog.Level

	// LogDir enables a JSON log file "{Service}_{YYYY-MM-DD}.log" in this
	// directory. A leading ~ is expanded.
	LogDir string

	// Service is attached to every record as "service" when set.
	Service string

	// JSON switches the console output to JSON.
	JSON bool

	// Quiet disables console output. The file is unaffected.
	Quiet bool

	// Writer replaces stderr as the console destination.
	Writer io.Writer
}

// Logger is a *slog.Logger that may own a log file.
//
// Thread Safety:
//
//	Safe for concurrent use. Close is idempotent.
type Logger struct {
	*slog.Logger

	file      *os.File
	closeOnce sync.Once
	closeErr  error
}

// New builds a Logger from cfg.
//
// Description:
//
//	Records go to the console (unless Quiet) and to the log file (if
//	LogDir is set and the file can be opened). A file that cannot be
//	opened is reported once on the console and otherwise ignored, so a
//	read-only home directory never stops a command.
//
// Outputs:
//
//	*Logger - Never nil. Call Close to flush the file.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var out fanout

	if !cfg.Quiet {
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		if cfg.JSON {
			out = append(out, slog.NewJSONHandler(w, opts))
		} else {
			out = append(out, slog.NewTextHandler(w, opts))
		}
	}

	l := &Logger{}
	var fileErr error
	if cfg.LogDir != "" {
		l.file, fileErr = openLogFile(cfg.LogDir, cfg.Service, time.Now())
		if l.file != nil {
			out = append(out, slog.NewJSONHandler(l.file, opts))
		}
	}

	var h slog.Handler
	switch len(out) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = out[0]
	default:
		h = out
	}
	if cfg.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	l.Logger = slog.New(h)

	if fileErr != nil {
		l.Warn("file logging disabled", slog.String("error", fileErr.Error()))
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(Config{Quiet: true})
}

// Slog returns the logger for packages that take a *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// FilePath returns the log file path, or "" without file logging.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close syncs and closes the log file. Records logged after Close are
// still written to the console.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		if l.file == nil {
			return
		}
		l.closeErr = errors.Join(l.file.Sync(), l.file.Close())
	})
	return l.closeErr
}

func logFileName(service string, day time.Time) string {
	if service == "" {
		service = "flow"
	}
	return fmt.Sprintf("%s_%s.log", service, day.Format(time.DateOnly))
}

func openLogFile(dir, service string, now time.Time) (*os.File, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, logFileName(service, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
