// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import (
	"fmt"
	"slices"
)

// Args holds the argument values passed to a Func, keyed by dependency name.
type Args map[string]any

// Value returns the named argument or ErrMissingArgument.
func (a Args) Value(name string) (any, error) {
	v, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingArgument, name)
	}
	return v, nil
}

// Frame returns the named argument as a *Frame.
func (a Args) Frame(name string) (*Frame, error) {
	return Arg[*Frame](a, name)
}

// Arg returns the named argument converted to T.
//
// Example:
//
//	func(ctx context.Context, args entity.Args) (any, error) {
//	    n, err := entity.Arg[int](args, "a")
//	    if err != nil {
//	        return nil, err
//	    }
//	    return n + 1, nil
//	}
func Arg[T any](a Args, name string) (T, error) {
	var zero T
	v, err := a.Value(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q: expected %T, got %T", name, zero, v)
	}
	return typed, nil
}

// Frame is the collected container handed to a gather entity, and the
// single-column table container returned by GetInto.
//
// Columns are the gathered dimension names followed by the collected
// entity; each row is one variant, in resolved order.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Column returns the values of the named column, or an error if absent.
func (f *Frame) Column(name string) ([]any, error) {
	idx := slices.Index(f.Columns, name)
	if idx < 0 {
		return nil, fmt.Errorf("frame has no column %q (columns: %v)", name, f.Columns)
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Value returns the cell at row i in the named column.
func (f *Frame) Value(i int, name string) (any, bool) {
	idx := slices.Index(f.Columns, name)
	if idx < 0 || i < 0 || i >= len(f.Rows) {
		return nil, false
	}
	return f.Rows[i][idx], true
}

// ColumnAs returns the named column with every value converted to T.
func ColumnAs[T any](f *Frame, name string) ([]T, error) {
	col, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(col))
	for i, v := range col {
		typed, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("column %q row %d: expected %T, got %T", name, i, zero, v)
		}
		out[i] = typed
	}
	return out, nil
}
