// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization is the sentinel matched by every *Error.
	ErrSerialization = errors.New("serialization failed")

	// ErrTypeMismatch is returned when a value does not have the codec's type.
	ErrTypeMismatch = errors.New("value type does not match codec")
)

// Error reports a codec failure for one entity value.
//
// errors.Is(err, ErrSerialization) is true for every *Error; Unwrap returns
// the codec's own error.
type Error struct {
	Entity string
	Codec  string
	Op     string // "encode" or "decode"
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s value of entity %q: %v", e.Codec, e.Op, e.Entity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrSerialization so callers can match the category.
func (e *Error) Is(target error) bool {
	return target == ErrSerialization
}
