// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
)

// ErrMissingValue is returned when an input entity is needed but unassigned.
var ErrMissingValue = errors.New("input entity has no assigned value")

// MissingValueError names the unassigned input.
type MissingValueError struct {
	Entity string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("entity %q is an input and has no assigned value", e.Entity)
}

// Unwrap returns ErrMissingValue.
func (e *MissingValueError) Unwrap() error {
	return ErrMissingValue
}

// InvalidGatherError reports a gather whose dimension cannot be found in the
// provenance of a collected instance, typically because Also was overridden
// by an assignment.
type InvalidGatherError struct {
	Entity string
	Over   string
	Also   string
}

func (e *InvalidGatherError) Error() string {
	return fmt.Sprintf("gather %q: dimension %q not found in the provenance of %q", e.Entity, e.Over, e.Also)
}

// Unwrap returns entity.ErrInvalidGather.
func (e *InvalidGatherError) Unwrap() error {
	return entity.ErrInvalidGather
}
