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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
	"github.com/AleutianAI/AleutianFlow/services/flow/resolve"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// Sentinel errors for flow operations.
var (
	// ErrMultipleValues indicates a single-value access to an entity with
	// more than one instance.
	ErrMultipleValues = errors.New("entity has multiple values")

	// ErrAssignmentConflict indicates a value was assigned to an entity
	// whose value must be derived.
	ErrAssignmentConflict = errors.New("entity cannot be assigned")

	// ErrEmptyAssignment indicates an assignment with no values.
	ErrEmptyAssignment = errors.New("assignment has no values")

	// ErrNilContainer indicates GetInto was called without a container.
	ErrNilContainer = errors.New("container must not be nil")
)

// Re-exported from the packages that produce them so callers need only
// import flow.
var (
	ErrDuplicateEntity   = entity.ErrDuplicateEntity
	ErrUnknownEntity     = entity.ErrUnknownEntity
	ErrUnknownDependency = entity.ErrUnknownDependency
	ErrCycle             = entity.ErrCycle
	ErrInvalidGather     = entity.ErrInvalidGather
	ErrMissingValue      = resolve.ErrMissingValue
	ErrNotHashable       = casekey.ErrNotHashable
	ErrSerialization     = serial.ErrSerialization
)

type (
	DuplicateEntityError   = entity.DuplicateEntityError
	UnknownEntityError     = entity.UnknownEntityError
	UnknownDependencyError = entity.UnknownDependencyError
	CycleError             = entity.CycleError
	MissingValueError      = resolve.MissingValueError
	NotHashableError       = casekey.NotHashableError
	SerializationError     = serial.Error
)

// MultipleValuesError is returned by single-value accessors when an entity
// has more than one instance.
type MultipleValuesError struct {
	Entity       string
	Multiplicity int
}

func (e *MultipleValuesError) Error() string {
	return fmt.Sprintf("entity %q has %d values; use GetInto with a container", e.Entity, e.Multiplicity)
}

func (e *MultipleValuesError) Unwrap() error {
	return ErrMultipleValues
}

// AssignmentConflictError is returned when assigning to a gather entity.
type AssignmentConflictError struct {
	Entity string
	Reason string
}

func (e *AssignmentConflictError) Error() string {
	return fmt.Sprintf("cannot assign entity %q: %s", e.Entity, e.Reason)
}

func (e *AssignmentConflictError) Unwrap() error {
	return ErrAssignmentConflict
}

// ComputeError reports a failed producing function.
//
// It names the entity and case key where the failure originated. Dependents
// of the failed instance return the same *ComputeError unchanged.
type ComputeError struct {
	Entity  string
	CaseKey casekey.Key
	Err     error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("computing %s [%s]: %v", e.Entity, e.CaseKey.Short(), e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
