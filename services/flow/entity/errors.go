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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the entity package.
var (
	// ErrDuplicateEntity is returned when registering a name that already exists.
	ErrDuplicateEntity = errors.New("entity already registered")

	// ErrUnknownEntity is returned when a name is not in the registry.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnknownDependency is returned when a declaration names an unregistered dependency.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle is returned when a declaration would make the graph cyclic.
	ErrCycle = errors.New("dependency cycle")

	// ErrInvalidGather is returned for a malformed gather declaration.
	ErrInvalidGather = errors.New("invalid gather declaration")

	// ErrInvalidDeclaration is returned for any other malformed declaration.
	ErrInvalidDeclaration = errors.New("invalid entity declaration")

	// ErrFrozen is returned when registering into a frozen registry.
	ErrFrozen = errors.New("registry is frozen")

	// ErrMissingArgument is returned when a function reads an argument it was not given.
	ErrMissingArgument = errors.New("missing argument")
)

// DuplicateEntityError names the entity registered twice.
type DuplicateEntityError struct {
	Name string
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("entity %q already registered", e.Name)
}

// Unwrap returns ErrDuplicateEntity.
func (e *DuplicateEntityError) Unwrap() error {
	return ErrDuplicateEntity
}

// UnknownEntityError names an entity that is not registered.
type UnknownEntityError struct {
	Name string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity %q", e.Name)
}

// Unwrap returns ErrUnknownEntity.
func (e *UnknownEntityError) Unwrap() error {
	return ErrUnknownEntity
}

// UnknownDependencyError names the declaration and the dependency it could
// not find.
type UnknownDependencyError struct {
	Entity     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("entity %q depends on unknown entity %q", e.Entity, e.Dependency)
}

// Unwrap returns ErrUnknownDependency.
func (e *UnknownDependencyError) Unwrap() error {
	return ErrUnknownDependency
}

// CycleError provides details about a detected cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

// DeclarationError wraps a validation failure with the entity that caused it.
type DeclarationError struct {
	Entity string
	Err    error
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("entity %q: %v", e.Entity, e.Err)
}

func (e *DeclarationError) Unwrap() error {
	return e.Err
}

func declarationErr(entity string, sentinel error, format string, args ...any) error {
	return &DeclarationError{
		Entity: entity,
		Err:    fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}
