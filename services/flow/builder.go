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
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
)

// Aliases for the declaration types so callers need only import flow.
type (
	Declaration = entity.Declaration
	GatherSpec  = entity.GatherSpec
	Func        = entity.Func
	Args        = entity.Args
	Frame       = entity.Frame
	Entity      = entity.Entity
)

// Builder declares entities and initial assignments, then builds a Flow.
//
// Description:
//
//	The chainable methods (Declare, Assign, Derive, Add) record the first
//	error and turn later calls into no-ops; Build reports it. Register
//	returns its error immediately.
//
// Example:
//
//	f, err := flow.NewBuilder().
//	    Assign("a", 1).
//	    Derive("b", []string{"a"}, addOne).
//	    Build(flow.WithStore(store))
//
// Thread Safety:
//
//	Builder is not safe for concurrent use.
type Builder struct {
	registry *entity.Registry
	assigned *overlay
	err      error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{registry: entity.NewRegistry()}
}

// Register declares an entity and returns it.
//
// Outputs:
//
//	*Entity - The registered entity.
//	error - DuplicateEntityError, UnknownDependencyError, CycleError or a
//	        DeclarationError wrapping ErrInvalidGather/ErrInvalidDeclaration.
func (b *Builder) Register(d Declaration) (*Entity, error) {
	return b.registry.Register(d)
}

// Add registers d, recording any error for Build.
func (b *Builder) Add(d Declaration) *Builder {
	if b.err != nil {
		return b
	}
	if _, err := b.registry.Register(d); err != nil {
		b.err = err
	}
	return b
}

// Declare registers an input entity. Its value must be assigned before it
// is needed.
func (b *Builder) Declare(name string) *Builder {
	return b.Add(Declaration{Name: name})
}

// Assign registers an input entity bound to values, in order.
func (b *Builder) Assign(name string, values ...any) *Builder {
	if b.err != nil {
		return b
	}
	if err := checkValues(name, values); err != nil {
		b.err = err
		return b
	}
	b.Declare(name)
	if b.err == nil {
		b.assigned = b.assigned.with(name, values)
	}
	return b
}

// Derive registers an ordinary entity computed by fn from deps.
func (b *Builder) Derive(name string, deps []string, fn Func) *Builder {
	return b.Add(Declaration{Name: name, Dependencies: deps, Func: fn})
}

// Err returns the first error recorded by a chainable method.
func (b *Builder) Err() error {
	return b.err
}

// Build freezes a copy of the declarations into a new Flow. The builder
// may be reused afterwards; later declarations do not affect built Flows.
func (b *Builder) Build(opts ...Option) (*Flow, error) {
	if b.err != nil {
		return nil, fmt.Errorf("build flow: %w", b.err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newFlow(b.registry.Clone().Freeze(), b.assigned, newEnv(o)), nil
}

func checkValues(name string, values []any) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: entity %q", ErrEmptyAssignment, name)
	}
	for _, v := range values {
		if _, err := casekey.ForValue(name, v); err != nil {
			return err
		}
	}
	return nil
}
