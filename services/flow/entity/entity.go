// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entity defines entity declarations and the registry that holds
// them.
//
// An entity is a named value in the computation graph. It is either an
// input (no function; its value comes from an assignment on the Flow) or
// derived (a function of the values of its dependencies). A gather entity
// is derived too, but in addition to its ordinary dependencies it receives
// a *Frame collecting the variants of one or more upstream dimensions.
//
// The registry keeps explicit adjacency by entity name and rejects
// duplicates, unknown dependencies and cycles at registration time.
package entity

import (
	"context"
	"slices"

	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// Role is the multiplicity role of an entity.
type Role int

const (
	// RoleOrdinary entities fan out over every combination of their
	// dependency instances.
	RoleOrdinary Role = iota

	// RoleGather entities contract the dimensions named in their GatherSpec.
	RoleGather
)

// String returns "ordinary" or "gather".
func (r Role) String() string {
	switch r {
	case RoleGather:
		return "gather"
	default:
		return "ordinary"
	}
}

// Func produces the value of one entity instance.
//
// args holds one value per declared dependency, keyed by dependency name.
// Gather entities additionally receive a *Frame under GatherSpec.Into.
// The function must be a pure function of args: it may be called from any
// goroutine, and at most once per distinct combination of inputs.
type Func func(ctx context.Context, args Args) (any, error)

// GatherSpec declares the dimensions a gather entity contracts.
type GatherSpec struct {
	// Over names the entities whose variants are collected. Required.
	Over []string

	// Also names the entity whose value is collected per variant.
	// Every Over entity must be Also or one of its ancestors.
	// Empty means only the Over values are collected.
	Also string

	// Into is the argument name under which the *Frame is passed. Required.
	Into string
}

// Declaration describes an entity to register.
type Declaration struct {
	// Name uniquely identifies the entity.
	Name string

	// Dependencies are the entities whose values are passed to Func, in order.
	// For gather entities these are the non-contracted dependencies.
	Dependencies []string

	// Func produces the value. Nil declares an input whose value must be
	// assigned on the Flow.
	Func Func

	// Gather makes this a gather entity.
	Gather *GatherSpec

	// Version identifies the semantics of Func. Change it to invalidate
	// persisted values computed by an older Func.
	Version string

	// Codec persists values. Nil keeps values in memory only unless the
	// Flow was built with a default codec.
	Codec serial.Codec

	// Doc is a human-readable description shown in graph exports.
	Doc string

	// Transient keeps values in memory only, even when a codec is set.
	Transient bool
}

// Entity is a registered, immutable entity declaration.
type Entity struct {
	name         string
	dependencies []string
	fn           Func
	gather       *GatherSpec
	version      string
	codec        serial.Codec
	doc          string
	transient    bool
}

func newEntity(d Declaration) *Entity {
	e := &Entity{
		name:         d.Name,
		dependencies: slices.Clone(d.Dependencies),
		fn:           d.Func,
		version:      d.Version,
		codec:        d.Codec,
		doc:          d.Doc,
		transient:    d.Transient,
	}
	if d.Gather != nil {
		e.gather = &GatherSpec{
			Over: slices.Clone(d.Gather.Over),
			Also: d.Gather.Also,
			Into: d.Gather.Into,
		}
	}
	return e
}

// Name returns the entity name.
func (e *Entity) Name() string { return e.name }

// Dependencies returns the argument dependencies in declaration order.
func (e *Entity) Dependencies() []string { return slices.Clone(e.dependencies) }

// Func returns the producing function, or nil for an input.
func (e *Entity) Func() Func { return e.fn }

// Role returns RoleGather for gather entities, RoleOrdinary otherwise.
func (e *Entity) Role() Role {
	if e.gather != nil {
		return RoleGather
	}
	return RoleOrdinary
}

// Gather returns a copy of the gather spec, or nil.
func (e *Entity) Gather() *GatherSpec {
	if e.gather == nil {
		return nil
	}
	return &GatherSpec{
		Over: slices.Clone(e.gather.Over),
		Also: e.gather.Also,
		Into: e.gather.Into,
	}
}

// Version returns the function version token.
func (e *Entity) Version() string { return e.version }

// Codec returns the entity's codec, or nil.
func (e *Entity) Codec() serial.Codec { return e.codec }

// Doc returns the entity documentation.
func (e *Entity) Doc() string { return e.doc }

// Transient reports whether values skip the persistent tier.
func (e *Entity) Transient() bool { return e.transient }

// IsInput reports whether the entity has no function and must be assigned.
func (e *Entity) IsInput() bool { return e.fn == nil }

// Parents returns every entity this one has an edge from: its dependencies,
// then for gather entities the Over entities and Also, without duplicates.
func (e *Entity) Parents() []string {
	parents := slices.Clone(e.dependencies)
	if e.gather != nil {
		for _, name := range e.gather.Over {
			if !slices.Contains(parents, name) {
				parents = append(parents, name)
			}
		}
		if e.gather.Also != "" && !slices.Contains(parents, e.gather.Also) {
			parents = append(parents, e.gather.Also)
		}
	}
	return parents
}
