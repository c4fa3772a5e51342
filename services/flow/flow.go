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
	"slices"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
	"github.com/AleutianAI/AleutianFlow/services/flow/resolve"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// env is the runtime state shared by a Flow and every Flow derived from it.
type env struct {
	store   *cache.Store
	logger  *slog.Logger
	workers int
	sem     *semaphore.Weighted
	codec   serial.Codec
}

func newEnv(o Options) *env {
	if o.Store == nil {
		o.Store = cache.NewMemoryStore(cache.WithLogger(o.Logger))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &env{
		store:   o.Store,
		logger:  o.Logger,
		workers: o.Workers,
		sem:     semaphore.NewWeighted(int64(o.Workers)),
		codec:   o.DefaultCodec,
	}
}

// Flow is an immutable snapshot of entity declarations and assigned values.
//
// Description:
//
//	Setting, SettingValues and Adding return new Flows and leave the
//	receiver unchanged. Cached values are addressed by case key, so Flows
//	sharing a Store share every value computed from identical inputs,
//	whichever Flow computed it.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Flow struct {
	registry *entity.Registry
	assigned *overlay
	resolver *resolve.Resolver
	env      *env
}

func newFlow(registry *entity.Registry, assigned *overlay, env *env) *Flow {
	return &Flow{
		registry: registry,
		assigned: assigned,
		resolver: resolve.New(registry, assigned),
		env:      env,
	}
}

// Setting returns a new Flow with name bound to the single value v.
//
// Assigning an entity that has a producing function replaces the function
// in the new Flow.
//
// Outputs:
//
//	*Flow - The new Flow.
//	error - UnknownEntityError, AssignmentConflictError for a gather
//	        entity, or NotHashableError.
func (f *Flow) Setting(name string, v any) (*Flow, error) {
	return f.SettingValues(name, []any{v})
}

// SettingValues returns a new Flow with name bound to values, in order.
// Each value becomes one instance of the entity.
func (f *Flow) SettingValues(name string, values []any) (*Flow, error) {
	if err := f.checkAssignable(name, values); err != nil {
		return nil, err
	}
	return newFlow(f.registry, f.assigned.with(name, values), f.env), nil
}

// Adding returns a new Flow with values appended to name's assignment.
// An entity without an assignment starts from none.
func (f *Flow) Adding(name string, values ...any) (*Flow, error) {
	if err := f.checkAssignable(name, values); err != nil {
		return nil, err
	}
	existing, _ := f.assigned.Assigned(name)
	combined := append(slices.Clone(existing), values...)
	return newFlow(f.registry, f.assigned.with(name, combined), f.env), nil
}

func (f *Flow) checkAssignable(name string, values []any) error {
	e, err := f.registry.Lookup(name)
	if err != nil {
		return err
	}
	if e.Role() == entity.RoleGather {
		return &AssignmentConflictError{Entity: name, Reason: "gather entities are always derived"}
	}
	return checkValues(name, values)
}

// Assigned returns the values bound to name on this Flow.
func (f *Flow) Assigned(name string) ([]any, bool) {
	values, ok := f.assigned.Assigned(name)
	return slices.Clone(values), ok
}

// AssignedNames returns the names of all assigned entities, sorted.
func (f *Flow) AssignedNames() []string {
	return f.assigned.names()
}

// Names returns all declared entity names in declaration order.
func (f *Flow) Names() []string {
	return f.registry.Names()
}

// Entity returns the declaration of name.
func (f *Flow) Entity(name string) (*Entity, error) {
	return f.registry.Lookup(name)
}

// Store returns the cache store shared by this Flow.
func (f *Flow) Store() *cache.Store {
	return f.env.store
}

// Multiplicity returns the number of instances of name.
func (f *Flow) Multiplicity(name string) (int, error) {
	return f.resolver.Multiplicity(name)
}

func (f *Flow) codecFor(e *entity.Entity) serial.Codec {
	if c := e.Codec(); c != nil {
		return c
	}
	return f.env.codec
}
