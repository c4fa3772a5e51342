// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve expands entities into instances and computes their case
// keys.
//
// # Multiplicity
//
//   - An entity with an assignment of k values has k instances, in
//     assignment order.
//   - An ordinary derived entity has one instance per combination of its
//     dependencies' instances. The first dependency varies slowest.
//   - A gather entity has one instance per combination of its ordinary
//     dependencies' instances and its groups, with groups as the last axis.
//     A group whose members derive from an assigned value that a dependency
//     combination also derives from is paired only with combinations that
//     agree on that value. Groups sharing no assigned ancestor with the
//     dependencies are crossed with every combination.
//
// # Groups
//
// The variants a gather collects are the instances of Also, or the
// combinations of the Over entities when Also is empty. Two variants fall
// into the same group when their provenance is identical once every Over
// entity is ignored. Groups and their members keep first-appearance order.
//
// Resolution is lazy: only the entities reachable from a requested name are
// expanded, and results are memoized for the lifetime of the Resolver.
package resolve

import (
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
)

// Assignments supplies externally fixed values by entity name.
type Assignments interface {
	// Assigned returns the values fixed for name, in order, and whether any are.
	Assigned(name string) ([]any, bool)
}

// Resolver materializes instances for one registry and one set of assignments.
//
// Thread Safety:
//
//	Safe for concurrent use. Resolution runs under a mutex; it performs no
//	I/O and calls no producing functions.
type Resolver struct {
	registry *entity.Registry
	assigned Assignments

	mu   sync.Mutex
	memo map[string]result
}

type result struct {
	instances []*Instance
	err       error
}

// New creates a Resolver. The registry should be frozen.
func New(registry *entity.Registry, assigned Assignments) *Resolver {
	return &Resolver{
		registry: registry,
		assigned: assigned,
		memo:     make(map[string]result),
	}
}

// Instances returns every instance of the named entity in resolved order.
//
// Outputs:
//
//	[]*Instance - The instances. Never empty on success.
//	error - *entity.UnknownEntityError, *MissingValueError,
//	        *casekey.NotHashableError or *InvalidGatherError.
func (r *Resolver) Instances(name string) ([]*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(name)
}

// Multiplicity returns the number of instances of the named entity.
func (r *Resolver) Multiplicity(name string) (int, error) {
	instances, err := r.Instances(name)
	if err != nil {
		return 0, err
	}
	return len(instances), nil
}

// resolve must be called with r.mu held.
func (r *Resolver) resolve(name string) ([]*Instance, error) {
	if res, ok := r.memo[name]; ok {
		return res.instances, res.err
	}
	instances, err := r.expand(name)
	r.memo[name] = result{instances: instances, err: err}
	return instances, err
}

func (r *Resolver) expand(name string) ([]*Instance, error) {
	e, err := r.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	if values, ok := r.assigned.Assigned(name); ok {
		return r.expandFixed(e, values)
	}
	if e.IsInput() {
		return nil, &MissingValueError{Entity: name}
	}

	deps := e.Dependencies()
	axes := make([][]*Instance, 0, len(deps)+1)
	for _, dep := range deps {
		depInstances, err := r.resolve(dep)
		if err != nil {
			return nil, err
		}
		axes = append(axes, depInstances)
	}

	if e.Role() != entity.RoleGather {
		return r.expandOrdinary(e, axes), nil
	}

	groups, err := r.groups(e)
	if err != nil {
		return nil, err
	}
	return r.expandGather(e, axes, groups), nil
}

func (r *Resolver) expandFixed(e *entity.Entity, values []any) ([]*Instance, error) {
	out := make([]*Instance, len(values))
	for i, v := range values {
		key, err := casekey.ForValue(e.Name(), v)
		if err != nil {
			return nil, err
		}
		out[i] = &Instance{
			Entity: e,
			Key:    key,
			Index:  i,
			Fixed:  true,
			Value:  v,
			coords: []coord{fixedCoord(e.Name(), key, v)},
		}
	}
	return out, nil
}

func (r *Resolver) expandOrdinary(e *entity.Entity, axes [][]*Instance) []*Instance {
	var out []*Instance
	product(axes, func(combo []*Instance) {
		keys := make([]casekey.Key, len(combo))
		var coords []coord
		for i, dep := range combo {
			keys[i] = dep.Key
			coords = mergeCoords(coords, dep.coords, nil)
		}
		out = append(out, &Instance{
			Entity: e,
			Key:    casekey.Derive(e.Name(), e.Version(), keys...),
			Index:  len(out),
			Deps:   combo,
			coords: coords,
		})
	})
	return out
}

func (r *Resolver) expandGather(e *entity.Entity, axes [][]*Instance, groups []*groupInfo) []*Instance {
	var out []*Instance
	product(axes, func(combo []*Instance) {
		keys := make([]casekey.Key, len(combo), len(combo)+1)
		var coords []coord
		for i, dep := range combo {
			keys[i] = dep.Key
			coords = mergeCoords(coords, dep.coords, nil)
		}
		for _, g := range groups {
			if !consistent(coords, g.coords) {
				continue
			}
			out = append(out, &Instance{
				Entity: e,
				Key:    casekey.Derive(e.Name(), e.Version(), append(keys, g.group.Key)...),
				Index:  len(out),
				Deps:   combo,
				Group:  g.group,
				coords: mergeCoords(append([]coord(nil), coords...), g.coords, nil),
			})
		}
	})
	return out
}

// consistent reports whether a group's coordinates agree with those of a
// dependency combination on every assigned entity they both derive from.
func consistent(combo, group []coord) bool {
	for _, gc := range group {
		shared, match := false, false
		for _, cc := range combo {
			if cc.entity != gc.entity {
				continue
			}
			shared = true
			if cc.key == gc.key {
				match = true
				break
			}
		}
		if shared && !match {
			return false
		}
	}
	return true
}

// product calls fn once per combination of one element from each axis, the
// first axis varying slowest. With no axes fn is called once with an empty
// combination. fn receives a fresh slice each call.
func product(axes [][]*Instance, fn func(combo []*Instance)) {
	for _, axis := range axes {
		if len(axis) == 0 {
			return
		}
	}
	idx := make([]int, len(axes))
	for {
		combo := make([]*Instance, len(axes))
		for i, axis := range axes {
			combo[i] = axis[idx[i]]
		}
		fn(combo)

		pos := len(axes) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(axes[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return
		}
	}
}
