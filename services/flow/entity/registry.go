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
	"slices"
)

// Registry is a catalog of entities with explicit adjacency by name.
//
// Description:
//
//	Entities are registered one at a time and every dependency must already
//	be registered, so registration order is always a topological order.
//	Cycles are still checked with a DFS over the adjacency so a
//	self-reference is reported as a cycle rather than an unknown name.
//
// Thread Safety:
//
//	Register is NOT safe for concurrent use. After Freeze the registry is
//	read-only and safe for concurrent reads.
type Registry struct {
	entities map[string]*Entity
	order    []string
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		order:    make([]string, 0),
	}
}

// Register validates a declaration and adds it to the registry.
//
// Inputs:
//
//	d - The declaration. Slices are copied; later changes to d have no effect.
//
// Outputs:
//
//	*Entity - The registered entity.
//	error - *DuplicateEntityError, *UnknownDependencyError, *CycleError,
//	        or a *DeclarationError wrapping ErrInvalidGather,
//	        ErrInvalidDeclaration or ErrFrozen.
func (r *Registry) Register(d Declaration) (*Entity, error) {
	if r.frozen {
		return nil, &DeclarationError{Entity: d.Name, Err: ErrFrozen}
	}
	if d.Name == "" {
		return nil, declarationErr(d.Name, ErrInvalidDeclaration, "name must not be empty")
	}
	if _, exists := r.entities[d.Name]; exists {
		return nil, &DuplicateEntityError{Name: d.Name}
	}
	if err := validateShape(d); err != nil {
		return nil, err
	}

	e := newEntity(d)
	parents := e.Parents()

	for _, p := range parents {
		if p == e.name {
			return nil, NewCycleError([]string{e.name, e.name})
		}
	}
	for _, p := range parents {
		if _, ok := r.entities[p]; !ok {
			return nil, &UnknownDependencyError{Entity: e.name, Dependency: p}
		}
	}

	adjList := make(map[string][]string, len(r.entities)+1)
	for name, existing := range r.entities {
		adjList[name] = existing.Parents()
	}
	adjList[e.name] = parents
	if err := detectCycles(e.name, adjList); err != nil {
		return nil, err
	}

	if e.gather != nil && e.gather.Also != "" {
		for _, over := range e.gather.Over {
			if over == e.gather.Also {
				continue
			}
			if !r.isDependencyAncestor(over, e.gather.Also) {
				return nil, declarationErr(e.name, ErrInvalidGather,
					"gather dimension %q is not an ancestor of %q", over, e.gather.Also)
			}
		}
	}

	r.entities[e.name] = e
	r.order = append(r.order, e.name)
	return e, nil
}

// validateShape checks the declaration without looking at other entities.
func validateShape(d Declaration) error {
	seen := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if dep == "" {
			return declarationErr(d.Name, ErrInvalidDeclaration, "empty dependency name")
		}
		if seen[dep] {
			return declarationErr(d.Name, ErrInvalidDeclaration, "dependency %q listed twice", dep)
		}
		seen[dep] = true
	}

	if d.Func == nil {
		if len(d.Dependencies) > 0 || d.Gather != nil {
			return declarationErr(d.Name, ErrInvalidDeclaration, "an input entity cannot have dependencies or a gather")
		}
		return nil
	}

	g := d.Gather
	if g == nil {
		return nil
	}
	if len(g.Over) == 0 {
		return declarationErr(d.Name, ErrInvalidGather, "Over must name at least one entity")
	}
	if g.Into == "" {
		return declarationErr(d.Name, ErrInvalidGather, "Into must not be empty")
	}
	if seen[g.Into] {
		return declarationErr(d.Name, ErrInvalidGather, "Into %q collides with a dependency", g.Into)
	}
	overSeen := make(map[string]bool, len(g.Over))
	for _, over := range g.Over {
		if over == "" {
			return declarationErr(d.Name, ErrInvalidGather, "empty Over name")
		}
		if overSeen[over] {
			return declarationErr(d.Name, ErrInvalidGather, "Over %q listed twice", over)
		}
		if seen[over] {
			return declarationErr(d.Name, ErrInvalidGather, "%q is both a dependency and a gathered dimension", over)
		}
		overSeen[over] = true
	}
	if g.Also != "" && seen[g.Also] {
		return declarationErr(d.Name, ErrInvalidGather, "%q is both a dependency and the gathered value", g.Also)
	}
	return nil
}

// isDependencyAncestor reports whether anc is reachable from desc through
// Dependencies edges. Gather edges are not followed: a dimension contracted
// by a nested gather no longer varies downstream of it.
func (r *Registry) isDependencyAncestor(anc, desc string) bool {
	visited := make(map[string]bool)
	var walk func(name string) bool
	walk = func(name string) bool {
		if visited[name] {
			return false
		}
		visited[name] = true
		e := r.entities[name]
		if e == nil {
			return false
		}
		for _, dep := range e.dependencies {
			if dep == anc || walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(desc)
}

// detectCycles uses DFS from start to detect cycles in the graph.
func detectCycles(start string, adjList map[string][]string) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range adjList[node] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if recStack[dep] {
				cycleStart := slices.Index(path, dep)
				cyclePath := append(slices.Clone(path[cycleStart:]), dep)
				return NewCycleError(cyclePath)
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return nil
	}

	return dfs(start)
}

// Freeze makes the registry read-only and returns it.
func (r *Registry) Freeze() *Registry {
	r.frozen = true
	return r
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Clone returns an unfrozen copy. Entities are shared; they are immutable.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		entities: make(map[string]*Entity, len(r.entities)),
		order:    slices.Clone(r.order),
	}
	for name, e := range r.entities {
		c.entities[name] = e
	}
	return c
}

// Lookup returns the entity with the given name.
func (r *Registry) Lookup(name string) (*Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, &UnknownEntityError{Name: name}
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entities[name]
	return ok
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns every entity name in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Closure returns roots and all of their ancestors, in registration order.
// With no roots it returns every entity.
func (r *Registry) Closure(roots ...string) ([]string, error) {
	if len(roots) == 0 {
		return r.Names(), nil
	}

	needed := make(map[string]bool)
	var mark func(name string)
	mark = func(name string) {
		if needed[name] {
			return
		}
		needed[name] = true
		for _, p := range r.entities[name].Parents() {
			mark(p)
		}
	}
	for _, root := range roots {
		if !r.Has(root) {
			return nil, &UnknownEntityError{Name: root}
		}
		mark(root)
	}

	out := make([]string, 0, len(needed))
	for _, name := range r.order {
		if needed[name] {
			out = append(out, name)
		}
	}
	return out, nil
}
