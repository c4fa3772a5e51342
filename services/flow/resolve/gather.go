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
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
)

// wildcard stands in for a contracted dimension in a provenance signature.
const wildcard = "*"

type groupInfo struct {
	group  *Group
	coords []coord
}

// groups partitions the variants collected by gather entity e.
// Must be called with r.mu held.
func (r *Resolver) groups(e *entity.Entity) ([]*groupInfo, error) {
	spec := e.Gather()

	over := make(map[string]bool, len(spec.Over))
	for _, name := range spec.Over {
		over[name] = true
	}
	columns := append([]string(nil), spec.Over...)
	if spec.Also != "" && !over[spec.Also] {
		columns = append(columns, spec.Also)
	}

	type variant struct {
		member *Member
		sig    string
		coords []coord
	}
	var variants []variant

	if spec.Also != "" {
		alsoInstances, err := r.resolve(spec.Also)
		if err != nil {
			return nil, err
		}
		sigs := make(map[*Instance]string)
		for _, inst := range alsoInstances {
			cells := make([]*Instance, 0, len(columns))
			for _, name := range spec.Over {
				if name == spec.Also {
					cells = append(cells, inst)
					continue
				}
				found := findInProvenance(inst, name)
				if found == nil {
					return nil, &InvalidGatherError{Entity: e.Name(), Over: name, Also: spec.Also}
				}
				cells = append(cells, found)
			}
			if !over[spec.Also] {
				cells = append(cells, inst)
			}
			variants = append(variants, variant{
				member: &Member{Key: inst.Key, Cells: cells},
				sig:    signature(inst, over, sigs),
				coords: mergeCoords(nil, inst.coords, over),
			})
		}
	} else {
		axes := make([][]*Instance, 0, len(spec.Over))
		for _, name := range spec.Over {
			instances, err := r.resolve(name)
			if err != nil {
				return nil, err
			}
			axes = append(axes, instances)
		}
		product(axes, func(combo []*Instance) {
			keys := make([]casekey.Key, len(combo))
			for i, inst := range combo {
				keys[i] = inst.Key
			}
			variants = append(variants, variant{
				member: &Member{Key: casekey.ForGroup(keys), Cells: combo},
				sig:    wildcard,
			})
		})
	}

	var out []*groupInfo
	bySig := make(map[string]*groupInfo)
	for _, v := range variants {
		g, ok := bySig[v.sig]
		if !ok {
			g = &groupInfo{
				group:  &Group{Columns: columns},
				coords: v.coords,
			}
			bySig[v.sig] = g
			out = append(out, g)
		}
		g.group.Members = append(g.group.Members, v.member)
	}

	for _, g := range out {
		keys := make([]casekey.Key, len(g.group.Members))
		for i, m := range g.group.Members {
			keys[i] = m.Key
		}
		g.group.Key = casekey.ForGroup(keys)
	}
	return out, nil
}

// signature identifies the provenance of inst with every entity in over
// replaced by a wildcard.
func signature(inst *Instance, over map[string]bool, memo map[*Instance]string) string {
	if s, ok := memo[inst]; ok {
		return s
	}

	var s string
	switch {
	case over[inst.Name()]:
		s = wildcard
	case inst.Fixed:
		s = string(inst.Key)
	default:
		parts := make([]casekey.Key, 0, len(inst.Deps)+1)
		for _, dep := range inst.Deps {
			parts = append(parts, casekey.Key(signature(dep, over, memo)))
		}
		if inst.Group != nil {
			parts = append(parts, inst.Group.Key)
		}
		s = string(casekey.Derive(inst.Name(), "", parts...))
	}

	memo[inst] = s
	return s
}

// findInProvenance returns the first instance of entity name reachable from
// inst through ordinary dependencies, depth first, or nil.
func findInProvenance(inst *Instance, name string) *Instance {
	visited := make(map[*Instance]bool)
	var walk func(i *Instance) *Instance
	walk = func(i *Instance) *Instance {
		if visited[i] {
			return nil
		}
		visited[i] = true
		for _, dep := range i.Deps {
			if dep.Name() == name {
				return dep
			}
			if found := walk(dep); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(inst)
}
