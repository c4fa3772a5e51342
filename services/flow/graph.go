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

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/resolve"
)

// Graph is a read-only view of resolved instances and their edges.
type Graph struct {
	// Nodes are unique by Key, dependencies before dependents.
	Nodes []Node

	// Edges point from a dependency instance to the instance using it.
	Edges []Edge
}

// Node is one instance in a Graph.
type Node struct {
	Entity string
	Index  int
	Label  string
	Doc    string
	Key    casekey.Key
	Fixed  bool
	Gather bool
}

// Edge connects two instances by case key.
type Edge struct {
	From casekey.Key
	To   casekey.Key
}

// Multiplicity returns the number of nodes of entityName.
func (g *Graph) Multiplicity(entityName string) int {
	n := 0
	for _, node := range g.Nodes {
		if node.Entity == entityName {
			n++
		}
	}
	return n
}

// Graph resolves names and their ancestors without computing anything.
//
// With no names, every declared entity is included except those that cannot
// be resolved because an input has no assigned value.
func (f *Flow) Graph(names ...string) (*Graph, error) {
	roots := names
	skipMissing := len(names) == 0
	if skipMissing {
		roots = f.registry.Names()
	}

	g := &Graph{}
	seen := make(map[casekey.Key]bool)
	edges := make(map[Edge]bool)

	var visit func(inst *resolve.Instance)
	visit = func(inst *resolve.Instance) {
		if seen[inst.Key] {
			return
		}
		seen[inst.Key] = true

		var parents []*resolve.Instance
		parents = append(parents, inst.Deps...)
		if inst.Group != nil {
			for _, m := range inst.Group.Members {
				parents = append(parents, m.Cells...)
			}
		}
		for _, p := range parents {
			visit(p)
			edge := Edge{From: p.Key, To: inst.Key}
			if !edges[edge] {
				edges[edge] = true
				g.Edges = append(g.Edges, edge)
			}
		}

		g.Nodes = append(g.Nodes, Node{
			Entity: inst.Name(),
			Index:  inst.Index,
			Label:  inst.Label(),
			Doc:    inst.Entity.Doc(),
			Key:    inst.Key,
			Fixed:  inst.Fixed,
			Gather: inst.Group != nil,
		})
	}

	for _, name := range roots {
		instances, err := f.resolver.Instances(name)
		if err != nil {
			if skipMissing && errors.Is(err, ErrMissingValue) {
				continue
			}
			return nil, err
		}
		for _, inst := range instances {
			visit(inst)
		}
	}
	return g, nil
}
