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

import "slices"

// maxOverlayDepth bounds lookup cost; deeper chains are flattened.
const maxOverlayDepth = 32

// overlay is a persistent assignment map. Each layer binds one entity and
// points at its parent, so deriving a Flow shares every earlier layer.
//
// A layer with a non-nil flat map is a compacted base and has no parent.
type overlay struct {
	parent *overlay
	name   string
	values []any
	flat   map[string][]any
	depth  int
}

// Assigned implements resolve.Assignments. A nil overlay assigns nothing.
func (o *overlay) Assigned(name string) ([]any, bool) {
	for n := o; n != nil; n = n.parent {
		if n.flat != nil {
			v, ok := n.flat[name]
			return v, ok
		}
		if n.name == name {
			return n.values, true
		}
	}
	return nil, false
}

// with returns a new overlay binding name to values. The receiver is not
// modified.
func (o *overlay) with(name string, values []any) *overlay {
	values = slices.Clone(values)
	if o != nil && o.depth >= maxOverlayDepth {
		flat := o.flatten()
		flat[name] = values
		return &overlay{flat: flat}
	}
	depth := 1
	if o != nil {
		depth = o.depth + 1
	}
	return &overlay{parent: o, name: name, values: values, depth: depth}
}

// flatten copies every binding into a new map, nearest layer winning.
func (o *overlay) flatten() map[string][]any {
	out := make(map[string][]any)
	for n := o; n != nil; n = n.parent {
		if n.flat != nil {
			for k, v := range n.flat {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
			break
		}
		if _, ok := out[n.name]; !ok {
			out[n.name] = n.values
		}
	}
	return out
}

// names returns the assigned entity names, sorted.
func (o *overlay) names() []string {
	if o == nil {
		return nil
	}
	var out []string
	for k := range o.flatten() {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
