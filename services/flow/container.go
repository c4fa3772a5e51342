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
)

// Item is one evaluated instance handed to a Container.
type Item struct {
	// Label identifies the instance by the assigned values it derives from,
	// e.g. "a=1,d=x".
	Label string

	// Key is the instance's case key.
	Key casekey.Key

	// Value is the computed value.
	Value any
}

// Container assembles the values of a multi-valued entity. Items arrive in
// resolution order.
type Container interface {
	Assemble(entity string, items []Item) any
}

// Containers accepted by GetInto.
var (
	// List assembles a []any in resolution order.
	List Container = listContainer{}

	// Map assembles a map[string]any keyed by instance label. Repeated
	// labels get a "#2", "#3", ... suffix in order of appearance.
	Map Container = mapContainer{}

	// Table assembles a *Frame with one column named after the entity.
	Table Container = tableContainer{}
)

type listContainer struct{}

func (listContainer) Assemble(_ string, items []Item) any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}

type mapContainer struct{}

func (mapContainer) Assemble(_ string, items []Item) any {
	out := make(map[string]any, len(items))
	seen := make(map[string]int, len(items))
	for _, it := range items {
		label := it.Label
		seen[label]++
		if n := seen[label]; n > 1 {
			label = fmt.Sprintf("%s#%d", label, n)
		}
		out[label] = it.Value
	}
	return out
}

type tableContainer struct{}

func (tableContainer) Assemble(entity string, items []Item) any {
	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{it.Value}
	}
	return &Frame{Columns: []string{entity}, Rows: rows}
}
