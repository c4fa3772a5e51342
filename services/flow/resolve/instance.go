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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
)

// maxLabelValue bounds the length of one value rendered into a label.
const maxLabelValue = 40

// Instance is one materialization of an entity for one combination of
// upstream instances.
//
// Instances are immutable once returned by the Resolver and may be shared
// between goroutines.
type Instance struct {
	// Entity is the entity this is an instance of.
	Entity *entity.Entity

	// Key is the case key.
	Key casekey.Key

	// Index is the position of this instance among its entity's instances.
	Index int

	// Fixed is true for an externally assigned value.
	Fixed bool

	// Value is the assigned value when Fixed.
	Value any

	// Deps are the ordinary dependency instances, in dependency order.
	Deps []*Instance

	// Group is the gathered group for a gather instance, nil otherwise.
	Group *Group

	coords []coord
}

// Name returns the entity name.
func (i *Instance) Name() string {
	return i.Entity.Name()
}

// Label describes the assigned values this instance derives from, e.g.
// "a=1,d=x". Instances with no assigned ancestors are labelled with their
// entity name.
func (i *Instance) Label() string {
	if len(i.coords) == 0 {
		return i.Entity.Name()
	}
	parts := make([]string, len(i.coords))
	for n, c := range i.coords {
		parts[n] = c.entity + "=" + c.text
	}
	return strings.Join(parts, ",")
}

// Group is the set of variants a gather instance collects.
type Group struct {
	// Key is the group's case key, derived from its member keys in order.
	Key casekey.Key

	// Columns are the Over entity names, followed by Also if it is not one
	// of them.
	Columns []string

	// Members are the collected variants in first-appearance order.
	Members []*Member
}

// Member is one collected variant: one instance per column.
type Member struct {
	Key   casekey.Key
	Cells []*Instance
}

// coord is one assigned ancestor value of an instance, used for labels.
type coord struct {
	entity string
	key    casekey.Key
	text   string
}

func fixedCoord(name string, key casekey.Key, v any) coord {
	text := fmt.Sprint(v)
	if len(text) > maxLabelValue {
		text = text[:maxLabelValue-3] + "..."
	}
	return coord{entity: name, key: key, text: text}
}

// mergeCoords appends the coords of src to dst, skipping ones already present
// and ones whose entity is in skip.
func mergeCoords(dst []coord, src []coord, skip map[string]bool) []coord {
	for _, c := range src {
		if skip[c.entity] {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing.key == c.key && existing.entity == c.entity {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}
