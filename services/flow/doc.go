// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow evaluates graphs of named, cached values.
//
// An entity is a named value produced by a function of other entities, or
// an input whose value is assigned. A Flow binds the declared entities to
// assigned values; Setting returns a new Flow and never changes the old one.
//
// Assigning several values to an entity gives it several instances, and
// every dependent gets one instance per combination of its dependencies'
// instances. A gather entity contracts that fan-out again: it receives the
// collected variants of its Over entities as a *Frame.
//
// Every instance has a case key derived from its entity, version and the
// case keys of its inputs. Computed values are cached by case key in a
// cache.Store, so a value is computed once per distinct input combination,
// across Flows and, with a persistent tier, across processes.
//
//	f, _ := flow.NewBuilder().
//	    Declare("a").
//	    Derive("c", []string{"a"}, func(ctx context.Context, args flow.Args) (any, error) {
//	        a, err := flow.ArgAs[int](args, "a")
//	        return a * 10, err
//	    }).
//	    Build()
//	f, _ = f.SettingValues("a", []any{1, 2, 3})
//	cs, _ := flow.GetListAs[int](ctx, f, "c") // [10 20 30]
package flow
