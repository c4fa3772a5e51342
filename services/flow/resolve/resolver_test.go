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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/entity"
)

type mapAssign map[string][]any

func (m mapAssign) Assigned(name string) ([]any, bool) {
	v, ok := m[name]
	return v, ok
}

func noop(_ context.Context, _ entity.Args) (any, error) { return nil, nil }

// scenarioRegistry declares a, d (inputs), c(a), m(a, d), g gathering a with m.
func scenarioRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	r := entity.NewRegistry()
	decls := []entity.Declaration{
		{Name: "a"},
		{Name: "d"},
		{Name: "c", Dependencies: []string{"a"}, Func: noop},
		{Name: "m", Dependencies: []string{"a", "d"}, Func: noop},
		{Name: "g", Func: noop, Gather: &entity.GatherSpec{Over: []string{"a"}, Also: "m", Into: "frame"}},
	}
	for _, d := range decls {
		_, err := r.Register(d)
		require.NoError(t, err)
	}
	return r.Freeze()
}

func values(instances []*Instance) []any {
	out := make([]any, len(instances))
	for i, inst := range instances {
		out[i] = inst.Value
	}
	return out
}

func TestResolver_FixedAssignmentOrder(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {3, 1, 2}})

	insts, err := r.Instances("a")
	require.NoError(t, err)
	assert.Equal(t, []any{3, 1, 2}, values(insts))
	for i, inst := range insts {
		assert.True(t, inst.Fixed)
		assert.Equal(t, i, inst.Index)
	}
}

func TestResolver_OrdinaryFanOut(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {1, 2, 3}, "d": {"x", "y"}})

	c, err := r.Multiplicity("c")
	require.NoError(t, err)
	assert.Equal(t, 3, c)

	m, err := r.Instances("m")
	require.NoError(t, err)
	require.Len(t, m, 6)

	// First dependency varies slowest.
	want := [][2]any{{1, "x"}, {1, "y"}, {2, "x"}, {2, "y"}, {3, "x"}, {3, "y"}}
	for i, inst := range m {
		require.Len(t, inst.Deps, 2)
		assert.Equal(t, want[i][0], inst.Deps[0].Value)
		assert.Equal(t, want[i][1], inst.Deps[1].Value)
	}
	assert.Equal(t, "a=1,d=x", m[0].Label())
}

func TestResolver_MultiplicityArithmetic(t *testing.T) {
	for _, tc := range []struct {
		a, d int
	}{{1, 1}, {2, 3}, {4, 1}, {3, 5}} {
		assign := mapAssign{}
		for i := 0; i < tc.a; i++ {
			assign["a"] = append(assign["a"], i)
		}
		for i := 0; i < tc.d; i++ {
			assign["d"] = append(assign["d"], i)
		}
		r := New(scenarioRegistry(t), assign)

		m, err := r.Multiplicity("m")
		require.NoError(t, err)
		assert.Equal(t, tc.a*tc.d, m)

		g, err := r.Multiplicity("g")
		require.NoError(t, err)
		assert.Equal(t, tc.d, g, "gather absorbs the a dimension")
	}
}

func TestResolver_GatherGroups(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {1, 2, 3}, "d": {"x", "y"}})

	g, err := r.Instances("g")
	require.NoError(t, err)
	require.Len(t, g, 2)

	for gi, inst := range g {
		require.NotNil(t, inst.Group)
		assert.Equal(t, []string{"a", "m"}, inst.Group.Columns)
		require.Len(t, inst.Group.Members, 3)
		for mi, member := range inst.Group.Members {
			require.Len(t, member.Cells, 2)
			assert.Equal(t, mi+1, member.Cells[0].Value)
			assert.Equal(t, "m", member.Cells[1].Name())
			assert.Equal(t, []any{"x", "y"}[gi], member.Cells[1].Deps[1].Value)
		}
	}
	assert.Equal(t, "d=x", g[0].Label())
	assert.Equal(t, "d=y", g[1].Label())
	assert.NotEqual(t, g[0].Key, g[1].Key)
}

func TestResolver_GatherWithoutAlso(t *testing.T) {
	reg := entity.NewRegistry()
	_, err := reg.Register(entity.Declaration{Name: "a"})
	require.NoError(t, err)
	_, err = reg.Register(entity.Declaration{Name: "b"})
	require.NoError(t, err)
	_, err = reg.Register(entity.Declaration{
		Name:   "all",
		Func:   noop,
		Gather: &entity.GatherSpec{Over: []string{"a", "b"}, Into: "frame"},
	})
	require.NoError(t, err)

	r := New(reg.Freeze(), mapAssign{"a": {1, 2}, "b": {"p", "q", "r"}})
	insts, err := r.Instances("all")
	require.NoError(t, err)
	require.Len(t, insts, 1)

	group := insts[0].Group
	assert.Equal(t, []string{"a", "b"}, group.Columns)
	require.Len(t, group.Members, 6)
	assert.Equal(t, 1, group.Members[0].Cells[0].Value)
	assert.Equal(t, "p", group.Members[0].Cells[1].Value)
	assert.Equal(t, 2, group.Members[5].Cells[0].Value)
	assert.Equal(t, "r", group.Members[5].Cells[1].Value)
	assert.Equal(t, "all", insts[0].Label())
}

func TestResolver_GatherWithOrdinaryDependency(t *testing.T) {
	reg := entity.NewRegistry()
	for _, d := range []entity.Declaration{
		{Name: "a"},
		{Name: "scale"},
		{Name: "g", Dependencies: []string{"scale"}, Func: noop, Gather: &entity.GatherSpec{Over: []string{"a"}, Into: "frame"}},
	} {
		_, err := reg.Register(d)
		require.NoError(t, err)
	}

	r := New(reg.Freeze(), mapAssign{"a": {1, 2, 3}, "scale": {10, 100}})
	insts, err := r.Instances("g")
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, 10, insts[0].Deps[0].Value)
	assert.Equal(t, 100, insts[1].Deps[0].Value)
	assert.Equal(t, insts[0].Group.Key, insts[1].Group.Key)
	assert.NotEqual(t, insts[0].Key, insts[1].Key)
}

func TestResolver_GatherJoinsSharedDependency(t *testing.T) {
	reg := scenarioRegistry(t).Clone()
	_, err := reg.Register(entity.Declaration{
		Name:         "h",
		Dependencies: []string{"d"},
		Func:         noop,
		Gather:       &entity.GatherSpec{Over: []string{"a"}, Also: "m", Into: "frame"},
	})
	require.NoError(t, err)

	r := New(reg.Freeze(), mapAssign{"a": {1, 2, 3}, "d": {1, 2}})
	insts, err := r.Instances("h")
	require.NoError(t, err)
	require.Len(t, insts, 2)

	for i, d := range []int{1, 2} {
		inst := insts[i]
		assert.Equal(t, i, inst.Index)
		assert.Equal(t, d, inst.Deps[0].Value)
		require.Len(t, inst.Group.Members, 3)
		for _, member := range inst.Group.Members {
			m := member.Cells[1]
			require.Equal(t, "m", m.Name())
			assert.Equal(t, d, m.Deps[1].Value, "member of %s", inst.Label())
		}
	}
	assert.Equal(t, "d=1", insts[0].Label())
	assert.Equal(t, "d=2", insts[1].Label())
	assert.NotEqual(t, insts[0].Group.Key, insts[1].Group.Key)

	g, err := r.Multiplicity("g")
	require.NoError(t, err)
	assert.Equal(t, 2, g)
}

func TestResolver_MissingValue(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {1}})

	_, err := r.Instances("c")
	require.NoError(t, err, "c does not need d")

	_, err = r.Instances("m")
	require.Error(t, err)
	var missing *MissingValueError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "d", missing.Entity)
	assert.True(t, errors.Is(err, ErrMissingValue))
}

func TestResolver_UnknownEntity(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{})
	_, err := r.Instances("nope")
	assert.True(t, errors.Is(err, entity.ErrUnknownEntity))
}

func TestResolver_OverriddenAlsoBreaksGather(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {1, 2}, "d": {"x"}, "m": {5, 6}})

	m, err := r.Instances("m")
	require.NoError(t, err)
	assert.True(t, m[0].Fixed)

	_, err = r.Instances("g")
	var ig *InvalidGatherError
	require.True(t, errors.As(err, &ig))
	assert.Equal(t, "a", ig.Over)
	assert.True(t, errors.Is(err, entity.ErrInvalidGather))
}

func TestResolver_NotHashable(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {func() {}}})
	_, err := r.Instances("c")
	assert.True(t, errors.Is(err, casekey.ErrNotHashable))
}

func TestResolver_KeysIndependentOfResolver(t *testing.T) {
	reg := scenarioRegistry(t)
	r1 := New(reg, mapAssign{"a": {1, 2}, "d": {"x"}})
	r2 := New(reg, mapAssign{"a": {2}, "d": {"x", "z"}})

	m1, err := r1.Instances("m")
	require.NoError(t, err)
	m2, err := r2.Instances("m")
	require.NoError(t, err)

	// (a=2, d=x) appears in both.
	assert.Equal(t, m1[1].Key, m2[0].Key)
	assert.NotEqual(t, m1[0].Key, m2[0].Key)
}

func TestResolver_Memoizes(t *testing.T) {
	r := New(scenarioRegistry(t), mapAssign{"a": {1, 2}, "d": {"x"}})
	first, err := r.Instances("m")
	require.NoError(t, err)
	second, err := r.Instances("m")
	require.NoError(t, err)
	assert.Same(t, first[0], second[0])

	c, err := r.Instances("c")
	require.NoError(t, err)
	assert.Same(t, first[0].Deps[0], c[0].Deps[0], "a instances are shared")
}

func TestProduct(t *testing.T) {
	a := []*Instance{{Index: 0}, {Index: 1}}
	b := []*Instance{{Index: 0}, {Index: 1}, {Index: 2}}

	var got [][2]int
	product([][]*Instance{a, b}, func(combo []*Instance) {
		got = append(got, [2]int{combo[0].Index, combo[1].Index})
	})
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, got)

	calls := 0
	product(nil, func(combo []*Instance) {
		calls++
		assert.Empty(t, combo)
	})
	assert.Equal(t, 1, calls)

	calls = 0
	product([][]*Instance{a, {}}, func([]*Instance) { calls++ })
	assert.Equal(t, 0, calls)
}
