// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/services/flow"
	"github.com/AleutianAI/AleutianFlow/services/flow/dagviz"
	"github.com/AleutianAI/AleutianFlow/services/flow/serial"
)

// demoVersion tags persisted demo values. Bump it when the demo functions
// change.
const demoVersion = "1"

func newDemoCmd(a *app) *cobra.Command {
	var (
		values   []int
		offsets  []int
		dot      bool
		vertical bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Evaluate a small example flow against the configured cache",
		Long: `Builds the flow

  m = a*10 + d   for every (a, d)
  g = sum of m over a, for every d

and prints every value of g. Values of m are persisted, so a second run
is served from the cache. With --dot the instance graph of g is printed
in Graphviz DOT format instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := a.demoFlow(cmd.Context(), values, offsets)
			if err != nil {
				return err
			}
			if dot {
				g, err := f.Graph("g")
				if err != nil {
					return err
				}
				return dagviz.Write(a.stdout, g, dagviz.Options{Name: "demo", Vertical: vertical})
			}
			return a.printDemo(cmd.Context(), f)
		},
	}
	cmd.Flags().IntSliceVar(&values, "values", []int{1, 2, 3}, "Values of a")
	cmd.Flags().IntSliceVar(&offsets, "offsets", []int{1, 2}, "Values of d")
	cmd.Flags().BoolVar(&dot, "dot", false, "Print the instance graph of g as DOT")
	cmd.Flags().BoolVar(&vertical, "vertical", false, "Lay the DOT graph out top to bottom")
	return cmd
}

func (a *app) demoFlow(ctx context.Context, values, offsets []int) (*flow.Flow, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	b := flow.NewBuilder().
		Assign("a", ints(values)...).
		Assign("d", ints(offsets)...).
		Add(flow.Declaration{
			Name:         "m",
			Dependencies: []string{"a", "d"},
			Version:      demoVersion,
			Codec:        serial.JSON[int](),
			Doc:          "a*10 + d",
			Func: func(_ context.Context, args flow.Args) (any, error) {
				av, err := flow.ArgAs[int](args, "a")
				if err != nil {
					return nil, err
				}
				dv, err := flow.ArgAs[int](args, "d")
				if err != nil {
					return nil, err
				}
				return av*10 + dv, nil
			},
		}).
		Add(flow.Declaration{
			Name:    "g",
			Gather:  &flow.GatherSpec{Over: []string{"a"}, Also: "m", Into: "frame"},
			Version: demoVersion,
			Codec:   serial.Msgpack[int](),
			Doc:     "sum of m over a",
			Func: func(_ context.Context, args flow.Args) (any, error) {
				frame, err := args.Frame("frame")
				if err != nil {
					return nil, err
				}
				ms, err := flow.ColumnAs[int](frame, "m")
				if err != nil {
					return nil, err
				}
				sum := 0
				for _, m := range ms {
					sum += m
				}
				return sum, nil
			},
		})

	return b.Build(
		flow.WithStore(store),
		flow.WithWorkers(a.cfg.Workers),
		flow.WithLogger(a.logger.Slog()),
	)
}

func (a *app) printDemo(ctx context.Context, f *flow.Flow) error {
	byLabel, err := f.GetMap(ctx, "g")
	if err != nil {
		return err
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	for _, l := range labels {
		fmt.Fprintf(a.stdout, "g[%s] = %v\n", l, byLabel[l])
	}

	st := f.Store().Stats()
	fmt.Fprintf(a.stdout, "computed=%d persistent_hits=%d memory_hits=%d\n",
		st.Computations, st.PersistentHits, st.MemoryHits)
	return nil
}

func ints(vs []int) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
