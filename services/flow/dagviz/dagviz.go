// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dagviz renders a resolved flow graph as Graphviz DOT.
//
// Each entity gets an invisible cluster holding its instances in index
// order and a fill color from an evenly spaced HPLuv palette, so instances
// of one entity line up and share a color. Entity docs become tooltips.
package dagviz

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/AleutianAI/AleutianFlow/services/flow"
)

// Palette saturation and lightness, in [0, 1].
const (
	paletteSaturation = 0.99
	paletteLightness  = 0.90
)

// Options controls the layout.
type Options struct {
	// Name is the digraph name. Defaults to "flow".
	Name string

	// Vertical lays the graph out top to bottom instead of left to right.
	Vertical bool

	// CurvyLines draws splines instead of straight edges.
	CurvyLines bool
}

// Palette maps each name to an evenly spaced HPLuv color, as "#rrggbb".
func Palette(names []string) map[string]string {
	out := make(map[string]string, len(names))
	n := float64(len(names))
	for i, name := range names {
		c := colorful.HPLuv(360*float64(i)/n, paletteSaturation, paletteLightness)
		out[name] = c.Clamped().Hex()
	}
	return out
}

// Write renders g as DOT to w.
func Write(w io.Writer, g *flow.Graph, opts Options) error {
	if g == nil {
		return fmt.Errorf("dagviz: nil graph")
	}
	name := opts.Name
	if name == "" {
		name = "flow"
	}
	splines, rankdir, tailport := "line", "LR", "e"
	if opts.CurvyLines {
		splines = "spline"
	}
	if opts.Vertical {
		rankdir, tailport = "TB", "s"
	}

	// Clusters in order of first appearance.
	var entities []string
	byEntity := make(map[string][]flow.Node)
	for _, n := range g.Nodes {
		if _, ok := byEntity[n.Entity]; !ok {
			entities = append(entities, n.Entity)
		}
		byEntity[n.Entity] = append(byEntity[n.Entity], n)
	}
	colors := Palette(entities)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %s {\n", quote(name))
	fmt.Fprintf(bw, "\tsplines=%s;\n\toutputorder=edgesfirst;\n\trankdir=%s;\n", splines, rankdir)

	for i, entity := range entities {
		nodes := byEntity[entity]
		slices.SortStableFunc(nodes, func(a, b flow.Node) int {
			return cmp.Compare(a.Index, b.Index)
		})

		fmt.Fprintf(bw, "\tsubgraph %s {\n\t\tstyle=invis;\n", quote(fmt.Sprintf("cluster_%d_%s", i, entity)))
		for _, n := range nodes {
			fmt.Fprintf(bw, "\t\t%s [label=%s, tooltip=%s, style=filled, fillcolor=%s, shape=box];\n",
				quote(nodeID(n)), quote(nodeLabel(n, len(nodes))), quote(n.Doc), quote(colors[entity]))
		}
		fmt.Fprintf(bw, "\t}\n")
	}

	for _, e := range g.Edges {
		fmt.Fprintf(bw, "\t%s -> %s [arrowhead=open, tailport=%s];\n",
			quote(string(e.From)), quote(string(e.To)), tailport)
	}
	fmt.Fprintf(bw, "}\n")
	return bw.Flush()
}

// String renders g as DOT.
func String(g *flow.Graph, opts Options) (string, error) {
	var sb strings.Builder
	if err := Write(&sb, g, opts); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func nodeID(n flow.Node) string {
	return string(n.Key)
}

// nodeLabel names the instance; the label is shown only for entities with
// several instances.
func nodeLabel(n flow.Node, count int) string {
	if count <= 1 || n.Label == n.Entity {
		return n.Entity
	}
	return n.Entity + "\n" + n.Label
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}
