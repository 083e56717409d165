package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/cwbudde/algo-sampler/catalog"
)

var (
	ownColor      = color.New(color.FgGreen)
	fallbackColor = color.New(color.FgYellow)
	headerColor   = color.New(color.Bold)
)

type formatKey struct {
	rate     float64
	channels int
}

// writeReport prints a per-note overview of cat. Notes without samples of
// their own are listed only with showFallbacks.
func writeReport(w io.Writer, cat *catalog.Catalog, showFallbacks bool) {
	if cat.Len() == 0 {
		fmt.Fprintln(w, "No samples.")
		return
	}

	var size int64
	formats := map[formatKey]int{}
	for _, f := range cat.Samples {
		size += f.SizeBytes
		formats[formatKey{f.SampleRate, f.Channels}]++
	}

	headerColor.Fprintf(w, "Folder: %s\n", cat.Folder)
	fmt.Fprintf(w, "Samples: %d (%.1f MB), notes %s..%s, up to %d velocity layers and %d round robins\n",
		cat.Len(), float64(size)/(1024*1024),
		catalog.NoteName(cat.LowestNote()), catalog.NoteName(cat.HighestNote()),
		cat.MaxLayers(), cat.MaxRoundRobin())

	keys := make([]formatKey, 0, len(formats))
	for k := range formats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].rate != keys[j].rate {
			return keys[i].rate < keys[j].rate
		}
		return keys[i].channels < keys[j].channels
	})
	for _, k := range keys {
		fmt.Fprintf(w, "  %d x %.0f Hz, %d ch\n", formats[k], k.rate, k.channels)
	}
	fmt.Fprintln(w)

	headerColor.Fprintf(w, "%-5s %-6s %s\n", "NOTE", "FROM", "LAYERS")
	unavailable := 0
	for n := 0; n < 128; n++ {
		m := cat.Mapping(n)
		switch m.Fallback {
		case catalog.Unavailable:
			unavailable++
		case catalog.OwnSamples:
			ownColor.Fprintf(w, "%-5s %-6s %s\n", catalog.NoteName(n), "own", layerSummary(m.Layers))
		default:
			if showFallbacks {
				fallbackColor.Fprintf(w, "%-5s %-6s\n", catalog.NoteName(n), "->"+catalog.NoteName(m.Fallback))
			}
		}
	}
	fmt.Fprintf(w, "\n%d notes unavailable\n", unavailable)
}

// layerSummary renders layers as "velocity[start-end]xRR".
func layerSummary(layers []catalog.VelocityLayer) string {
	parts := make([]string, len(layers))
	for i, l := range layers {
		parts[i] = fmt.Sprintf("%d[%d-%d]x%d", l.Velocity, l.RangeStart, l.RangeEnd, len(l.Samples))
	}
	return strings.Join(parts, " ")
}
