// Package catalog maps a folder of named sample files onto the MIDI keyboard.
//
// File names follow NOTE_VELOCITY_RR[_anything].ext, e.g. "G#6_040_02.wav".
// A Catalog groups the files into per-note velocity layers, assigns each layer
// a contiguous velocity range and lets notes without samples borrow the
// nearest higher note that has them.
package catalog

import (
	"sort"
	"time"
)

const (
	// OwnSamples is the Fallback value of a note that has its own layers.
	OwnSamples = -1
	// Unavailable is the Fallback value of a note with no samples at or above it.
	Unavailable = -2
)

// SampleFile describes one audio file of the catalog.
type SampleFile struct {
	ID          int // index into Catalog.Samples
	Path        string
	NativeNote  int
	Velocity    int
	RoundRobin  int
	Layer       int // velocity layer index within NativeNote
	SampleRate  float64
	Channels    int
	TotalFrames int64
	SizeBytes   int64
	ModTime     time.Time
}

// VelocityLayer holds the samples recorded at one velocity.
type VelocityLayer struct {
	Velocity   int
	RangeStart int
	RangeEnd   int
	Samples    []*SampleFile // ascending round-robin index
}

// NoteMapping is the per-note entry of the catalog.
type NoteMapping struct {
	Note     int
	Layers   []VelocityLayer
	Fallback int // OwnSamples, Unavailable or the note whose layers are used
}

// Catalog is immutable once built.
type Catalog struct {
	Folder  string
	Samples []*SampleFile

	notes         [128]NoteMapping
	maxLayers     int
	maxRoundRobin int
	lowest        int
	highest       int
}

// Build groups files into a Catalog. Files are ordered by path first so the
// result does not depend on directory listing order; when two files claim the
// same note, velocity and round-robin index, the first one wins.
func Build(folder string, files []SampleFile) *Catalog {
	c := &Catalog{Folder: folder, lowest: -1, highest: -1}

	sorted := make([]SampleFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	type key struct{ note, vel, rr int }
	seen := make(map[key]bool, len(sorted))
	byNote := make(map[int]map[int][]*SampleFile)

	for i := range sorted {
		f := sorted[i]
		if f.NativeNote < 0 || f.NativeNote > 127 || f.Velocity < 1 || f.Velocity > 127 || f.RoundRobin < 1 {
			continue
		}
		k := key{f.NativeNote, f.Velocity, f.RoundRobin}
		if seen[k] {
			continue
		}
		seen[k] = true

		sf := new(SampleFile)
		*sf = f
		sf.ID = len(c.Samples)
		c.Samples = append(c.Samples, sf)

		layers := byNote[f.NativeNote]
		if layers == nil {
			layers = make(map[int][]*SampleFile)
			byNote[f.NativeNote] = layers
		}
		layers[f.Velocity] = append(layers[f.Velocity], sf)
		if f.RoundRobin > c.maxRoundRobin {
			c.maxRoundRobin = f.RoundRobin
		}
	}

	for n := 0; n < 128; n++ {
		c.notes[n] = NoteMapping{Note: n, Fallback: Unavailable}
		byVel := byNote[n]
		if len(byVel) == 0 {
			continue
		}

		vels := make([]int, 0, len(byVel))
		for v := range byVel {
			vels = append(vels, v)
		}
		sort.Ints(vels)

		layers := make([]VelocityLayer, len(vels))
		prevEnd := 0
		for i, v := range vels {
			samples := byVel[v]
			sort.SliceStable(samples, func(a, b int) bool { return samples[a].RoundRobin < samples[b].RoundRobin })
			for _, s := range samples {
				s.Layer = i
			}
			layers[i] = VelocityLayer{Velocity: v, RangeStart: prevEnd + 1, RangeEnd: v, Samples: samples}
			prevEnd = v
		}

		c.notes[n].Layers = layers
		c.notes[n].Fallback = OwnSamples
		if len(layers) > c.maxLayers {
			c.maxLayers = len(layers)
		}
		if c.lowest < 0 {
			c.lowest = n
		}
		c.highest = n
	}

	next := Unavailable
	for n := 127; n >= 0; n-- {
		if c.notes[n].Fallback == OwnSamples {
			next = n
			continue
		}
		c.notes[n].Fallback = next
	}
	return c
}

// Len returns the number of samples in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Samples)
}

// Mapping returns the entry for note. Out-of-range notes yield an
// unavailable mapping.
func (c *Catalog) Mapping(note int) NoteMapping {
	if c == nil || note < 0 || note > 127 {
		return NoteMapping{Note: note, Fallback: Unavailable}
	}
	return c.notes[note]
}

// source returns the mapping whose layers serve note, or nil.
func (c *Catalog) source(note int) *NoteMapping {
	if c == nil || note < 0 || note > 127 {
		return nil
	}
	m := &c.notes[note]
	switch m.Fallback {
	case OwnSamples:
		return m
	case Unavailable:
		return nil
	default:
		return &c.notes[m.Fallback]
	}
}

// IsNoteAvailable reports whether note can be played, directly or through
// its fallback.
func (c *Catalog) IsNoteAvailable(note int) bool { return c.source(note) != nil }

// HasOwnSamples reports whether note has layers of its own.
func (c *Catalog) HasOwnSamples(note int) bool {
	return c != nil && note >= 0 && note <= 127 && c.notes[note].Fallback == OwnSamples
}

// LowestNote returns the lowest note with its own samples, or -1.
func (c *Catalog) LowestNote() int {
	if c == nil {
		return -1
	}
	return c.lowest
}

// HighestNote returns the highest note with its own samples, or -1.
func (c *Catalog) HighestNote() int {
	if c == nil {
		return -1
	}
	return c.highest
}

// MaxLayers returns the largest layer count of any note.
func (c *Catalog) MaxLayers() int {
	if c == nil {
		return 0
	}
	return c.maxLayers
}

// MaxRoundRobin returns the largest round-robin index in the catalog.
func (c *Catalog) MaxRoundRobin() int {
	if c == nil {
		return 0
	}
	return c.maxRoundRobin
}

// Velocities returns the recorded velocities serving note, ascending.
func (c *Catalog) Velocities(note int) []int {
	m := c.source(note)
	if m == nil {
		return nil
	}
	out := make([]int, len(m.Layers))
	for i, l := range m.Layers {
		out[i] = l.Velocity
	}
	return out
}

// MaxLayersInRange returns the largest layer count of the notes in
// [start, end), following fallbacks.
func (c *Catalog) MaxLayersInRange(start, end int) int {
	best := 0
	for n := max(start, 0); n < min(end, 128); n++ {
		if m := c.source(n); m != nil && len(m.Layers) > best {
			best = len(m.Layers)
		}
	}
	return best
}

// LayerIndex returns the velocity layer that plays velocity on note, or -1
// if the note is unavailable. With a limit below the note's layer count the
// whole velocity range is spread proportionally over the lowest limit
// layers; otherwise the layer whose range contains velocity is chosen and
// velocities above the top range use the top layer. limit <= 0 means no
// limit.
func (c *Catalog) LayerIndex(note, velocity, limit int) int {
	m := c.source(note)
	if m == nil {
		return -1
	}
	return layerIndex(m.Layers, velocity, limit)
}

func layerIndex(layers []VelocityLayer, velocity, limit int) int {
	n := len(layers)
	if n == 0 {
		return -1
	}
	velocity = min(max(velocity, 1), 127)
	if limit > 0 && limit < n {
		return (velocity - 1) * limit / 127
	}
	for i := range layers {
		if velocity >= layers[i].RangeStart && velocity <= layers[i].RangeEnd {
			return i
		}
	}
	return n - 1
}

// Resolve picks the sample for a note-on. The layer follows LayerIndex. In
// that layer the sample with the requested round-robin index is used when
// present; otherwise the request is wrapped over the samples whose index is
// within rrLimit (all samples when none are). Limits <= 0 mean no limit.
// Resolve does not allocate.
func (c *Catalog) Resolve(note, velocity, roundRobin, layerLimit, rrLimit int) *SampleFile {
	m := c.source(note)
	if m == nil {
		return nil
	}
	li := layerIndex(m.Layers, velocity, layerLimit)
	if li < 0 {
		return nil
	}
	samples := m.Layers[li].Samples
	if len(samples) == 0 {
		return nil
	}

	inScope := 0
	for _, s := range samples {
		if s.RoundRobin == roundRobin {
			return s
		}
		if rrLimit <= 0 || s.RoundRobin <= rrLimit {
			inScope++
		}
	}

	pick := max(roundRobin-1, 0)
	if inScope == 0 {
		return samples[pick%len(samples)]
	}
	pick %= inScope
	for _, s := range samples {
		if rrLimit > 0 && s.RoundRobin > rrLimit {
			continue
		}
		if pick == 0 {
			return s
		}
		pick--
	}
	return samples[0]
}
