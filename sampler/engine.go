// Package sampler is a streaming, velocity-layered, round-robin sample
// player.
//
// An Engine loads a folder of samples named NOTE_VELOCITY_RR.ext in the
// background, keeps a short head of every in-scope sample in memory and
// streams the remainder from disk on a dedicated goroutine. NoteOn, NoteOff
// and RenderBlock belong to the audio thread and never block on disk I/O or
// on the loader; everything else may be called from any goroutine.
package sampler

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-sampler/audiofile"
	"github.com/cwbudde/algo-sampler/dsp"
	"github.com/cwbudde/algo-sampler/internal/probecache"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("sampler: engine closed")

// Engine owns the voices, the disk streamer and the published catalog.
type Engine struct {
	params Params
	logger *slog.Logger
	open   audiofile.Opener

	voices   []*Voice
	streamer *DiskStreamer
	preload  preloadCache
	probes   *probecache.Cache

	snap     atomic.Pointer[snapshot]
	hostRate atomic.Uint64 // float64 bits

	adsr       atomic.Pointer[ADSR]
	preloadKB  atomic.Int32
	layerLimit atomic.Int32
	rrLimit    atomic.Int32
	perNoteCap atomic.Int32
	transpose  atomic.Int32
	offset     atomic.Int32

	stopReq      atomic.Uint64
	preloadBytes atomic.Int64
	totalBytes   atomic.Int64

	// audio thread only
	seq         uint64
	rrNext      int
	seenStop    uint64
	appliedADSR *ADSR

	loader loader

	infoMu  sync.Mutex
	folder  string
	lastErr error
}

// NewEngine creates an engine. A nil params uses NewDefaultParams.
func NewEngine(params *Params, opts ...Option) *Engine {
	p := params.normalized()
	e := &Engine{
		params: p,
		logger: slog.New(slog.DiscardHandler),
		open:   audiofile.Open,
		rrNext: 1,
	}
	for _, opt := range opts {
		opt(e)
	}

	adsr := p.ADSR
	e.adsr.Store(&adsr)
	e.preloadKB.Store(int32(p.PreloadSizeKB))
	e.layerLimit.Store(int32(p.VelocityLayerLimit))
	e.rrLimit.Store(int32(p.RoundRobinLimit))
	e.perNoteCap.Store(int32(p.MaxVoicesPerNote))
	e.transpose.Store(int32(p.Transpose))
	e.offset.Store(int32(p.SampleOffset))
	e.hostRate.Store(math.Float64bits(44100))

	e.preload = preloadCache{open: e.open, logger: e.logger}
	e.streamer = NewDiskStreamer(p.MaxVoices, p.StreamChunkFrames, e.open, e.logger)

	ringSamples := p.StreamChunkFrames * p.RingChunks * 2
	e.voices = make([]*Voice, p.MaxVoices)
	for i := range e.voices {
		v := newVoice(i, ringSamples, &e.streamer.underruns)
		v.prepare(44100, p.QuickFade)
		e.voices[i] = v
	}
	e.registerVoices()

	if p.ProbeCachePath != "" {
		c, err := probecache.Open(p.ProbeCachePath)
		if err != nil {
			e.logger.Warn("probe cache disabled", "path", p.ProbeCachePath, "err", err)
		} else {
			e.probes = c
		}
	}

	e.loader.init()
	return e
}

// Prepare sets the host sample rate and starts the disk streamer. It must
// not run concurrently with RenderBlock.
func (e *Engine) Prepare(sampleRate float64, blockSize int) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	e.hostRate.Store(math.Float64bits(sampleRate))
	for _, v := range e.voices {
		v.prepare(sampleRate, e.params.QuickFade)
	}
	e.streamer.Start()
	e.logger.Debug("engine prepared", "sample_rate", sampleRate, "block_size", blockSize)
}

// SampleRate returns the host sample rate.
func (e *Engine) SampleRate() float64 { return math.Float64frombits(e.hostRate.Load()) }

// Close stops loading and streaming. The audio thread must have stopped.
func (e *Engine) Close() error {
	if !e.loader.close() {
		return nil
	}
	e.streamer.Stop()
	e.streamer.UnregisterAll()
	for _, v := range e.voices {
		v.stop(false)
	}
	e.snap.Store(nil)
	if e.probes != nil {
		return e.probes.Close()
	}
	return nil
}

func (e *Engine) registerVoices() {
	for i, v := range e.voices {
		e.streamer.Register(i, v)
	}
}

// sync applies requests made from other goroutines. Audio thread only.
func (e *Engine) sync() {
	if g := e.stopReq.Load(); g != e.seenStop {
		e.seenStop = g
		for _, v := range e.voices {
			v.stop(false)
		}
	}
	if a := e.adsr.Load(); a != e.appliedADSR {
		e.appliedADSR = a
		for _, v := range e.voices {
			v.setADSR(*a)
		}
	}
}

// NoteOn starts note with the configured sample offset.
func (e *Engine) NoteOn(note, velocity int) {
	e.NoteOnOffset(note, velocity, int(e.offset.Load()))
}

// NoteOnOffset starts note, choosing the sample sampleOffset semitones away
// from the played note. Velocity is clamped to 1..127. Unavailable notes and
// samples without data in memory are ignored.
func (e *Engine) NoteOnOffset(note, velocity, sampleOffset int) {
	if note < 0 || note > 127 {
		return
	}
	e.sync()

	snap := e.snap.Load()
	rr := e.nextRoundRobin(snap)
	if snap == nil {
		return
	}

	velocity = clampInt(velocity, 1, 127)
	played := clampInt(note+int(e.transpose.Load()), 0, 127)
	sampleNote := clampInt(played+sampleOffset, 0, 127)

	s := snap.resolve(sampleNote, velocity, rr, e.effectiveLayerLimit(snap), e.effectiveRRLimit(snap))
	if s == nil {
		return
	}
	head := s.head.Load()
	if head == nil {
		return
	}

	for _, v := range e.voices {
		if v.IsActive() && v.note == note && !v.env.fading && v.env.stage != StageRelease {
			v.stopWithRelease(e.params.SameNoteRelease)
		}
	}
	if limit := int(e.perNoteCap.Load()); limit > 0 {
		e.enforceNoteCap(note, limit)
	}

	e.seq++
	e.allocate(noteStart{
		sample:     s,
		head:       head,
		note:       note,
		playedNote: played,
		velocity:   float32(velocity) / 127,
		roundRobin: rr,
		seq:        e.seq,
	})
}

// enforceNoteCap fades the oldest voices of note until fewer than limit
// remain audible.
func (e *Engine) enforceNoteCap(note, limit int) {
	for {
		count := 0
		var oldest *Voice
		for _, v := range e.voices {
			if !v.IsActive() || v.note != note || v.env.fading {
				continue
			}
			count++
			if oldest == nil || v.startSeq < oldest.startSeq {
				oldest = v
			}
		}
		if count < limit || oldest == nil {
			return
		}
		oldest.startQuickFadeOut()
	}
}

// allocate places ns on a voice: an idle one, else a fading one without a
// queued note (quietest first), else the oldest sounding voice is faded out
// and ns queued behind it. As a last resort the oldest voice is cut.
func (e *Engine) allocate(ns noteStart) {
	for _, v := range e.voices {
		if !v.IsActive() {
			v.start(ns)
			return
		}
	}

	var best *Voice
	for _, v := range e.voices {
		if v.env.fading && !v.hasPending && (best == nil || v.env.level < best.env.level) {
			best = v
		}
	}
	if best != nil {
		best.deferStart(ns)
		return
	}

	for _, v := range e.voices {
		if !v.env.fading && (best == nil || v.startSeq < best.startSeq) {
			best = v
		}
	}
	if best != nil {
		best.startQuickFadeOut()
		if best.IsActive() {
			best.deferStart(ns)
		} else {
			best.start(ns)
		}
		return
	}

	for _, v := range e.voices {
		if best == nil || v.startSeq < best.startSeq {
			best = v
		}
	}
	best.stop(false)
	best.start(ns)
}

func (e *Engine) nextRoundRobin(snap *snapshot) int {
	limit := e.effectiveRRLimit(snap)
	if e.rrNext < 1 || e.rrNext > limit {
		e.rrNext = 1
	}
	rr := e.rrNext
	e.rrNext = rr%limit + 1
	return rr
}

// NoteOff releases every voice started by note and marks queued starts of
// note as released.
func (e *Engine) NoteOff(note int) {
	e.sync()
	for _, v := range e.voices {
		v.releasePending(note)
		if v.IsActive() && v.note == note && v.env.stage != StageRelease {
			v.stop(true)
		}
	}
}

// StopAllVoices releases every voice, or silences them at once when
// allowTail is false. Audio thread only.
func (e *Engine) StopAllVoices(allowTail bool) {
	e.sync()
	for _, v := range e.voices {
		if !allowTail {
			v.stop(false)
			continue
		}
		v.clearPending()
		v.stop(true)
	}
}

// RenderBlock clears out and mixes every active voice into it. All channel
// slices must have the same length.
func (e *Engine) RenderBlock(out [][]float32) {
	dsp.Clear(out)
	if len(out) == 0 {
		return
	}
	e.sync()
	n := len(out[0])
	for _, v := range e.voices {
		if v.IsActive() {
			v.render(out, 0, n)
		}
	}
}

// SetADSR changes the envelope. Values are clamped.
func (e *Engine) SetADSR(a ADSR) {
	c := a.Clamped()
	e.adsr.Store(&c)
}

// ADSR returns the current envelope settings.
func (e *Engine) ADSR() ADSR { return *e.adsr.Load() }

// SetPreloadSizeKB changes the head size (clamped to 32..1024) and reloads
// heads in the background.
func (e *Engine) SetPreloadSizeKB(kb int) {
	kb = clampPreloadKB(kb)
	if e.preloadKB.Swap(int32(kb)) != int32(kb) {
		e.scheduleRescan()
	}
}

// PreloadSizeKB returns the head size.
func (e *Engine) PreloadSizeKB() int { return int(e.preloadKB.Load()) }

// SetVelocityLayerLimit limits playback and preloading to the lowest n
// layers of each note. n <= 0 restores all layers.
func (e *Engine) SetVelocityLayerLimit(n int) {
	n = max(n, 0)
	if e.layerLimit.Swap(int32(n)) != int32(n) {
		e.scheduleRescan()
	}
}

// VelocityLayerLimit returns the effective layer limit.
func (e *Engine) VelocityLayerLimit() int { return e.effectiveLayerLimit(e.snap.Load()) }

// SetRoundRobinLimit limits playback and preloading to round-robin indices
// 1..n. n <= 0 restores all.
func (e *Engine) SetRoundRobinLimit(n int) {
	n = max(n, 0)
	if e.rrLimit.Swap(int32(n)) != int32(n) {
		e.scheduleRescan()
	}
}

// RoundRobinLimit returns the effective round-robin limit.
func (e *Engine) RoundRobinLimit() int { return e.effectiveRRLimit(e.snap.Load()) }

func (e *Engine) effectiveLayerLimit(snap *snapshot) int {
	if snap == nil {
		return 0
	}
	maxLayers := snap.cat.MaxLayers()
	if l := int(e.layerLimit.Load()); l > 0 && l < maxLayers {
		return l
	}
	return maxLayers
}

func (e *Engine) effectiveRRLimit(snap *snapshot) int {
	maxRR := 1
	if snap != nil {
		maxRR = max(snap.cat.MaxRoundRobin(), 1)
	}
	if l := int(e.rrLimit.Load()); l > 0 && l < maxRR {
		return l
	}
	return maxRR
}

// SetMaxVoicesPerNote caps simultaneous audible voices per key. 0 disables.
func (e *Engine) SetMaxVoicesPerNote(n int) { e.perNoteCap.Store(int32(max(n, 0))) }

// SetTranspose shifts played notes by semitones.
func (e *Engine) SetTranspose(semitones int) {
	e.transpose.Store(int32(clampInt(semitones, -MaxTranspose, MaxTranspose)))
}

// Transpose returns the note shift in semitones.
func (e *Engine) Transpose() int { return int(e.transpose.Load()) }

// SetSampleOffset picks samples recorded semitones away from the played
// note.
func (e *Engine) SetSampleOffset(semitones int) {
	e.offset.Store(int32(clampInt(semitones, -MaxSampleOffset, MaxSampleOffset)))
}

// SampleOffset returns the sample offset in semitones.
func (e *Engine) SampleOffset() int { return int(e.offset.Load()) }

// ActiveVoiceCount returns the number of sounding voices.
func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for _, v := range e.voices {
		if v.IsActive() {
			n++
		}
	}
	return n
}

// StreamingVoiceCount returns the number of voices waiting on disk data.
func (e *Engine) StreamingVoiceCount() int {
	n := 0
	for _, v := range e.voices {
		if v.needsMoreData() {
			n++
		}
	}
	return n
}

// MaxVoices returns the polyphony.
func (e *Engine) MaxVoices() int { return len(e.voices) }

// UnderrunCount returns the number of render shortfalls since the last
// reset or load.
func (e *Engine) UnderrunCount() int64 { return e.streamer.UnderrunCount() }

// ResetUnderrunCount zeroes the underrun counter.
func (e *Engine) ResetUnderrunCount() { e.streamer.ResetUnderrunCount() }

// DiskThroughput returns the smoothed streaming read rate in MB/s.
func (e *Engine) DiskThroughput() float64 { return e.streamer.Throughput() }

// PreloadMemoryBytes returns the bytes of sample data held in memory.
func (e *Engine) PreloadMemoryBytes() int64 { return e.preloadBytes.Load() }

// TotalFileSizeBytes returns the summed on-disk size of the library files.
func (e *Engine) TotalFileSizeBytes() int64 { return e.totalBytes.Load() }
