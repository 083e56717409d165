package sampler

import (
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-sampler/audiofile"
	"github.com/cwbudde/algo-sampler/dsp"
)

// scratchFrames bounds how many source frames a voice fetches per span.
const scratchFrames = 512

// noteStart carries everything needed to begin playback on a voice.
type noteStart struct {
	sample     *Sample
	head       *headBuffer
	note       int // key as received, used for note-off matching
	playedNote int // key after transpose, sets the pitch
	velocity   float32
	roundRobin int
	seq        uint64
	release    bool // note-off arrived before the start
}

// Voice plays one sample with an ADSR envelope and linear-interpolating
// resampling.
//
// Everything except the streaming session is owned by the render thread.
// The session (ring buffer, cursors, path, generation) is shared with the
// disk streamer: geometry and generation change under streamMu, sample data
// flows through the ring's atomic cursors.
type Voice struct {
	index      int
	sampleRate float64
	quickFade  float32
	underruns  *atomic.Int64

	active atomic.Bool

	sample     *Sample
	src        Source
	resident   residentSource
	stream     streamingSource
	note       int
	playedNote int
	velocity   float32
	roundRobin int
	startSeq   uint64
	pos        float64
	ratio      float64
	env        envelope
	scratch    []float32
	pending    noteStart
	hasPending bool

	streamMu  sync.Mutex
	gen       uint64
	streaming bool
	path      string
	total     int64
	lowWater  int64
	ring      *ringBuffer
	ended     atomic.Bool
	failed    atomic.Bool
}

func newVoice(index int, ringSamples int, underruns *atomic.Int64) *Voice {
	v := &Voice{
		index:      index,
		sampleRate: 44100,
		quickFade:  0.010,
		underruns:  underruns,
		scratch:    make([]float32, scratchFrames*audiofile.MaxChannels),
		ring:       newRingBuffer(ringSamples),
	}
	v.env.setParams(NewDefaultParams().ADSR)
	v.env.setSampleRate(v.sampleRate)
	v.ended.Store(true)
	return v
}

func (v *Voice) prepare(sampleRate float64, quickFade float32) {
	v.sampleRate = sampleRate
	v.quickFade = quickFade
	v.env.setSampleRate(sampleRate)
}

// IsActive reports whether the voice is producing sound.
func (v *Voice) IsActive() bool { return v.active.Load() }

// Note returns the key that started the voice.
func (v *Voice) Note() int { return v.note }

// StartSeq returns the engine sequence number assigned at note-on.
func (v *Voice) StartSeq() uint64 { return v.startSeq }

// RoundRobin returns the round-robin index the voice was started with.
func (v *Voice) RoundRobin() int { return v.roundRobin }

// Sample returns the sample being played, or nil.
func (v *Voice) Sample() *Sample { return v.sample }

// Stage returns the current envelope stage.
func (v *Voice) Stage() EnvelopeStage { return v.env.stage }

// Level returns the current envelope level.
func (v *Voice) Level() float32 { return v.env.level }

// IsFading reports whether a quick fade-out is running.
func (v *Voice) IsFading() bool { return v.env.fading }

// IsReleasing reports whether the envelope is in its release stage.
func (v *Voice) IsReleasing() bool { return v.env.stage == StageRelease && !v.env.fading }

// PitchRatio returns the source frames consumed per output frame.
func (v *Voice) PitchRatio() float64 { return v.ratio }

func (v *Voice) setADSR(p ADSR) { v.env.setParams(p) }

// start begins playback. Any previous playback must have finished.
func (v *Voice) start(ns noteStart) {
	ns.sample.refs.Add(1)
	v.sample = ns.sample
	v.note = ns.note
	v.playedNote = ns.playedNote
	v.velocity = ns.velocity
	v.roundRobin = ns.roundRobin
	v.startSeq = ns.seq
	v.pos = 0
	v.ratio = pitchRatio(ns.head.rate, v.sampleRate, ns.playedNote, ns.sample.File.NativeNote)
	v.env.trigger()
	v.env.releaseAtPeak = ns.release

	if ns.sample.Resident {
		v.resident = residentSource{head: ns.head}
		v.src = &v.resident
	} else {
		total := max(ns.sample.File.TotalFrames, ns.head.frames)
		v.streamMu.Lock()
		v.gen++
		v.ring.reset(ns.head.channels, ns.head.frames)
		v.path = ns.sample.File.Path
		v.total = total
		v.lowWater = v.ring.frames * 3 / 4
		v.streaming = ns.head.frames < total
		v.ended.Store(!v.streaming)
		v.failed.Store(false)
		v.streamMu.Unlock()

		v.stream = streamingSource{head: ns.head, ring: v.ring, total: total, ended: &v.ended}
		v.src = &v.stream
	}
	v.active.Store(true)
}

// deferStart queues ns to begin as soon as the current fade finishes.
func (v *Voice) deferStart(ns noteStart) {
	if v.hasPending {
		v.pending.sample.refs.Add(-1)
	}
	ns.sample.refs.Add(1)
	v.pending = ns
	v.hasPending = true
}

// releasePending marks a queued start for note as already released.
func (v *Voice) releasePending(note int) {
	if v.hasPending && v.pending.note == note {
		v.pending.release = true
	}
}

func (v *Voice) pendingNote() (int, bool) { return v.pending.note, v.hasPending }

// stop releases the voice. allowTail false silences it immediately and
// drops any queued start.
func (v *Voice) stop(allowTail bool) {
	if !allowTail {
		v.clearPending()
		if v.active.Load() {
			v.finish()
		}
		return
	}
	if v.active.Load() && !v.env.fading {
		v.env.release(v.env.params.Release)
		if !v.env.active() {
			v.finish()
		}
	}
}

// stopWithRelease releases over seconds instead of the configured release.
func (v *Voice) stopWithRelease(seconds float32) {
	if !v.active.Load() || v.env.fading {
		return
	}
	v.env.release(seconds)
	if !v.env.active() {
		v.finish()
	}
}

// startQuickFadeOut fades the voice to silence over the quick-fade time.
func (v *Voice) startQuickFadeOut() {
	if !v.active.Load() {
		return
	}
	v.env.quickFade(v.quickFade)
	if !v.env.active() {
		v.finish()
	}
}

func (v *Voice) clearPending() {
	if v.hasPending {
		v.pending.sample.refs.Add(-1)
		v.pending = noteStart{}
		v.hasPending = false
	}
}

// finish returns the voice to idle and starts a queued note if there is one.
func (v *Voice) finish() {
	v.active.Store(false)
	v.streamMu.Lock()
	v.gen++
	v.streaming = false
	v.ended.Store(true)
	v.streamMu.Unlock()

	if v.sample != nil {
		v.sample.refs.Add(-1)
		v.sample = nil
	}
	v.src = nil
	v.resident = residentSource{}
	v.stream = streamingSource{}
	v.env.reset()

	if v.hasPending {
		ns := v.pending
		v.pending = noteStart{}
		v.hasPending = false
		v.start(ns)
		ns.sample.refs.Add(-1) // start took its own reference
	}
}

// render mixes n frames into out starting at frame offset start.
func (v *Voice) render(out [][]float32, start, n int) {
	done := 0
	for done < n && v.active.Load() {
		k, more := v.renderSpan(out, start+done, n-done)
		done += k
		if !more {
			return
		}
	}
}

// renderSpan renders at most n frames from one scratch fetch. It returns the
// frames produced and false when the source stalled.
func (v *Voice) renderSpan(out [][]float32, offset, n int) (int, bool) {
	src := v.src
	ch := src.Channels()
	maxFrames := len(v.scratch) / ch

	m := n
	if span := int(float64(maxFrames-3) / v.ratio); span < m {
		m = max(span, 1)
	}
	first := int64(v.pos)
	need := int(int64(v.pos+float64(m-1)*v.ratio)-first) + 3
	need = min(need, maxFrames)
	got := src.ReadFrames(v.scratch, first, need)

	k := 0
	for ; k < m; k++ {
		i0 := int64(v.pos)
		idx := int(i0 - first)
		if idx+1 >= got {
			break
		}
		frac := float32(v.pos - float64(i0))
		gain := v.env.next() * v.velocity
		a := v.scratch[idx*ch : idx*ch+ch]
		b := v.scratch[(idx+1)*ch : (idx+1)*ch+ch]
		for c := range out {
			sc := min(c, ch-1)
			out[c][offset+k] += dsp.Lerp(a[sc], b[sc], frac) * gain
		}
		v.pos += v.ratio

		if !v.env.active() {
			v.finish()
			return k + 1, true
		}
	}
	v.consumed()

	if k == m || got == need {
		return k, true
	}
	if src.Exhausted(int64(v.pos) + 1) {
		if v.failed.Load() {
			v.underruns.Add(1)
		}
		v.finish()
		return k, true
	}
	v.underruns.Add(1)
	return k, false
}

// consumed tells the streamer which frames the voice no longer needs.
func (v *Voice) consumed() {
	if s, ok := v.src.(*streamingSource); ok {
		s.ring.consume(int64(v.pos))
	}
}

// needsMoreData reports whether the streamer should refill this voice.
func (v *Voice) needsMoreData() bool {
	if !v.active.Load() {
		return false
	}
	v.streamMu.Lock()
	defer v.streamMu.Unlock()
	return v.wantsData()
}

// wantsData requires streamMu.
func (v *Voice) wantsData() bool {
	if !v.streaming || v.ended.Load() {
		return false
	}
	w := v.ring.write.Load()
	if w >= v.total {
		return false
	}
	return w-v.ring.read.Load() < v.lowWater
}

type streamRequest struct {
	gen      uint64
	path     string
	channels int
	from     int64
	frames   int
}

// nextRequest describes the next chunk the streamer should decode.
func (v *Voice) nextRequest(maxFrames int) (streamRequest, bool) {
	v.streamMu.Lock()
	defer v.streamMu.Unlock()
	if !v.wantsData() {
		return streamRequest{}, false
	}
	w := v.ring.write.Load()
	n := min(v.ring.writable(), v.total-w, int64(maxFrames))
	if n <= 0 {
		return streamRequest{}, false
	}
	return streamRequest{
		gen:      v.gen,
		path:     v.path,
		channels: v.ring.channels,
		from:     w,
		frames:   int(n),
	}, true
}

// commit appends decoded frames to the ring if the session is still gen.
func (v *Voice) commit(gen uint64, data []float32, frames int, end, failed bool) bool {
	v.streamMu.Lock()
	defer v.streamMu.Unlock()
	if gen != v.gen {
		return false
	}
	if frames > 0 {
		v.ring.push(data, int(min(int64(frames), v.ring.writable())))
	}
	if failed {
		v.failed.Store(true)
	}
	if end || v.ring.write.Load() >= v.total {
		v.ended.Store(true)
	}
	return true
}
