package main

import (
	"math"
	"time"

	"github.com/cwbudde/algo-sampler/dsp"
	"github.com/cwbudde/algo-sampler/sampler"
)

const streamWaitLimit = 2 * time.Second

// renderScore plays s through e and returns interleaved output. Event times
// are sample-accurate: blocks are split at event frames. Offline rendering
// runs faster than the disk streamer, so each block first waits until every
// streaming voice has data buffered.
func renderScore(e *sampler.Engine, s *score, sampleRate, channels, blockSize int) []float32 {
	total := max(int(s.length*float64(sampleRate)), 1)
	out := make([]float32, 0, total*channels)
	block := dsp.MakeChannels(channels, blockSize)
	frame := make([]float32, blockSize*channels)
	views := make([][]float32, channels)

	next := 0
	rendered := 0
	for rendered < total {
		for next < len(s.events) && frameOf(s.events[next].at, sampleRate) <= rendered {
			apply(e, s.events[next])
			next++
		}

		n := min(blockSize, total-rendered)
		if next < len(s.events) {
			n = min(n, frameOf(s.events[next].at, sampleRate)-rendered)
		}
		waitForStreams(e)

		for c := range views {
			views[c] = block[c][:n]
		}
		e.RenderBlock(views)
		dsp.Interleave(frame[:n*channels], views)
		out = append(out, frame[:n*channels]...)
		rendered += n
	}
	return out
}

func frameOf(seconds float64, sampleRate int) int {
	return int(seconds*float64(sampleRate) + 0.5)
}

func apply(e *sampler.Engine, ev event) {
	switch ev.kind {
	case eventNoteOn:
		e.NoteOn(ev.note, ev.velocity)
	case eventNoteOff:
		e.NoteOff(ev.note)
	case eventStopAll:
		e.StopAllVoices(true)
	}
}

func waitForStreams(e *sampler.Engine) {
	deadline := time.Now().Add(streamWaitLimit)
	for e.StreamingVoiceCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(200 * time.Microsecond)
	}
}

// applyGainDB scales interleaved output in place.
func applyGainDB(samples []float32, gainDB float64) {
	dsp.ApplyGain(samples, float32(math.Pow(10, gainDB/20)))
}

// trimTail drops trailing blocks whose RMS stays below thresholdDB.
func trimTail(samples []float32, channels, blockSize int, thresholdDB float64) []float32 {
	limit := math.Pow(10, thresholdDB/20)
	step := blockSize * channels
	end := len(samples) - len(samples)%channels
	for end > 0 {
		start := max(end-step, 0)
		blk := samples[start:end]
		if math.Sqrt(float64(dsp.Energy(blk))/float64(len(blk))) >= limit {
			break
		}
		end = start
	}
	return samples[:end]
}
