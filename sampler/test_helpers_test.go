package sampler

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/algo-sampler/audiofile"
)

func rampValue(i int) float32 { return float32(i%1000) / 2000 }

func rampData(frames int) []float32 {
	out := make([]float32, frames)
	for i := range out {
		out[i] = rampValue(i)
	}
	return out
}

func sineData(frames int, freq, sampleRate float64) []float32 {
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func writeTempSample(t *testing.T, dir, name string, data []float32, sampleRate, channels int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audiofile.WriteWAV(path, data, sampleRate, channels); err != nil {
		t.Fatalf("write sample %s: %v", name, err)
	}
	return path
}

// writeLibrary writes one short mono ramp per name.
func writeLibrary(t *testing.T, frames int, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	data := rampData(frames)
	for _, name := range names {
		writeTempSample(t, dir, name, data, 48000, 1)
	}
	return dir
}

func fastParams() *Params {
	p := NewDefaultParams()
	p.ADSR = ADSR{Attack: 0.001, Decay: 0.001, Sustain: 1, Release: 0.05}
	return p
}

func newTestEngine(t *testing.T, p *Params, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(p, opts...)
	e.Prepare(48000, 256)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.WaitIdle(ctx); err != nil {
		t.Fatalf("loader did not finish: %v", err)
	}
}

func loadLibrary(t *testing.T, e *Engine, dir string) {
	t.Helper()
	if err := e.LoadCatalog(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	waitIdle(t, e)
	if !e.IsLoaded() {
		t.Fatalf("expected library to load, state=%s err=%v", e.LoadingState(), e.LastLoadError())
	}
}

// newestVoice returns the active voice with the highest start sequence.
func newestVoice(e *Engine) *Voice {
	var best *Voice
	for _, v := range e.voices {
		if v.IsActive() && (best == nil || v.startSeq > best.startSeq) {
			best = v
		}
	}
	return best
}

func stereoBlock(frames int) [][]float32 {
	return [][]float32{make([]float32, frames), make([]float32, frames)}
}
