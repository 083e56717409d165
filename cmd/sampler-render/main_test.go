package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/algo-sampler/analysis"
	"github.com/cwbudde/algo-sampler/audiofile"
	"github.com/cwbudde/algo-sampler/sampler"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "score.lua")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestLoadScriptSchedulesEvents(t *testing.T) {
	path := writeScript(t, `
for i = 0, 2 do
  note(i * 0.5, 60 + i, 90, 0.25)
end
on(2.0, "A4")
off(2.5, "A4")
stop(3.0)
`)
	s, err := loadScript(path)
	if err != nil {
		t.Fatalf("loadScript: %v", err)
	}
	if len(s.events) != 9 {
		t.Fatalf("unexpected event count: got=%d want=9", len(s.events))
	}
	for i := 1; i < len(s.events); i++ {
		if s.events[i].at < s.events[i-1].at {
			t.Fatalf("events not sorted at %d", i)
		}
	}
	if s.events[0].note != 60 || s.events[0].velocity != 90 || s.events[0].kind != eventNoteOn {
		t.Fatalf("unexpected first event: %+v", s.events[0])
	}
	if s.events[6].note != 69 || s.events[6].velocity != 100 {
		t.Fatalf("expected note name A4 with default velocity: %+v", s.events[6])
	}
	if s.length != 3.0 {
		t.Fatalf("unexpected length: got=%f want=3", s.length)
	}
}

func TestLoadScriptLength(t *testing.T) {
	s, err := loadScript(writeScript(t, `note(0, "C4") length(4)`))
	if err != nil {
		t.Fatalf("loadScript: %v", err)
	}
	if s.length != 4 {
		t.Fatalf("unexpected length: got=%f want=4", s.length)
	}
}

func TestLoadScriptErrors(t *testing.T) {
	for _, src := range []string{
		`note(0, "H9")`,
		`note(-1, 60)`,
		`-- nothing scheduled`,
		`note(0, `,
	} {
		if _, err := loadScript(writeScript(t, src)); err == nil {
			t.Fatalf("expected error for %q", src)
		}
	}
}

func TestParseNote(t *testing.T) {
	cases := map[string]int{"60": 60, "C4": 60, "a4": 69, "128": -1, "X1": -1}
	for in, want := range cases {
		if got := parseNote(in); got != want {
			t.Fatalf("parseNote(%q): got=%d want=%d", in, got, want)
		}
	}
}

func TestRenderScoreProducesSound(t *testing.T) {
	dir := t.TempDir()
	data := make([]float32, 48000)
	for i := range data {
		data[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	if err := audiofile.WriteWAV(filepath.Join(dir, "A4_100_01.wav"), data, 48000, 1); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	p := sampler.NewDefaultParams()
	p.PreloadSizeKB = 32
	e := sampler.NewEngine(p)
	defer e.Close()
	e.Prepare(48000, 256)
	if err := e.LoadCatalog(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.WaitIdle(ctx); err != nil || !e.IsLoaded() {
		t.Fatalf("library did not load: %v", e.LastLoadError())
	}

	sc := singleNote(69, 127, 0.5, 0.5)
	out := renderScore(e, sc, 48000, 2, 256)
	if len(out) != 48000*2 {
		t.Fatalf("unexpected output length: got=%d want=%d", len(out), 48000*2)
	}
	if e.UnderrunCount() != 0 {
		t.Fatalf("offline render must not underrun, got %d", e.UnderrunCount())
	}

	mono := analysis.MixDown(out, 2)
	freq, err := analysis.DominantFrequency(mono[:24000], 48000)
	if err != nil {
		t.Fatalf("pitch: %v", err)
	}
	if math.Abs(freq-440) > 5 {
		t.Fatalf("unexpected pitch: got=%f want=440", freq)
	}
	if analysis.RMS(mono[46000:]) > analysis.RMS(mono[:24000])*0.01 {
		t.Fatalf("expected release to decay by the end")
	}
}

func TestApplyGainDB(t *testing.T) {
	buf := []float32{0.5, -0.5, 0.25, 0}
	applyGainDB(buf, -6.0206)
	want := []float32{0.25, -0.25, 0.125, 0}
	for i := range buf {
		if math.Abs(float64(buf[i]-want[i])) > 1e-4 {
			t.Fatalf("sample %d: got=%f want=%f", i, buf[i], want[i])
		}
	}

	applyGainDB(buf, 0)
	if buf[0] != 0.25 {
		t.Fatalf("0 dB must leave the signal unchanged, got %f", buf[0])
	}
}

func TestTrimTail(t *testing.T) {
	const channels, block = 2, 64
	out := make([]float32, 1000*channels)
	for i := 0; i < 300*channels; i++ {
		out[i] = 0.5
	}
	for i := 300 * channels; i < len(out); i++ {
		out[i] = 1e-5
	}

	trimmed := trimTail(out, channels, block, -60)
	if len(trimmed)%channels != 0 {
		t.Fatalf("trim split a frame: %d samples", len(trimmed))
	}
	frames := len(trimmed) / channels
	if frames < 300 || frames > 300+block {
		t.Fatalf("unexpected trimmed length: %d frames", frames)
	}

	if got := trimTail(out, channels, block, -120); len(got) != len(out) {
		t.Fatalf("tail above threshold must be kept, got %d samples", len(got))
	}
	if got := trimTail(make([]float32, 100), channels, block, -60); len(got) != 0 {
		t.Fatalf("silence must trim to nothing, got %d samples", len(got))
	}
}
