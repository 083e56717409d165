package sampler

import (
	"errors"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwbudde/algo-sampler/analysis"
	"github.com/cwbudde/algo-sampler/audiofile"
)

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	if e.MaxVoices() != 64 {
		t.Fatalf("unexpected polyphony: got=%d want=64", e.MaxVoices())
	}
	if e.PreloadSizeKB() != 64 {
		t.Fatalf("unexpected preload size: got=%d want=64", e.PreloadSizeKB())
	}
	if e.LoadingState() != NotLoaded || e.IsLoaded() || e.IsLoading() {
		t.Fatalf("expected fresh engine to be not loaded, got %s", e.LoadingState())
	}
	if e.LowestAvailableNote() != -1 || e.IsNoteAvailable(60) {
		t.Fatalf("expected no notes before load")
	}
}

func TestLoadBuildsCatalog(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_040_01.wav", "C4_080_01.wav", "C4_127_01.wav", "C5_100_01.wav", "readme.txt.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	if e.SampleCount() != 4 {
		t.Fatalf("unexpected sample count: got=%d want=4", e.SampleCount())
	}
	if e.LoadedFolder() != dir {
		t.Fatalf("unexpected folder: got=%q want=%q", e.LoadedFolder(), dir)
	}
	if !e.NoteHasOwnSamples(60) || e.NoteHasOwnSamples(61) || !e.IsNoteAvailable(61) || e.IsNoteAvailable(73) {
		t.Fatalf("unexpected note availability")
	}
	if e.LowestAvailableNote() != 60 || e.HighestAvailableNote() != 72 {
		t.Fatalf("unexpected note range: %d..%d", e.LowestAvailableNote(), e.HighestAvailableNote())
	}
	if got := e.VelocityLayers(50); len(got) != 3 || got[0] != 40 || got[2] != 127 {
		t.Fatalf("unexpected fallback layers: %v", got)
	}
	if e.MaxVelocityLayers(61, 73) != 1 || e.MaxVelocityLayers(0, 128) != 3 {
		t.Fatalf("unexpected max layers")
	}
	if e.VelocityLayerIndex(60, 41) != 1 {
		t.Fatalf("unexpected layer index: got=%d want=1", e.VelocityLayerIndex(60, 41))
	}
	if e.PreloadMemoryBytes() != 4*4000*4 {
		t.Fatalf("unexpected preload memory: got=%d want=%d", e.PreloadMemoryBytes(), 4*4000*4)
	}
	if e.TotalFileSizeBytes() <= 0 {
		t.Fatalf("expected total library size")
	}
}

func TestLoadEmptyFolderStaysNotLoaded(t *testing.T) {
	e := newTestEngine(t, fastParams())
	if err := e.LoadCatalog(t.TempDir()); err != nil {
		t.Fatalf("load: %v", err)
	}
	waitIdle(t, e)
	if e.LoadingState() != NotLoaded {
		t.Fatalf("expected not loaded, got %s", e.LoadingState())
	}
	if e.LastLoadError() == nil {
		t.Fatalf("expected load error for empty folder")
	}
	e.NoteOn(60, 100)
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("expected note-on to be ignored without catalog")
	}
}

func TestLoadMissingFolder(t *testing.T) {
	e := newTestEngine(t, fastParams())
	_ = e.LoadCatalog(filepath.Join(t.TempDir(), "missing"))
	waitIdle(t, e)
	if e.IsLoaded() || e.LastLoadError() == nil {
		t.Fatalf("expected failed load")
	}
}

func TestOverlappingLoadsLastWins(t *testing.T) {
	a := writeLibrary(t, 4000, "C4_100_01.wav", "D4_100_01.wav")
	b := writeLibrary(t, 4000, "A2_100_01.wav")
	e := newTestEngine(t, fastParams())

	for i := 0; i < 3; i++ {
		_ = e.LoadCatalog(a)
		e.NoteOn(60, 100)
		e.RenderBlock(stereoBlock(128))
	}
	_ = e.LoadCatalog(b)
	waitIdle(t, e)

	if !e.IsLoaded() || e.LoadedFolder() != b || e.Catalog().Folder != b {
		t.Fatalf("expected second library to win, folder=%q", e.LoadedFolder())
	}
	if e.NoteHasOwnSamples(60) || !e.NoteHasOwnSamples(45) {
		t.Fatalf("catalog still reflects the first library")
	}
}

func TestRoundRobinCycles(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav", "C4_100_02.wav", "C4_100_03.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	want := []int{1, 2, 3, 1, 2}
	for i, rr := range want {
		e.NoteOn(60, 100)
		v := newestVoice(e)
		if v == nil || v.RoundRobin() != rr || v.Sample().File.RoundRobin != rr {
			t.Fatalf("note-on %d: expected round robin %d", i, rr)
		}
	}
}

func TestRoundRobinAdvancesOnUnavailableNotes(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav", "C4_100_02.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(100, 100) // unavailable, still consumes index 1
	e.NoteOn(60, 100)
	if v := newestVoice(e); v == nil || v.RoundRobin() != 2 {
		t.Fatalf("expected round robin 2 after an ignored note")
	}
}

func TestRoundRobinLimit(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav", "C4_100_02.wav", "C4_100_03.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)
	e.SetRoundRobinLimit(2)
	waitIdle(t, e)

	if e.RoundRobinLimit() != 2 {
		t.Fatalf("unexpected limit: got=%d", e.RoundRobinLimit())
	}
	for i, rr := range []int{1, 2, 1, 2} {
		e.NoteOn(60, 100)
		if v := newestVoice(e); v.RoundRobin() != rr {
			t.Fatalf("note-on %d: got rr=%d want=%d", i, v.RoundRobin(), rr)
		}
	}
	if e.Catalog().Samples[2].RoundRobin != 3 {
		t.Fatalf("unexpected sample order")
	}
	if e.PreloadMemoryBytes() != 2*4000*4 {
		t.Fatalf("expected third round robin to be unloaded, preload=%d", e.PreloadMemoryBytes())
	}
}

func TestVelocityLayerLimitRescan(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_040_01.wav", "C4_080_01.wav", "C4_127_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.SetVelocityLayerLimit(1)
	waitIdle(t, e)
	if e.VelocityLayerLimit() != 1 {
		t.Fatalf("unexpected layer limit: %d", e.VelocityLayerLimit())
	}
	if e.PreloadMemoryBytes() != 4000*4 {
		t.Fatalf("expected only the lowest layer in memory, got %d bytes", e.PreloadMemoryBytes())
	}

	e.NoteOn(60, 127)
	v := newestVoice(e)
	if v == nil || v.Sample().File.Velocity != 40 {
		t.Fatalf("expected loud note to use the lowest layer")
	}

	e.SetVelocityLayerLimit(0)
	waitIdle(t, e)
	if e.VelocityLayerLimit() != 3 || e.PreloadMemoryBytes() != 3*4000*4 {
		t.Fatalf("expected all layers restored, limit=%d bytes=%d", e.VelocityLayerLimit(), e.PreloadMemoryBytes())
	}
}

func TestPreloadSizeRescan(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	if got := e.PreloadMemoryBytes(); got != 64*1024 {
		t.Fatalf("unexpected preload: got=%d want=%d", got, 64*1024)
	}
	e.SetPreloadSizeKB(10) // clamped to 32
	waitIdle(t, e)
	if e.PreloadSizeKB() != MinPreloadSizeKB || e.PreloadMemoryBytes() != 32*1024 {
		t.Fatalf("unexpected preload after shrink: kb=%d bytes=%d", e.PreloadSizeKB(), e.PreloadMemoryBytes())
	}
}

func TestPitchRatio(t *testing.T) {
	dir := t.TempDir()
	writeTempSample(t, dir, "C4_100_01.wav", rampData(4000), 44100, 1)
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	cases := []struct {
		note, offset int
		want         float64
	}{
		{60, 0, 44100.0 / 48000},
		{72, -12, 2 * 44100.0 / 48000},
		{48, 0, 0.5 * 44100.0 / 48000}, // falls back to C4
	}
	for _, tc := range cases {
		e.NoteOnOffset(tc.note, 100, tc.offset)
		v := newestVoice(e)
		if v == nil || math.Abs(v.PitchRatio()-tc.want)/tc.want > 0.01 {
			t.Fatalf("note %d: unexpected ratio, want=%f", tc.note, tc.want)
		}
	}
}

func TestTransposeAndSampleOffset(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav", "C5_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.SetTranspose(12)
	e.NoteOn(60, 100)
	v := newestVoice(e)
	if v.Sample().File.NativeNote != 72 || math.Abs(v.PitchRatio()-1) > 0.01 {
		t.Fatalf("expected transposed note to play C5 natively")
	}
	e.RenderBlock(stereoBlock(256))
	e.NoteOff(60)
	if v.Stage() != StageRelease {
		t.Fatalf("note-off must match the untransposed key")
	}

	e.SetTranspose(0)
	e.NoteOnOffset(60, 100, 12)
	v = newestVoice(e)
	if v.Sample().File.NativeNote != 72 || math.Abs(v.PitchRatio()-0.5) > 0.01 {
		t.Fatalf("expected sample offset to pick C5 played an octave down, ratio=%f", v.PitchRatio())
	}
}

func TestRenderedPitchFollowsNote(t *testing.T) {
	dir := t.TempDir()
	writeTempSample(t, dir, "C4_100_01.wav", sineData(48000, 440, 48000), 48000, 1)
	p := fastParams()
	p.Mode = ModeResident
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)

	e.NoteOnOffset(72, 127, -12)
	out := [][]float32{make([]float32, 16384)}
	e.RenderBlock(out)

	freq, err := analysis.DominantFrequency(analysis.ToFloat64(out[0]), 48000)
	if err != nil {
		t.Fatalf("pitch analysis failed: %v", err)
	}
	if math.Abs(freq-880)/880 > 0.01 {
		t.Fatalf("unexpected rendered pitch: got=%f want=880", freq)
	}
}

func TestResidentConformsSampleRate(t *testing.T) {
	dir := t.TempDir()
	writeTempSample(t, dir, "C4_100_01.wav", sineData(24000, 440, 24000), 24000, 1)
	p := fastParams()
	p.Mode = ModeResident
	p.ConformResidentRate = true
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)

	s := e.snap.Load().samples[0]
	if s.SampleRate() != 48000 {
		t.Fatalf("expected conformed rate 48000, got %f", s.SampleRate())
	}
	if frames := s.HeadFrames(); frames < 47000 || frames > 49000 {
		t.Fatalf("unexpected conformed length: %d", frames)
	}
	e.NoteOn(60, 100)
	if v := newestVoice(e); math.Abs(v.PitchRatio()-1) > 1e-9 {
		t.Fatalf("expected unity ratio for conformed sample, got %f", v.PitchRatio())
	}
}

func TestRenderMixesMonoIntoAllChannels(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(60, 127)
	out := stereoBlock(512)
	e.RenderBlock(out)
	for i := 100; i < 512; i++ {
		want := rampValue(i)
		if math.Abs(float64(out[0][i]-want)) > 1e-3 || out[0][i] != out[1][i] {
			t.Fatalf("frame %d: got=%f/%f want=%f", i, out[0][i], out[1][i], want)
		}
	}
}

func TestVoiceEndsAtSampleEnd(t *testing.T) {
	dir := writeLibrary(t, 1000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(60, 100)
	s := newestVoice(e).Sample()
	e.RenderBlock(stereoBlock(2048))
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("expected voice to finish at the end of the sample")
	}
	if s.RefCount() != 0 {
		t.Fatalf("expected sample reference released, got %d", s.RefCount())
	}
}

func TestSameNoteRetriggerReleasesPrevious(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(60, 100)
	first := newestVoice(e)
	e.RenderBlock(stereoBlock(256))
	e.NoteOn(60, 100)
	if first.Stage() != StageRelease {
		t.Fatalf("expected previous voice in release, got %s", first.Stage())
	}
	if e.ActiveVoiceCount() != 2 {
		t.Fatalf("expected overlap of two voices, got %d", e.ActiveVoiceCount())
	}
	if got := first.env.releaseStep; math.Abs(float64(got)-1.0/(0.25*48000)) > 1e-6 {
		t.Fatalf("expected 250 ms release slope, got %g", got)
	}
}

func TestPerNoteCap(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	p := fastParams()
	p.MaxVoicesPerNote = 2
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)

	for i := 0; i < 6; i++ {
		e.NoteOn(60, 100)
		e.RenderBlock(stereoBlock(64))

		audible, sounding := 0, 0
		for _, v := range e.voices {
			if !v.IsActive() || v.Note() != 60 || v.IsFading() {
				continue
			}
			audible++
			if v.Stage() != StageRelease {
				sounding++
			}
		}
		if audible > 2 || sounding > 1 {
			t.Fatalf("iteration %d: audible=%d sounding=%d", i, audible, sounding)
		}
	}
}

func TestNoteOffReleases(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(60, 100)
	e.RenderBlock(stereoBlock(256))
	e.NoteOff(60)
	v := newestVoice(e)
	if v.Stage() != StageRelease {
		t.Fatalf("expected release, got %s", v.Stage())
	}
	// 50 ms release at 48 kHz.
	e.RenderBlock(stereoBlock(2600))
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("expected voice to finish after release")
	}
}

func TestVoiceStealingDefersStart(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	p := fastParams()
	p.MaxVoices = 2
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)

	e.NoteOn(58, 100)
	e.NoteOn(59, 100)
	e.RenderBlock(stereoBlock(256))

	e.NoteOn(60, 100)
	stolen := e.voices[0]
	if !stolen.IsFading() || stolen.Note() != 58 {
		t.Fatalf("expected oldest voice to fade, note=%d fading=%v", stolen.Note(), stolen.IsFading())
	}
	if note, ok := stolen.pendingNote(); !ok || note != 60 {
		t.Fatalf("expected note 60 queued on the stolen voice")
	}

	e.RenderBlock(stereoBlock(1024))
	if stolen.Note() != 60 || stolen.IsFading() || !stolen.IsActive() {
		t.Fatalf("expected queued note to start after the fade, note=%d", stolen.Note())
	}
	if e.voices[1].Note() != 59 || !e.voices[1].IsActive() {
		t.Fatalf("expected newer voice untouched")
	}
}

func TestNoteOffBeforeDeferredStart(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	p := fastParams()
	p.MaxVoices = 1
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)

	e.NoteOn(58, 100)
	e.RenderBlock(stereoBlock(256))
	e.NoteOn(60, 100)
	e.NoteOff(60)
	e.RenderBlock(stereoBlock(1024))

	v := e.voices[0]
	if v.IsActive() && v.Note() == 60 && v.Stage() != StageRelease {
		t.Fatalf("expected released queued note, stage=%s", v.Stage())
	}
}

func TestStopAllVoices(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(60, 100)
	e.NoteOn(62, 100)
	e.RenderBlock(stereoBlock(256))
	e.StopAllVoices(true)
	for _, v := range e.voices {
		if v.IsActive() && v.Stage() != StageRelease {
			t.Fatalf("expected all voices releasing")
		}
	}
	e.StopAllVoices(false)
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("expected hard stop to silence everything")
	}
}

func TestLoadStopsPlayingVoices(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.NoteOn(60, 100)
	s := newestVoice(e).Sample()
	loadLibrary(t, e, dir)
	e.RenderBlock(stereoBlock(64))
	if e.ActiveVoiceCount() != 0 || s.RefCount() != 0 {
		t.Fatalf("expected reload to stop voices, active=%d refs=%d", e.ActiveVoiceCount(), s.RefCount())
	}
}

func TestStreamingContinuesPastHead(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	p := fastParams()
	p.PreloadSizeKB = 32
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)

	e.NoteOn(60, 127)
	v := newestVoice(e)
	head := v.Sample().HeadFrames()
	if head != 8192 {
		t.Fatalf("unexpected head frames: got=%d want=8192", head)
	}

	out := [][]float32{make([]float32, 256)}
	checked := 0
	deadline := time.Now().Add(10 * time.Second)
	for v.pos < float64(head)+8192 && time.Now().Before(deadline) {
		pos0 := int(v.pos)
		under := e.UnderrunCount()
		e.RenderBlock(out)
		if e.UnderrunCount() == under && pos0 > 100 {
			for j := range out[0] {
				if want := rampValue(pos0 + j); math.Abs(float64(out[0][j]-want)) > 2e-3 {
					t.Fatalf("frame %d: got=%f want=%f", pos0+j, out[0][j], want)
				}
			}
			if pos0 > int(head) {
				checked++
			}
		}
		time.Sleep(200 * time.Microsecond)
	}
	if v.pos < float64(head)+8192 {
		t.Fatalf("voice stalled at frame %f", v.pos)
	}
	if checked == 0 {
		t.Fatalf("no streamed block rendered without underrun")
	}
}

func TestStreamReadFailureCountsUnderrun(t *testing.T) {
	dir := writeLibrary(t, 48000, "C4_100_01.wav")
	var failing atomic.Bool
	open := func(path string) (audiofile.Reader, error) {
		if failing.Load() {
			return nil, errors.New("disk unavailable")
		}
		return audiofile.Open(path)
	}
	p := fastParams()
	p.PreloadSizeKB = 32
	e := newTestEngine(t, p, WithOpener(open))
	loadLibrary(t, e, dir)
	failing.Store(true)

	e.NoteOn(60, 127)
	v := newestVoice(e)
	out := [][]float32{make([]float32, 256)}
	deadline := time.Now().Add(10 * time.Second)
	for v.IsActive() && time.Now().Before(deadline) {
		e.RenderBlock(out)
		time.Sleep(200 * time.Microsecond)
	}
	if v.IsActive() {
		t.Fatalf("expected voice to stop after read failure")
	}
	if e.UnderrunCount() < 1 {
		t.Fatalf("expected underrun to be counted")
	}
	e.ResetUnderrunCount()
	if e.UnderrunCount() != 0 {
		t.Fatalf("expected reset underrun count")
	}
}

func TestUnloadedSampleIsSkipped(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav")
	e := newTestEngine(t, fastParams())
	loadLibrary(t, e, dir)

	e.snap.Load().samples[0].head.Store(nil)
	e.NoteOn(60, 100)
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("expected note-on without data to be ignored")
	}
}

func TestProbeCacheIsFilled(t *testing.T) {
	dir := writeLibrary(t, 4000, "C4_100_01.wav", "D4_100_01.wav")
	p := fastParams()
	p.ProbeCachePath = filepath.Join(t.TempDir(), "probe.db")
	e := newTestEngine(t, p)
	loadLibrary(t, e, dir)
	loadLibrary(t, e, dir)

	n, err := e.probes.Len()
	if err != nil {
		t.Fatalf("probe cache: %v", err)
	}
	if n != 2 {
		t.Fatalf("unexpected cache entries: got=%d want=2", n)
	}
}

func TestCloseRejectsLoads(t *testing.T) {
	e := NewEngine(fastParams())
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := e.LoadCatalog(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSettersClamp(t *testing.T) {
	e := NewEngine(nil)
	defer e.Close()

	e.SetADSR(ADSR{Attack: 20, Decay: 0, Sustain: 1.5, Release: 0.2})
	a := e.ADSR()
	if a.Attack != maxEnvelopeTime || a.Decay != minEnvelopeTime || a.Sustain != 1 {
		t.Fatalf("unexpected adsr: %+v", a)
	}
	e.SetPreloadSizeKB(4096)
	if e.PreloadSizeKB() != MaxPreloadSizeKB {
		t.Fatalf("unexpected preload size: %d", e.PreloadSizeKB())
	}
	e.SetTranspose(100)
	if e.Transpose() != MaxTranspose {
		t.Fatalf("unexpected transpose: %d", e.Transpose())
	}
	e.SetSampleOffset(-100)
	if e.SampleOffset() != -MaxSampleOffset {
		t.Fatalf("unexpected sample offset: %d", e.SampleOffset())
	}
}
