package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/cwbudde/algo-sampler/analysis"
	"github.com/cwbudde/algo-sampler/audiofile"
	"github.com/cwbudde/algo-sampler/catalog"
	"github.com/cwbudde/algo-sampler/preset"
	"github.com/cwbudde/algo-sampler/sampler"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func fail(format string, args ...any) {
	red.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	folder := flag.String("folder", "", "Sample folder (overrides the preset's sample_folder)")
	presetPath := flag.String("preset", "", "Preset JSON file path (optional)")
	noteArg := flag.String("note", "C4", "Note name or MIDI number to render")
	velocity := flag.Int("velocity", 100, "MIDI velocity (1-127)")
	hold := flag.Float64("hold", 1.0, "Seconds before NoteOff")
	tail := flag.Float64("tail", 1.0, "Seconds rendered after NoteOff")
	scriptPath := flag.String("script", "", "Lua event script (replaces -note/-hold/-tail)")
	sampleRate := flag.Int("sample-rate", 48000, "Engine sample rate in Hz")
	outRate := flag.Int("out-rate", 0, "Resample the result to this rate before writing (0 = engine rate)")
	resident := flag.Bool("resident", false, "Decode samples fully into memory instead of streaming")
	preloadKB := flag.Int("preload-kb", 0, "Preload size per sample in KB (0 = preset value)")
	blockSize := flag.Int("block-size", 256, "Render block size in frames")
	gainDB := flag.Float64("gain", 0, "Output gain in dB")
	trimDBFS := flag.Float64("trim-dbfs", 0, "Drop trailing blocks quieter than this RMS level (0 = keep the full tail)")
	compare := flag.String("compare", "", "Reference WAV to compare the render against (optional)")
	output := flag.String("output", "output.wav", "Output WAV file path")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	params := sampler.NewDefaultParams()
	sampleFolder := ""
	if *presetPath != "" {
		cfg, err := preset.LoadJSON(*presetPath)
		if err != nil {
			fail("Error loading preset %q: %v", *presetPath, err)
		}
		params = cfg.Params
		sampleFolder = cfg.SampleFolder
	}
	if *folder != "" {
		sampleFolder = *folder
	}
	if sampleFolder == "" {
		fail("No sample folder given (use -folder or a preset with sample_folder)")
	}
	if *resident {
		params.Mode = sampler.ModeResident
	}
	if *preloadKB > 0 {
		params.PreloadSizeKB = *preloadKB
	}

	var sc *score
	if *scriptPath != "" {
		s, err := loadScript(*scriptPath)
		if err != nil {
			fail("Error loading script: %v", err)
		}
		sc = s
	} else {
		note := parseNote(*noteArg)
		if note < 0 {
			fail("Invalid note %q", *noteArg)
		}
		sc = singleNote(note, *velocity, *hold, *tail)
	}

	e := sampler.NewEngine(params, sampler.WithLogger(logger))
	defer e.Close()
	e.Prepare(float64(*sampleRate), *blockSize)

	start := time.Now()
	if err := e.LoadCatalog(sampleFolder); err != nil {
		fail("Error loading samples: %v", err)
	}
	if err := e.WaitIdle(context.Background()); err != nil {
		fail("Error loading samples: %v", err)
	}
	if !e.IsLoaded() {
		fail("No samples loaded from %s: %v", sampleFolder, e.LastLoadError())
	}
	fmt.Printf("Loaded %d samples from %s in %s (%.1f MB preloaded, %s mode)\n",
		e.SampleCount(), sampleFolder, time.Since(start).Round(time.Millisecond),
		float64(e.PreloadMemoryBytes())/(1024*1024), params.Mode)

	for _, ev := range sc.events {
		if ev.kind == eventNoteOn && !e.IsNoteAvailable(ev.note) {
			yellow.Printf("Note %d has no samples and will be silent\n", ev.note)
		}
	}

	const channels = 2
	fmt.Printf("Rendering %.2f seconds at %d Hz...\n", sc.length, *sampleRate)
	samples := renderScore(e, sc, *sampleRate, channels, *blockSize)
	if n := e.UnderrunCount(); n > 0 {
		yellow.Printf("%d streaming underruns during render\n", n)
	}
	applyGainDB(samples, *gainDB)
	if *trimDBFS < 0 {
		samples = trimTail(samples, channels, *blockSize, *trimDBFS)
	}

	rate := *sampleRate
	if *outRate > 0 && *outRate != rate {
		resampled, err := audiofile.Resample(samples, channels, float64(rate), float64(*outRate))
		if err != nil {
			fail("Error resampling output: %v", err)
		}
		samples = resampled
		rate = *outRate
	}

	if err := audiofile.WriteWAV(*output, samples, rate, channels); err != nil {
		fail("Error writing WAV file: %v", err)
	}

	mono := analysis.MixDown(samples, channels)
	frames := len(samples) / channels
	green.Printf("Successfully wrote %s (%d frames)\n", *output, frames)
	fmt.Printf("Peak %.1f dBFS, RMS %.1f dBFS\n", analysis.LinToDB(analysis.Peak(mono)), analysis.LinToDB(analysis.RMS(mono)))
	if f, err := analysis.DominantFrequency(mono, float64(rate)); err == nil {
		fmt.Printf("Dominant frequency %.1f Hz\n", f)
	}

	if *compare != "" {
		ref, info, err := audiofile.ReadHead(audiofile.Open, *compare, -1)
		if err != nil {
			fail("Error reading reference: %v", err)
		}
		if int(info.SampleRate) != rate {
			yellow.Printf("Reference rate %.0f Hz differs from output rate %d Hz\n", info.SampleRate, rate)
		}
		m := analysis.Compare(analysis.MixDown(ref, info.Channels), mono, rate)
		fmt.Printf("Compare: score=%.4f similarity=%.4f lag=%d time_rmse=%.5f env_rmse=%.2f dB spec_rmse=%.2f dB\n",
			m.Score, m.Similarity, m.LagSamples, m.TimeRMSE, m.EnvelopeRMSEDB, m.SpectralRMSEDB)
	}
}

// parseNote accepts a note name or a MIDI number.
func parseNote(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 127 {
			return -1
		}
		return n
	}
	return catalog.ParseNoteName(s)
}
