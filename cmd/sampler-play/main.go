package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/cwbudde/algo-sampler/preset"
	"github.com/cwbudde/algo-sampler/sampler"
)

var (
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func main() {
	folder := flag.String("folder", "", "Sample folder (overrides the preset's sample_folder)")
	presetPath := flag.String("preset", "", "Preset JSON file path (optional)")
	sampleRate := flag.Int("sample-rate", 48000, "Output sample rate in Hz")
	blockSize := flag.Int("block-size", 256, "Render block size in frames")
	latency := flag.Duration("latency", 40*time.Millisecond, "Output buffer length")
	hold := flag.Duration("hold", 600*time.Millisecond, "Time a key press holds its note")
	baseNote := flag.Int("base-note", 60, "MIDI note of the 'a' key")
	velocity := flag.Int("velocity", 100, "Initial velocity")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	params := sampler.NewDefaultParams()
	sampleFolder := *folder
	if *presetPath != "" {
		cfg, err := preset.LoadJSON(*presetPath)
		if err != nil {
			red.Fprintf(os.Stderr, "Error loading preset %q: %v\n", *presetPath, err)
			os.Exit(1)
		}
		params = cfg.Params
		if sampleFolder == "" {
			sampleFolder = cfg.SampleFolder
		}
	}
	if sampleFolder == "" {
		red.Fprintln(os.Stderr, "No sample folder given (use -folder or a preset with sample_folder)")
		os.Exit(1)
	}

	e := sampler.NewEngine(params, sampler.WithLogger(logger))
	defer e.Close()
	e.Prepare(float64(*sampleRate), *blockSize)

	fmt.Printf("Loading %s...\n", sampleFolder)
	if err := e.LoadCatalog(sampleFolder); err != nil {
		red.Fprintf(os.Stderr, "Error loading samples: %v\n", err)
		os.Exit(1)
	}
	if err := e.WaitIdle(context.Background()); err != nil || !e.IsLoaded() {
		red.Fprintf(os.Stderr, "No samples loaded: %v\n", e.LastLoadError())
		os.Exit(1)
	}
	fmt.Printf("%d samples, notes %d..%d, %d velocity layers, %d round robins\n",
		e.SampleCount(), e.LowestAvailableNote(), e.HighestAvailableNote(),
		e.MaxVelocityLayers(0, 128), e.MaxRoundRobin())

	p := newEnginePlayer(e, *blockSize)
	if err := p.start(*sampleRate, *latency); err != nil {
		red.Fprintf(os.Stderr, "Error opening audio output: %v\n", err)
		os.Exit(1)
	}
	defer p.close()

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		red.Fprintf(os.Stderr, "Error setting raw terminal mode: %v\n", err)
		os.Exit(1)
	}
	defer term.Restore(fd, oldState)

	cyan.Print("Keys: a-' play, z/x octave, c/v velocity, space stop, q quit\r\n")
	run(p, newKeyboard(*baseNote, *velocity), *hold)
	fmt.Print("\r\n")
}

// run reads keys until quit and prints a status line.
func run(p *enginePlayer, kb *keyboard, hold time.Duration) {
	keys := make(chan byte, 16)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(keys)
				return
			}
			if n == 1 {
				keys <- buf[0]
			}
		}
	}()

	status := time.NewTicker(250 * time.Millisecond)
	defer status.Stop()

	for {
		select {
		case b, ok := <-keys:
			if !ok {
				return
			}
			cmd := kb.handle(b)
			switch cmd.kind {
			case cmdQuit:
				return
			case cmdNote:
				if !p.engine.IsNoteAvailable(cmd.note) {
					yellow.Printf("\r\nnote %d unavailable\r\n", cmd.note)
					continue
				}
				p.send(noteEvent{on: true, note: cmd.note, velocity: kb.velocity})
				note := cmd.note
				time.AfterFunc(hold, func() { p.send(noteEvent{note: note}) })
			case cmdStopAll:
				p.send(noteEvent{stopAll: true})
			}
		case <-status.C:
			e := p.engine
			fmt.Printf("\roctave base %3d  velocity %3d  voices %2d/%d  streaming %2d  underruns %d  disk %.1f MB/s   ",
				kb.baseNote, kb.velocity, e.ActiveVoiceCount(), e.MaxVoices(),
				e.StreamingVoiceCount(), e.UnderrunCount(), e.DiskThroughput())
		}
	}
}
