package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/cwbudde/algo-sampler/sampler"
)

func main() {
	cachePath := flag.String("cache", "", "SQLite probe cache path (optional)")
	workers := flag.Int("workers", 4, "Parallel header probes")
	fallbacks := flag.Bool("fallbacks", false, "List notes served by fallback")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <sample-folder>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	folder := flag.Arg(0)

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	params := sampler.NewDefaultParams()
	params.PreloadSizeKB = sampler.MinPreloadSizeKB
	params.ProbeWorkers = *workers
	params.ProbeCachePath = *cachePath
	params.MaxVoices = 1

	e := sampler.NewEngine(params, sampler.WithLogger(logger))
	defer e.Close()

	start := time.Now()
	if err := e.LoadCatalog(folder); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := e.WaitIdle(context.Background()); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !e.IsLoaded() {
		color.New(color.FgRed).Fprintf(os.Stderr, "No samples in %s: %v\n", folder, e.LastLoadError())
		os.Exit(1)
	}

	writeReport(os.Stdout, e.Catalog(), *fallbacks)
	fmt.Printf("Scanned in %s\n", time.Since(start).Round(time.Millisecond))
}
