package sampler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-sampler/audiofile"
	"github.com/cwbudde/algo-sampler/catalog"
)

// LoadingState describes the catalog lifecycle.
type LoadingState int

const (
	NotLoaded LoadingState = iota
	Loading
	Loaded
)

func (s LoadingState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "not loaded"
	}
}

// loader runs load and rescan jobs one after another in request order.
type loader struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup

	mu     sync.Mutex
	tail   chan struct{}
	closed bool

	loads atomic.Int32 // queued or running loads
}

func (l *loader) init() {
	l.ctx, l.cancel = context.WithCancel(context.Background())
}

// enqueue chains job behind every earlier job.
func (l *loader) enqueue(isLoad bool, job func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	prev := l.tail
	done := make(chan struct{})
	l.tail = done
	if isLoad {
		l.loads.Add(1)
	}
	l.jobs.Add(1)

	go func() {
		defer l.jobs.Done()
		defer close(done)
		if isLoad {
			defer l.loads.Add(-1)
		}
		if prev != nil {
			<-prev
		}
		if l.ctx.Err() != nil {
			return
		}
		job(l.ctx)
	}()
	return nil
}

// wait blocks until every job queued so far has finished.
func (l *loader) wait(ctx context.Context) error {
	l.mu.Lock()
	tail := l.tail
	l.mu.Unlock()
	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close cancels pending jobs and waits for the running one. It reports
// false when already closed.
func (l *loader) close() bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.jobs.Wait()
	return true
}

// LoadCatalog loads the sample library in folder in the background. Loads
// run in request order, so the last request wins. Voices are silenced when
// the load begins.
func (e *Engine) LoadCatalog(folder string) error {
	return e.loader.enqueue(true, func(ctx context.Context) {
		e.load(ctx, folder)
	})
}

// WaitIdle blocks until all queued loads and rescans have finished.
func (e *Engine) WaitIdle(ctx context.Context) error { return e.loader.wait(ctx) }

func (e *Engine) scheduleRescan() {
	_ = e.loader.enqueue(false, e.rescan)
}

func (e *Engine) load(ctx context.Context, folder string) {
	start := time.Now()
	e.setLoadResult(folder, nil)
	e.streamer.ResetUnderrunCount()

	// Quiesce: no streamer writes may be in flight and no voice may keep
	// playing from the old catalog once the new one is published.
	e.streamer.UnregisterAll()
	e.stopReq.Add(1)
	e.snap.Store(nil)
	e.preloadBytes.Store(0)
	e.totalBytes.Store(0)
	defer e.registerVoices()

	files, err := catalog.ScanFolder(folder)
	if err != nil {
		e.logger.Warn("sample library scan failed", "folder", folder, "err", err)
		e.setLoadResult(folder, err)
		return
	}
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	e.totalBytes.Store(total)

	probed, err := e.probe(ctx, files)
	if err != nil {
		e.setLoadResult(folder, err)
		return
	}

	cat := catalog.Build(folder, probed)
	if cat.Len() == 0 {
		e.logger.Warn("no samples found", "folder", folder, "files", len(files))
		e.setLoadResult(folder, fmt.Errorf("no samples found in %s", folder))
		return
	}

	snap, err := e.preload.build(ctx, cat, e.preloadConfig())
	if err != nil {
		e.setLoadResult(folder, err)
		return
	}
	e.snap.Store(snap)
	e.preloadBytes.Store(snap.memoryBytes())

	e.logger.Info("sample library loaded",
		"folder", folder,
		"samples", cat.Len(),
		"notes", cat.LowestNote(), "to", cat.HighestNote(),
		"layers", cat.MaxLayers(),
		"round_robins", cat.MaxRoundRobin(),
		"preload_bytes", e.preloadBytes.Load(),
		"mode", snap.mode.String(),
		"elapsed", time.Since(start),
	)
}

func (e *Engine) rescan(ctx context.Context) {
	snap := e.snap.Load()
	if snap == nil {
		return
	}
	if err := e.preload.rescan(ctx, snap, e.preloadConfig()); err != nil {
		e.logger.Debug("preload rescan interrupted", "err", err)
	}
	e.preloadBytes.Store(snap.memoryBytes())
}

func (e *Engine) preloadConfig() preloadConfig {
	return preloadConfig{
		mode:       e.params.Mode,
		kb:         int(e.preloadKB.Load()),
		layerLimit: int(e.layerLimit.Load()),
		rrLimit:    int(e.rrLimit.Load()),
		hostRate:   e.SampleRate(),
		conform:    e.params.ConformResidentRate,
		workers:    e.params.ProbeWorkers,
	}
}

// probe fills in the audio properties of files, dropping unreadable ones.
func (e *Engine) probe(ctx context.Context, files []catalog.SampleFile) ([]catalog.SampleFile, error) {
	ok := make([]bool, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.ProbeWorkers)
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f := &files[i]
			info, err := e.probeFile(f)
			if err != nil {
				e.logger.Warn("skipping unreadable sample", "path", f.Path, "err", err)
				return nil
			}
			f.SampleRate = info.SampleRate
			f.Channels = info.Channels
			f.TotalFrames = info.TotalFrames
			ok[i] = info.TotalFrames > 0
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]catalog.SampleFile, 0, len(files))
	for i, f := range files {
		if ok[i] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (e *Engine) probeFile(f *catalog.SampleFile) (audiofile.Info, error) {
	if e.probes != nil {
		info, hit, err := e.probes.Lookup(f.Path, f.SizeBytes, f.ModTime)
		if err != nil {
			e.logger.Debug("probe cache lookup failed", "path", f.Path, "err", err)
		}
		if hit {
			return info, nil
		}
	}
	info, err := audiofile.Probe(e.open, f.Path)
	if err != nil {
		return audiofile.Info{}, err
	}
	if e.probes != nil {
		if err := e.probes.Store(f.Path, f.SizeBytes, f.ModTime, info); err != nil {
			e.logger.Debug("probe cache store failed", "path", f.Path, "err", err)
		}
	}
	return info, nil
}

func (e *Engine) setLoadResult(folder string, err error) {
	e.infoMu.Lock()
	defer e.infoMu.Unlock()
	e.folder = folder
	e.lastErr = err
}

// LoadedFolder returns the folder of the most recent load request that has
// started.
func (e *Engine) LoadedFolder() string {
	e.infoMu.Lock()
	defer e.infoMu.Unlock()
	return e.folder
}

// LastLoadError returns why the most recent load produced no catalog.
func (e *Engine) LastLoadError() error {
	e.infoMu.Lock()
	defer e.infoMu.Unlock()
	return e.lastErr
}

// LoadingState returns the catalog lifecycle state.
func (e *Engine) LoadingState() LoadingState {
	if e.loader.loads.Load() > 0 {
		return Loading
	}
	if e.snap.Load() != nil {
		return Loaded
	}
	return NotLoaded
}

// IsLoading reports whether a load is queued or running.
func (e *Engine) IsLoading() bool { return e.LoadingState() == Loading }

// IsLoaded reports whether a catalog is published and no load is pending.
func (e *Engine) IsLoaded() bool { return e.LoadingState() == Loaded }

// Catalog returns the published catalog, or nil.
func (e *Engine) Catalog() *catalog.Catalog {
	if s := e.snap.Load(); s != nil {
		return s.cat
	}
	return nil
}

// SampleCount returns the number of samples in the published catalog.
func (e *Engine) SampleCount() int { return e.Catalog().Len() }

// IsNoteAvailable reports whether note can be played.
func (e *Engine) IsNoteAvailable(note int) bool { return e.Catalog().IsNoteAvailable(note) }

// NoteHasOwnSamples reports whether note has samples recorded for it.
func (e *Engine) NoteHasOwnSamples(note int) bool { return e.Catalog().HasOwnSamples(note) }

// VelocityLayers returns the recorded velocities serving note.
func (e *Engine) VelocityLayers(note int) []int { return e.Catalog().Velocities(note) }

// LowestAvailableNote returns the lowest note with its own samples, or -1.
func (e *Engine) LowestAvailableNote() int { return e.Catalog().LowestNote() }

// HighestAvailableNote returns the highest note with its own samples, or -1.
func (e *Engine) HighestAvailableNote() int { return e.Catalog().HighestNote() }

// MaxVelocityLayers returns the largest layer count of notes in [start, end).
func (e *Engine) MaxVelocityLayers(start, end int) int {
	return e.Catalog().MaxLayersInRange(start, end)
}

// VelocityLayerIndex returns the layer velocity selects on note under the
// current layer limit, or -1.
func (e *Engine) VelocityLayerIndex(note, velocity int) int {
	snap := e.snap.Load()
	if snap == nil {
		return -1
	}
	return snap.cat.LayerIndex(note, velocity, e.effectiveLayerLimit(snap))
}

// MaxRoundRobin returns the largest round-robin index of the catalog.
func (e *Engine) MaxRoundRobin() int { return e.Catalog().MaxRoundRobin() }
