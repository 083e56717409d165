package sampler

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-sampler/audiofile"
	"github.com/cwbudde/algo-sampler/catalog"
)

// Sample is a catalog file together with its in-memory data.
type Sample struct {
	File     *catalog.SampleFile
	Resident bool

	head atomic.Pointer[headBuffer]
	refs atomic.Int32
}

// Loaded reports whether the sample currently has data in memory.
func (s *Sample) Loaded() bool { return s.head.Load() != nil }

// HeadFrames returns the number of frames held in memory.
func (s *Sample) HeadFrames() int64 {
	if h := s.head.Load(); h != nil {
		return h.frames
	}
	return 0
}

// RefCount returns the number of voices currently playing the sample.
func (s *Sample) RefCount() int { return int(s.refs.Load()) }

// SampleRate returns the rate of the in-memory data, which differs from the
// file rate for conformed resident samples.
func (s *Sample) SampleRate() float64 {
	if h := s.head.Load(); h != nil {
		return h.rate
	}
	return s.File.SampleRate
}

// snapshot is an immutable published catalog. Only the sample heads change
// after publication, through atomic swaps during rescans.
type snapshot struct {
	cat     *catalog.Catalog
	samples []*Sample // indexed by SampleFile.ID
	mode    Mode
}

func (s *snapshot) resolve(note, velocity, roundRobin, layerLimit, rrLimit int) *Sample {
	if s == nil {
		return nil
	}
	f := s.cat.Resolve(note, velocity, roundRobin, layerLimit, rrLimit)
	if f == nil {
		return nil
	}
	return s.samples[f.ID]
}

func (s *snapshot) memoryBytes() int64 {
	if s == nil {
		return 0
	}
	var total int64
	for _, smp := range s.samples {
		total += smp.head.Load().bytes()
	}
	return total
}

type preloadConfig struct {
	mode       Mode
	kb         int
	layerLimit int // <= 0 means all
	rrLimit    int // <= 0 means all
	hostRate   float64
	conform    bool
	workers    int
}

// shouldPreload reports whether f is within the active layer and
// round-robin scope.
func (c preloadConfig) shouldPreload(f *catalog.SampleFile) bool {
	if c.layerLimit > 0 && f.Layer >= c.layerLimit {
		return false
	}
	if c.rrLimit > 0 && f.RoundRobin > c.rrLimit {
		return false
	}
	return true
}

// preloadFrames converts the head size in KB to frames of 32-bit floats.
func (c preloadConfig) preloadFrames(f *catalog.SampleFile) int64 {
	ch := int64(max(f.Channels, 1))
	frames := int64(c.kb) * 1024 / (ch * 4)
	if f.TotalFrames > 0 {
		frames = min(frames, f.TotalFrames)
	}
	return max(frames, 1)
}

// preloadCache decodes the in-scope part of a catalog into memory.
type preloadCache struct {
	open   audiofile.Opener
	logger *slog.Logger
}

// build creates a snapshot for cat and loads the heads of all in-scope
// samples. Samples that fail to decode stay unloaded.
func (p *preloadCache) build(ctx context.Context, cat *catalog.Catalog, cfg preloadConfig) (*snapshot, error) {
	snap := &snapshot{cat: cat, mode: cfg.mode, samples: make([]*Sample, len(cat.Samples))}
	for i, f := range cat.Samples {
		snap.samples[i] = &Sample{File: f, Resident: cfg.mode == ModeResident}
	}
	if err := p.rescan(ctx, snap, cfg); err != nil {
		return nil, err
	}
	return snap, nil
}

// rescan loads heads that entered the scope or changed size and drops heads
// that left it. Voices keep their own head reference, so dropping is safe
// while they play.
func (p *preloadCache) rescan(ctx context.Context, snap *snapshot, cfg preloadConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.workers, 1))

	for _, s := range snap.samples {
		if !cfg.shouldPreload(s.File) {
			s.head.Store(nil)
			continue
		}
		cur := s.head.Load()
		if cur != nil && (s.Resident || cur.frames == cfg.preloadFrames(s.File)) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.loadHead(s, cfg)
			return nil
		})
	}
	return g.Wait()
}

func (p *preloadCache) loadHead(s *Sample, cfg preloadConfig) {
	f := s.File
	frames := int64(-1)
	if !s.Resident {
		frames = cfg.preloadFrames(f)
	}

	data, info, err := audiofile.ReadHead(p.open, f.Path, frames)
	if err != nil {
		p.logger.Warn("sample preload failed", "path", f.Path, "err", err)
		s.head.Store(nil)
		return
	}
	if info.Channels != f.Channels || len(data) == 0 {
		p.logger.Warn("sample changed since probe", "path", f.Path, "channels", info.Channels)
		s.head.Store(nil)
		return
	}

	rate := info.SampleRate
	if s.Resident && cfg.conform && cfg.hostRate > 0 && info.SampleRate != cfg.hostRate {
		conformed, err := audiofile.Resample(data, info.Channels, info.SampleRate, cfg.hostRate)
		if err != nil {
			p.logger.Warn("sample resample failed", "path", f.Path, "err", err)
		} else {
			data = conformed
			rate = cfg.hostRate
		}
	}
	s.head.Store(newHeadBuffer(data, info.Channels, rate))
}
