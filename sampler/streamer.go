package sampler

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-sampler/audiofile"
)

const (
	streamerIdleWait    = 2 * time.Millisecond
	throughputWindow    = 250 * time.Millisecond
	throughputSmoothing = 0.3
)

// DiskStreamer refills the ring buffers of streaming voices from one
// background goroutine. Voices are registered in fixed slots.
type DiskStreamer struct {
	logger      *slog.Logger
	open        audiofile.Opener
	chunkFrames int

	slots []atomic.Pointer[Voice]

	// fillMu is held for each refill, so Unregister returns only after any
	// read into the slot has finished.
	fillMu  sync.Mutex
	readers []slotReader
	scratch []float32

	underruns  atomic.Int64
	throughput atomic.Uint64 // float64 bits, MB/s

	windowBytes int64
	windowStart time.Time

	wake chan struct{}

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// slotReader is the decoder state kept for one voice slot.
type slotReader struct {
	r   audiofile.Reader
	gen uint64
	pos int64
}

// NewDiskStreamer creates a streamer with room for slots voices.
func NewDiskStreamer(slots, chunkFrames int, open audiofile.Opener, logger *slog.Logger) *DiskStreamer {
	if open == nil {
		open = audiofile.Open
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DiskStreamer{
		logger:      logger,
		open:        open,
		chunkFrames: chunkFrames,
		slots:       make([]atomic.Pointer[Voice], slots),
		readers:     make([]slotReader, slots),
		scratch:     make([]float32, chunkFrames*audiofile.MaxChannels),
		wake:        make(chan struct{}, 1),
	}
}

// Start launches the background goroutine. It is a no-op when running.
func (s *DiskStreamer) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.windowStart = time.Now()
	go s.run(s.stop, s.done)
}

// Stop ends the background goroutine and waits for it. It is a no-op when
// not running.
func (s *DiskStreamer) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

// Running reports whether the background goroutine is active.
func (s *DiskStreamer) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.stop != nil
}

// Register attaches v to slot.
func (s *DiskStreamer) Register(slot int, v *Voice) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	s.slots[slot].Store(v)
	s.Wake()
}

// Unregister detaches slot, waiting for an in-flight read to finish.
func (s *DiskStreamer) Unregister(slot int) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.slots[slot].Store(nil)
	s.closeReader(slot)
}

// UnregisterAll detaches every slot.
func (s *DiskStreamer) UnregisterAll() {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	for i := range s.slots {
		s.slots[i].Store(nil)
		s.closeReader(i)
	}
}

// Wake nudges the goroutine to scan voices now.
func (s *DiskStreamer) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// UnderrunCount returns the number of underruns since the last reset.
func (s *DiskStreamer) UnderrunCount() int64 { return s.underruns.Load() }

// ResetUnderrunCount zeroes the underrun counter.
func (s *DiskStreamer) ResetUnderrunCount() { s.underruns.Store(0) }

// Throughput returns the smoothed read rate in MB/s.
func (s *DiskStreamer) Throughput() float64 {
	return math.Float64frombits(s.throughput.Load())
}

// ResetThroughput zeroes the smoothed read rate.
func (s *DiskStreamer) ResetThroughput() { s.throughput.Store(0) }

func (s *DiskStreamer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer s.closeAll()

	ticker := time.NewTicker(streamerIdleWait)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		worked := s.pass()
		s.updateThroughput(time.Now())
		if worked {
			continue
		}

		select {
		case <-stop:
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// pass refills every voice that is below its low-water mark once.
func (s *DiskStreamer) pass() bool {
	worked := false
	for i := range s.slots {
		v := s.slots[i].Load()
		if v == nil || !v.needsMoreData() {
			continue
		}
		if s.fill(i, v) {
			worked = true
		}
	}
	return worked
}

// fill decodes one chunk for v outside the voice lock and commits it if the
// voice is still playing the same session.
func (s *DiskStreamer) fill(slot int, v *Voice) bool {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()

	if s.slots[slot].Load() != v {
		return false
	}
	req, ok := v.nextRequest(s.chunkFrames)
	if !ok {
		return false
	}

	st := &s.readers[slot]
	if st.r == nil || st.gen != req.gen || st.pos != req.from {
		s.closeReader(slot)
		r, err := s.open(req.path)
		if err != nil {
			s.fail(v, req, err)
			return true
		}
		if r.Info().Channels != req.channels {
			r.Close()
			s.fail(v, req, errors.New("channel count changed"))
			return true
		}
		if err := audiofile.Skip(r, req.from, s.scratch); err != nil {
			r.Close()
			s.fail(v, req, err)
			return true
		}
		*st = slotReader{r: r, gen: req.gen, pos: req.from}
	}

	buf := s.scratch[:req.frames*req.channels]
	got, err := st.r.ReadFrames(buf)
	st.pos += int64(got)
	s.windowBytes += int64(got * req.channels * 4)

	end := errors.Is(err, io.EOF)
	failed := err != nil && !end
	if failed {
		s.logger.Debug("stream read failed", "path", req.path, "err", err)
	}
	if !v.commit(req.gen, buf, got, end || failed, failed) || end || failed {
		s.closeReader(slot)
	}
	return true
}

func (s *DiskStreamer) fail(v *Voice, req streamRequest, err error) {
	s.logger.Debug("stream open failed", "path", req.path, "err", err)
	v.commit(req.gen, nil, 0, true, true)
}

// closeReader requires fillMu or the streamer goroutine to be stopped.
func (s *DiskStreamer) closeReader(slot int) {
	st := &s.readers[slot]
	if st.r != nil {
		st.r.Close()
	}
	*st = slotReader{}
}

func (s *DiskStreamer) closeAll() {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	for i := range s.readers {
		s.closeReader(i)
	}
}

func (s *DiskStreamer) updateThroughput(now time.Time) {
	elapsed := now.Sub(s.windowStart)
	if elapsed < throughputWindow {
		return
	}
	inst := float64(s.windowBytes) / elapsed.Seconds() / (1024 * 1024)
	prev := s.Throughput()
	s.throughput.Store(math.Float64bits(prev + throughputSmoothing*(inst-prev)))
	s.windowBytes = 0
	s.windowStart = now
}
