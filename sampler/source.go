package sampler

import "sync/atomic"

// Source is the playback capability a voice renders from. Resident samples
// and streamed samples both implement it.
type Source interface {
	// ReadFrames copies up to frames interleaved frames beginning at absolute
	// frame start into dst and returns how many were available now.
	ReadFrames(dst []float32, start int64, frames int) int
	Channels() int
	TotalFrames() int64
	// Exhausted reports that no frame at or after frame will ever become
	// available.
	Exhausted(frame int64) bool
}

// headBuffer is decoded sample data starting at frame 0. For resident
// samples it holds the whole file.
type headBuffer struct {
	data     []float32
	channels int
	frames   int64
	rate     float64
}

func newHeadBuffer(data []float32, channels int, rate float64) *headBuffer {
	return &headBuffer{data: data, channels: channels, frames: int64(len(data) / channels), rate: rate}
}

func (h *headBuffer) copyOut(dst []float32, start int64, n int) int {
	if h == nil || start < 0 || start >= h.frames {
		return 0
	}
	n = int(min(int64(n), h.frames-start))
	copy(dst[:n*h.channels], h.data[int(start)*h.channels:])
	return n
}

func (h *headBuffer) bytes() int64 {
	if h == nil {
		return 0
	}
	return int64(len(h.data)) * 4
}

// residentSource plays a fully decoded sample.
type residentSource struct {
	head *headBuffer
}

func (s *residentSource) ReadFrames(dst []float32, start int64, frames int) int {
	return s.head.copyOut(dst, start, frames)
}

func (s *residentSource) Channels() int      { return s.head.channels }
func (s *residentSource) TotalFrames() int64 { return s.head.frames }

func (s *residentSource) Exhausted(frame int64) bool { return frame >= s.head.frames }

// streamingSource serves frames from the preloaded head and then from the
// voice's ring buffer.
type streamingSource struct {
	head  *headBuffer
	ring  *ringBuffer
	total int64
	ended *atomic.Bool
}

func (s *streamingSource) ReadFrames(dst []float32, start int64, frames int) int {
	got := 0
	if start < s.head.frames {
		got = s.head.copyOut(dst, start, frames)
		if got == frames {
			return got
		}
	}
	ch := s.head.channels
	return got + s.ring.copyOut(dst[got*ch:], start+int64(got), frames-got)
}

func (s *streamingSource) Channels() int      { return s.head.channels }
func (s *streamingSource) TotalFrames() int64 { return s.total }

func (s *streamingSource) Exhausted(frame int64) bool {
	if frame >= s.total {
		return true
	}
	if frame < s.head.frames {
		return false
	}
	return s.ended.Load() && frame >= s.ring.write.Load()
}
