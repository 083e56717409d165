package sampler

import "sync/atomic"

// ringBuffer is a single-producer single-consumer frame FIFO addressed by
// absolute source frame index. The disk streamer writes at the write cursor,
// the owning voice reads behind it and publishes how far it has consumed
// through the read cursor.
//
// Geometry (channels, frames, base) changes only while the voice's streamMu
// is held and no producer write is in flight.
type ringBuffer struct {
	data     []float32
	channels int
	frames   int64 // power of two
	mask     int64
	base     int64 // absolute frame stored at slot 0

	write atomic.Int64 // one past the last frame written
	read  atomic.Int64 // oldest frame the consumer still needs
}

func newRingBuffer(samples int) *ringBuffer {
	return &ringBuffer{data: make([]float32, samples)}
}

// reset prepares the ring for a new stream whose first ring frame is base.
func (r *ringBuffer) reset(channels int, base int64) {
	r.channels = max(channels, 1)
	r.frames = floorPow2(int64(len(r.data) / r.channels))
	r.mask = r.frames - 1
	r.base = base
	r.write.Store(base)
	r.read.Store(base)
}

func (r *ringBuffer) slot(frame int64) int {
	return int((frame-r.base)&r.mask) * r.channels
}

// writable returns how many frames can be pushed without overwriting data
// the consumer still needs.
func (r *ringBuffer) writable() int64 {
	return r.frames - (r.write.Load() - r.read.Load())
}

// push appends n interleaved frames from src. The caller guarantees
// n <= writable().
func (r *ringBuffer) push(src []float32, n int) {
	w := r.write.Load()
	ch := r.channels
	for done := 0; done < n; {
		s := r.slot(w + int64(done))
		run := min(n-done, int(r.frames)-s/ch)
		copy(r.data[s:s+run*ch], src[done*ch:(done+run)*ch])
		done += run
	}
	r.write.Add(int64(n))
}

// copyOut copies up to n frames starting at absolute frame start into dst
// and returns how many were available.
func (r *ringBuffer) copyOut(dst []float32, start int64, n int) int {
	w := r.write.Load()
	if start < r.base || start >= w {
		return 0
	}
	n = int(min(int64(n), w-start))
	ch := r.channels
	for done := 0; done < n; {
		s := r.slot(start + int64(done))
		run := min(n-done, int(r.frames)-s/ch)
		copy(dst[done*ch:(done+run)*ch], r.data[s:s+run*ch])
		done += run
	}
	return n
}

// consume marks frames before frame as no longer needed.
func (r *ringBuffer) consume(frame int64) {
	if frame > r.read.Load() {
		r.read.Store(min(frame, r.write.Load()))
	}
}
