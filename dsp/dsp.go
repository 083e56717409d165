// Package dsp holds small buffer helpers shared by the engine and the tools.
package dsp

import "github.com/tphakala/simd/f32"

// Lerp interpolates linearly between a and b.
func Lerp(a, b, frac float32) float32 {
	return a + (b-a)*frac
}

// Clear zeroes every channel.
func Clear(bufs [][]float32) {
	for _, b := range bufs {
		clear(b)
	}
}

// ApplyGain scales buf in place.
func ApplyGain(buf []float32, gain float32) {
	if gain == 1 || len(buf) == 0 {
		return
	}
	f32.Scale(buf, buf, gain)
}

// Interleave writes planar channels into dst frame by frame. dst must hold
// len(channels[0])*len(channels) samples.
func Interleave(dst []float32, channels [][]float32) {
	switch len(channels) {
	case 0:
		return
	case 1:
		copy(dst, channels[0])
	case 2:
		f32.Interleave2(dst, channels[0], channels[1])
	default:
		n := len(channels)
		for c, ch := range channels {
			for i, v := range ch {
				dst[i*n+c] = v
			}
		}
	}
}

// Deinterleave splits interleaved frames into planar channels.
func Deinterleave(channels [][]float32, src []float32) {
	n := len(channels)
	if n == 0 {
		return
	}
	frames := len(src) / n
	for c, ch := range channels {
		for i := 0; i < frames && i < len(ch); i++ {
			ch[i] = src[i*n+c]
		}
	}
}

// Energy returns the sum of squares of buf.
func Energy(buf []float32) float32 {
	if len(buf) == 0 {
		return 0
	}
	return f32.DotProductUnsafe(buf, buf)
}

// MakeChannels allocates n planar buffers of frames samples each.
func MakeChannels(n, frames int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}
