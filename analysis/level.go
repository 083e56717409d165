// Package analysis measures rendered audio: levels, pitch and similarity to
// a reference recording.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// silenceDB is reported for zero-energy signals.
const silenceDB = -120.0

// RMS returns the root mean square of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
}

// Peak returns the largest absolute sample value.
func Peak(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Max(x)), math.Abs(floats.Min(x)))
}

// LinToDB converts a linear amplitude to decibels, floored at -120 dB.
func LinToDB(x float64) float64 {
	if x <= 0 {
		return silenceDB
	}
	return math.Max(20*math.Log10(x), silenceDB)
}

// Envelope returns the RMS of consecutive frames of length frame spaced
// hop samples apart.
func Envelope(x []float64, frame, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	out := make([]float64, 0, (len(x)-frame)/hop+1)
	for i := 0; i+frame <= len(x); i += hop {
		out = append(out, RMS(x[i:i+frame]))
	}
	return out
}

// ToFloat64 converts float32 samples.
func ToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// MixDown averages interleaved frames into one channel.
func MixDown(interleaved []float32, channels int) []float64 {
	if channels <= 1 {
		return ToFloat64(interleaved)
	}
	n := len(interleaved) / channels
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(interleaved[i*channels+c])
		}
		out[i] = sum / float64(channels)
	}
	return out
}
