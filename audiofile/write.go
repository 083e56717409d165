package audiofile

import (
	"fmt"
	"os"
	"path/filepath"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	cwav "github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/algo-sampler/dsp"
)

// WriteWAV writes interleaved float32 frames as a 16-bit PCM WAV file,
// creating parent directories as needed.
func WriteWAV(path string, interleaved []float32, sampleRate, channels int) error {
	if channels < 1 {
		return fmt.Errorf("write wav: invalid channel count %d", channels)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := cwav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: channels,
		},
		Data:           interleaved,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Resample converts interleaved frames from one rate to another, channel by
// channel. Equal rates return data unchanged.
func Resample(data []float32, channels int, fromRate, toRate float64) ([]float32, error) {
	if fromRate == toRate || len(data) == 0 {
		return data, nil
	}
	if channels < 1 {
		return nil, fmt.Errorf("resample: invalid channel count %d", channels)
	}

	frames := len(data) / channels
	planes := dsp.MakeChannels(channels, frames)
	dsp.Deinterleave(planes, data)

	outPlanes := make([][]float32, channels)
	plane := make([]float64, frames)
	for c, src := range planes {
		r, err := dspresample.NewForRates(fromRate, toRate, dspresample.WithQuality(dspresample.QualityBest))
		if err != nil {
			return nil, err
		}
		for i, v := range src {
			plane[i] = float64(v)
		}
		y := r.Process(plane)
		dst := make([]float32, len(y))
		for i, v := range y {
			dst[i] = float32(v)
		}
		outPlanes[c] = dst
	}

	outFrames := len(outPlanes[0])
	for _, p := range outPlanes[1:] {
		outFrames = min(outFrames, len(p))
	}
	for c := range outPlanes {
		outPlanes[c] = outPlanes[c][:outFrames]
	}
	out := make([]float32, outFrames*channels)
	dsp.Interleave(out, outPlanes)
	return out, nil
}
