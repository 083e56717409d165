package audiofile

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

type wavReader struct {
	f        *os.File
	dec      *wav.Decoder
	info     Info
	bitDepth int
	scale    float32
	buf      *audio.IntBuffer
	left     int64
}

func openWAV(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("invalid wav file: %s", path)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		f.Close()
		return nil, fmt.Errorf("%w: %s uses wav format %d", ErrUnsupportedFormat, path, dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav %s: %w", path, err)
	}

	bitDepth := int(dec.SampleBitDepth())
	ch := int(dec.NumChans)
	if bitDepth < 8 || ch < 1 {
		f.Close()
		return nil, fmt.Errorf("invalid wav header: %s", path)
	}
	bytesPerSample := (bitDepth-1)/8 + 1
	frames := dec.PCMLen() / int64(bytesPerSample*ch)

	return &wavReader{
		f:   f,
		dec: dec,
		info: Info{
			SampleRate:  float64(dec.SampleRate),
			Channels:    ch,
			TotalFrames: frames,
		},
		bitDepth: bitDepth,
		scale:    intScale(bitDepth),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: ch, SampleRate: int(dec.SampleRate)},
			SourceBitDepth: bitDepth,
		},
		left: frames,
	}, nil
}

func (r *wavReader) Info() Info { return r.info }

func (r *wavReader) ReadFrames(dst []float32) (int, error) {
	ch := r.info.Channels
	frames := int64(len(dst) / ch)
	if frames > r.left {
		frames = r.left
	}
	if frames <= 0 {
		return 0, io.EOF
	}

	want := int(frames) * ch
	if cap(r.buf.Data) < want {
		r.buf.Data = make([]int, want)
	}
	r.buf.Data = r.buf.Data[:want]

	n, err := r.dec.PCMBuffer(r.buf)
	got := n / ch
	if got == 0 {
		if err != nil {
			return 0, err
		}
		r.left = 0
		return 0, io.EOF
	}

	offset := 0
	if r.bitDepth == 8 {
		offset = 128
	}
	for i, v := range r.buf.Data[:got*ch] {
		dst[i] = float32(v-offset) * r.scale
	}
	r.left -= int64(got)
	if err == nil && r.left <= 0 {
		err = io.EOF
	}
	return got, err
}

func (r *wavReader) Close() error { return r.f.Close() }
