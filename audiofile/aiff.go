package audiofile

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
)

type aiffReader struct {
	f     *os.File
	dec   *aiff.Decoder
	info  Info
	scale float32
	buf   *audio.IntBuffer
	left  int64
}

func openAIFF(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec := aiff.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("invalid aiff file: %s", path)
	}
	ch := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if ch < 1 || bitDepth < 8 {
		f.Close()
		return nil, fmt.Errorf("invalid aiff header: %s", path)
	}
	frames := int64(dec.NumSampleFrames)
	return &aiffReader{
		f:   f,
		dec: dec,
		info: Info{
			SampleRate:  float64(dec.SampleRate),
			Channels:    ch,
			TotalFrames: frames,
		},
		scale: intScale(bitDepth),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: ch, SampleRate: int(dec.SampleRate)},
			SourceBitDepth: bitDepth,
		},
		left: frames,
	}, nil
}

func (r *aiffReader) Info() Info { return r.info }

func (r *aiffReader) ReadFrames(dst []float32) (int, error) {
	ch := r.info.Channels
	frames := min(int64(len(dst)/ch), r.left)
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
	for i, v := range r.buf.Data[:got*ch] {
		dst[i] = float32(v) * r.scale
	}
	r.left -= int64(got)
	if err == nil && r.left <= 0 {
		err = io.EOF
	}
	return got, err
}

func (r *aiffReader) Close() error { return r.f.Close() }
