package audiofile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to 16-bit little-endian stereo.
const mp3BytesPerFrame = 4

type mp3Reader struct {
	f    *os.File
	dec  *mp3.Decoder
	info Info
	raw  []byte
}

func openMP3(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3 %s: %w", path, err)
	}
	frames := dec.Length() / mp3BytesPerFrame
	if frames < 0 {
		frames = 0
	}
	return &mp3Reader{
		f:   f,
		dec: dec,
		info: Info{
			SampleRate:  float64(dec.SampleRate()),
			Channels:    2,
			TotalFrames: frames,
		},
	}, nil
}

func (r *mp3Reader) Info() Info { return r.info }

func (r *mp3Reader) ReadFrames(dst []float32) (int, error) {
	frames := len(dst) / 2
	if frames == 0 {
		return 0, nil
	}
	need := frames * mp3BytesPerFrame
	if cap(r.raw) < need {
		r.raw = make([]byte, need)
	}
	raw := r.raw[:need]

	n, err := io.ReadFull(r.dec, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	got := n / mp3BytesPerFrame
	for i := 0; i < got*2; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		dst[i] = float32(s) / 32768
	}
	return got, err
}

func (r *mp3Reader) Close() error { return r.f.Close() }
