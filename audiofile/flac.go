package audiofile

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

type flacReader struct {
	stream *flac.Stream
	info   Info
	scale  float32
	cur    *frame.Frame
	pos    int // next unread sample index in cur
}

func openFLAC(path string) (Reader, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flac %s: %w", path, err)
	}
	si := stream.Info
	if si == nil || si.NChannels == 0 {
		stream.Close()
		return nil, fmt.Errorf("invalid flac header: %s", path)
	}
	return &flacReader{
		stream: stream,
		info: Info{
			SampleRate:  float64(si.SampleRate),
			Channels:    int(si.NChannels),
			TotalFrames: int64(si.NSamples),
		},
		scale: intScale(int(si.BitsPerSample)),
	}, nil
}

func (r *flacReader) Info() Info { return r.info }

func (r *flacReader) ReadFrames(dst []float32) (int, error) {
	ch := r.info.Channels
	want := len(dst) / ch
	done := 0
	for done < want {
		if r.cur == nil || r.pos >= len(r.cur.Subframes[0].Samples) {
			f, err := r.stream.ParseNext()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return done, io.EOF
				}
				return done, err
			}
			if len(f.Subframes) < ch {
				return done, fmt.Errorf("flac frame has %d subframes, want %d", len(f.Subframes), ch)
			}
			r.cur, r.pos = f, 0
			continue
		}

		n := min(len(r.cur.Subframes[0].Samples)-r.pos, want-done)
		for c := 0; c < ch; c++ {
			src := r.cur.Subframes[c].Samples[r.pos : r.pos+n]
			for i, v := range src {
				dst[(done+i)*ch+c] = float32(v) * r.scale
			}
		}
		r.pos += n
		done += n
	}
	return done, nil
}

func (r *flacReader) Close() error { return r.stream.Close() }
