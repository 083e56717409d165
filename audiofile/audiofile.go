// Package audiofile decodes sample files into interleaved float32 frames.
//
// WAV, AIFF, FLAC and MP3 are supported. Readers are sequential: a caller
// that needs frames from the middle of a file opens it and skips forward.
package audiofile

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for files no decoder handles.
var ErrUnsupportedFormat = errors.New("audiofile: unsupported format")

// MaxChannels is the largest channel count accepted by Open.
const MaxChannels = 8

// Info holds the properties of an audio file.
type Info struct {
	SampleRate  float64
	Channels    int
	TotalFrames int64
}

// Reader streams interleaved float32 frames.
type Reader interface {
	Info() Info
	// ReadFrames decodes up to len(dst)/Channels frames into dst and returns
	// the number of frames written. At end of file it returns io.EOF, possibly
	// together with a final partial read.
	ReadFrames(dst []float32) (int, error)
	Close() error
}

// Opener opens a Reader for a path. Open is the default.
type Opener func(path string) (Reader, error)

// Open picks a decoder by file extension.
func Open(path string) (Reader, error) {
	var (
		r   Reader
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		r, err = openWAV(path)
	case ".aif", ".aiff":
		r, err = openAIFF(path)
	case ".flac":
		r, err = openFLAC(path)
	case ".mp3":
		r, err = openMP3(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}

	info := r.Info()
	if info.Channels < 1 || info.Channels > MaxChannels || info.SampleRate <= 0 {
		r.Close()
		return nil, fmt.Errorf("%w: %s has %d channels at %g Hz", ErrUnsupportedFormat, path, info.Channels, info.SampleRate)
	}
	return r, nil
}

// Probe returns the Info of path.
func Probe(open Opener, path string) (Info, error) {
	if open == nil {
		open = Open
	}
	r, err := open(path)
	if err != nil {
		return Info{}, err
	}
	defer r.Close()
	return r.Info(), nil
}

// ReadHead decodes the first maxFrames frames of path, or the whole file when
// maxFrames is negative. The result may be shorter than requested when the
// file ends early.
func ReadHead(open Opener, path string, maxFrames int64) ([]float32, Info, error) {
	if open == nil {
		open = Open
	}
	r, err := open(path)
	if err != nil {
		return nil, Info{}, err
	}
	defer r.Close()

	info := r.Info()
	want := info.TotalFrames
	if maxFrames >= 0 && maxFrames < want {
		want = maxFrames
	}
	if want <= 0 {
		return nil, info, nil
	}

	ch := info.Channels
	data := make([]float32, want*int64(ch))
	got, err := readFull(r, data, ch)
	if err != nil {
		return nil, info, fmt.Errorf("read %s: %w", path, err)
	}
	return data[:got*int64(ch)], info, nil
}

// Skip reads and discards frames from r using scratch as decode space.
func Skip(r Reader, frames int64, scratch []float32) error {
	ch := r.Info().Channels
	chunk := int64(len(scratch) / ch)
	if chunk == 0 {
		return fmt.Errorf("skip: scratch smaller than one frame")
	}
	for frames > 0 {
		n := min(chunk, frames)
		got, err := r.ReadFrames(scratch[:n*int64(ch)])
		frames -= int64(got)
		if err != nil {
			if errors.Is(err, io.EOF) && frames <= 0 {
				return nil
			}
			return err
		}
		if got == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

// readFull fills dst until it is full or the file ends.
func readFull(r Reader, dst []float32, ch int) (int64, error) {
	var total int64
	for int(total)*ch < len(dst) {
		got, err := r.ReadFrames(dst[int(total)*ch:])
		total += int64(got)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		if got == 0 {
			return total, nil
		}
	}
	return total, nil
}

// intScale returns the factor mapping signed integer samples of bitDepth to
// [-1, 1).
func intScale(bitDepth int) float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		return 0
	}
	return 1 / float32(uint64(1)<<uint(bitDepth-1))
}
