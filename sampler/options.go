package sampler

import (
	"log/slog"

	"github.com/cwbudde/algo-sampler/audiofile"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the loader and the disk streamer.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOpener replaces the audio file decoder, e.g. to inject failures.
func WithOpener(open audiofile.Opener) Option {
	return func(e *Engine) {
		if open != nil {
			e.open = open
		}
	}
}
