package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-sampler/sampler"
)

// File is the JSON schema for sampler presets.
type File struct {
	SampleFolder string `json:"sample_folder"`

	Attack  *float32 `json:"attack"`
	Decay   *float32 `json:"decay"`
	Sustain *float32 `json:"sustain"`
	Release *float32 `json:"release"`

	PreloadSizeKB       *int   `json:"preload_size_kb"`
	Mode                string `json:"mode"`
	ConformResidentRate *bool  `json:"conform_resident_rate"`

	MaxVoices        *int     `json:"max_voices"`
	MaxVoicesPerNote *int     `json:"max_voices_per_note"`
	SameNoteRelease  *float32 `json:"same_note_release"`
	QuickFade        *float32 `json:"quick_fade"`

	Transpose          *int `json:"transpose"`
	SampleOffset       *int `json:"sample_offset"`
	VelocityLayerLimit *int `json:"velocity_layer_limit"`
	RoundRobinLimit    *int `json:"round_robin_limit"`

	ProbeCachePath string `json:"probe_cache_path"`
}

// Config is a loaded preset: engine parameters plus the library to load.
type Config struct {
	Params       *sampler.Params
	SampleFolder string
}

// LoadJSON loads a preset JSON file and applies it on top of default params.
// Relative paths are resolved against the preset's directory.
func LoadJSON(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := &Config{Params: sampler.NewDefaultParams()}
	if err := ApplyFile(cfg, &f); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	cfg.SampleFolder = resolve(base, cfg.SampleFolder)
	cfg.Params.ProbeCachePath = resolve(base, cfg.Params.ProbeCachePath)
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// ApplyFile applies a parsed preset file onto an existing config.
func ApplyFile(dst *Config, f *File) error {
	if dst == nil || dst.Params == nil {
		return fmt.Errorf("nil destination params")
	}
	if f == nil {
		return nil
	}
	p := dst.Params

	if s := strings.TrimSpace(f.SampleFolder); s != "" {
		dst.SampleFolder = s
	}

	times := []struct {
		name string
		src  *float32
		dst  *float32
	}{
		{"attack", f.Attack, &p.ADSR.Attack},
		{"decay", f.Decay, &p.ADSR.Decay},
		{"release", f.Release, &p.ADSR.Release},
		{"same_note_release", f.SameNoteRelease, &p.SameNoteRelease},
		{"quick_fade", f.QuickFade, &p.QuickFade},
	}
	for _, tv := range times {
		if tv.src == nil {
			continue
		}
		if *tv.src <= 0 || *tv.src > 10 {
			return fmt.Errorf("%s must be in (0,10] seconds", tv.name)
		}
		*tv.dst = *tv.src
	}
	if f.Sustain != nil {
		if *f.Sustain < 0 || *f.Sustain > 1 {
			return fmt.Errorf("sustain must be in [0,1]")
		}
		p.ADSR.Sustain = *f.Sustain
	}

	if f.PreloadSizeKB != nil {
		kb := *f.PreloadSizeKB
		if kb < sampler.MinPreloadSizeKB || kb > sampler.MaxPreloadSizeKB {
			return fmt.Errorf("preload_size_kb must be in [%d,%d]", sampler.MinPreloadSizeKB, sampler.MaxPreloadSizeKB)
		}
		p.PreloadSizeKB = kb
	}
	switch strings.ToLower(strings.TrimSpace(f.Mode)) {
	case "":
	case "streaming":
		p.Mode = sampler.ModeStreaming
	case "resident":
		p.Mode = sampler.ModeResident
	default:
		return fmt.Errorf("invalid mode %q (expected streaming or resident)", f.Mode)
	}
	if f.ConformResidentRate != nil {
		p.ConformResidentRate = *f.ConformResidentRate
	}

	if f.MaxVoices != nil {
		if *f.MaxVoices < 1 || *f.MaxVoices > 1024 {
			return fmt.Errorf("max_voices must be in [1,1024]")
		}
		p.MaxVoices = *f.MaxVoices
	}
	if f.MaxVoicesPerNote != nil {
		if *f.MaxVoicesPerNote < 0 {
			return fmt.Errorf("max_voices_per_note must be >= 0")
		}
		p.MaxVoicesPerNote = *f.MaxVoicesPerNote
	}

	if f.Transpose != nil {
		if *f.Transpose < -sampler.MaxTranspose || *f.Transpose > sampler.MaxTranspose {
			return fmt.Errorf("transpose must be in [%d,%d]", -sampler.MaxTranspose, sampler.MaxTranspose)
		}
		p.Transpose = *f.Transpose
	}
	if f.SampleOffset != nil {
		if *f.SampleOffset < -sampler.MaxSampleOffset || *f.SampleOffset > sampler.MaxSampleOffset {
			return fmt.Errorf("sample_offset must be in [%d,%d]", -sampler.MaxSampleOffset, sampler.MaxSampleOffset)
		}
		p.SampleOffset = *f.SampleOffset
	}
	if f.VelocityLayerLimit != nil {
		if *f.VelocityLayerLimit < 0 {
			return fmt.Errorf("velocity_layer_limit must be >= 0")
		}
		p.VelocityLayerLimit = *f.VelocityLayerLimit
	}
	if f.RoundRobinLimit != nil {
		if *f.RoundRobinLimit < 0 {
			return fmt.Errorf("round_robin_limit must be >= 0")
		}
		p.RoundRobinLimit = *f.RoundRobinLimit
	}

	if s := strings.TrimSpace(f.ProbeCachePath); s != "" {
		p.ProbeCachePath = s
	}
	return nil
}
