package sampler

// Mode selects how sample data reaches the voices.
type Mode int

const (
	// ModeStreaming keeps only a head of each sample in memory and streams
	// the rest from disk.
	ModeStreaming Mode = iota
	// ModeResident decodes every sample fully into memory at load time.
	ModeResident
)

func (m Mode) String() string {
	if m == ModeResident {
		return "resident"
	}
	return "streaming"
}

// ADSR holds envelope times in seconds and the sustain level in [0, 1].
type ADSR struct {
	Attack  float32
	Decay   float32
	Sustain float32
	Release float32
}

const (
	minEnvelopeTime = 0.001
	maxEnvelopeTime = 10.0
)

// Clamped returns a copy with times limited to 1 ms..10 s and sustain to 0..1.
func (a ADSR) Clamped() ADSR {
	return ADSR{
		Attack:  clampf(a.Attack, minEnvelopeTime, maxEnvelopeTime),
		Decay:   clampf(a.Decay, minEnvelopeTime, maxEnvelopeTime),
		Sustain: clampf(a.Sustain, 0, 1),
		Release: clampf(a.Release, minEnvelopeTime, maxEnvelopeTime),
	}
}

const (
	MinPreloadSizeKB = 32
	MaxPreloadSizeKB = 1024
	MaxTranspose     = 48
	MaxSampleOffset  = 48
)

// Params holds the engine configuration.
type Params struct {
	ADSR ADSR

	PreloadSizeKB int // per-sample head size, 32..1024
	Mode          Mode
	// ConformResidentRate resamples resident samples to the host rate at
	// load time.
	ConformResidentRate bool

	MaxVoices        int
	MaxVoicesPerNote int // 0 disables the cap

	SameNoteRelease float32 // seconds
	QuickFade       float32 // seconds

	StreamChunkFrames int
	RingChunks        int

	Transpose    int // semitones applied to the played note
	SampleOffset int // semitones applied when choosing the sample

	VelocityLayerLimit int // 0 means all layers
	RoundRobinLimit    int // 0 means all round-robins

	ProbeWorkers   int
	ProbeCachePath string // empty disables the probe cache
}

// NewDefaultParams creates default parameters.
func NewDefaultParams() *Params {
	return &Params{
		ADSR: ADSR{
			Attack:  0.01,
			Decay:   0.1,
			Sustain: 0.7,
			Release: 0.3,
		},
		PreloadSizeKB:     64,
		Mode:              ModeStreaming,
		MaxVoices:         64,
		MaxVoicesPerNote:  4,
		SameNoteRelease:   0.25,
		QuickFade:         0.010,
		StreamChunkFrames: 4096,
		RingChunks:        4,
		ProbeWorkers:      4,
	}
}

// normalized returns a copy with out-of-range values replaced or clamped.
func (p *Params) normalized() Params {
	def := NewDefaultParams()
	if p == nil {
		return *def
	}
	out := *p
	out.ADSR = out.ADSR.Clamped()
	out.PreloadSizeKB = clampPreloadKB(out.PreloadSizeKB)
	if out.MaxVoices < 1 {
		out.MaxVoices = def.MaxVoices
	}
	if out.MaxVoicesPerNote < 0 {
		out.MaxVoicesPerNote = 0
	}
	if out.SameNoteRelease <= 0 {
		out.SameNoteRelease = def.SameNoteRelease
	}
	if out.QuickFade <= 0 {
		out.QuickFade = def.QuickFade
	}
	if out.StreamChunkFrames < 256 {
		out.StreamChunkFrames = def.StreamChunkFrames
	}
	if out.RingChunks < 2 {
		out.RingChunks = def.RingChunks
	}
	out.Transpose = clampInt(out.Transpose, -MaxTranspose, MaxTranspose)
	out.SampleOffset = clampInt(out.SampleOffset, -MaxSampleOffset, MaxSampleOffset)
	out.VelocityLayerLimit = max(out.VelocityLayerLimit, 0)
	out.RoundRobinLimit = max(out.RoundRobinLimit, 0)
	if out.ProbeWorkers < 1 {
		out.ProbeWorkers = def.ProbeWorkers
	}
	return out
}

func clampPreloadKB(kb int) int {
	return clampInt(kb, MinPreloadSizeKB, MaxPreloadSizeKB)
}
