package sampler

import dspcore "github.com/cwbudde/algo-dsp/dsp/core"

// EnvelopeStage is the current segment of a voice envelope.
type EnvelopeStage int

const (
	StageIdle EnvelopeStage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
)

func (s EnvelopeStage) String() string {
	switch s {
	case StageAttack:
		return "attack"
	case StageDecay:
		return "decay"
	case StageSustain:
		return "sustain"
	case StageRelease:
		return "release"
	default:
		return "idle"
	}
}

// envelope is a linear ADSR with an independent quick fade that overrides
// whatever stage is running.
type envelope struct {
	sampleRate float64
	params     ADSR

	stage EnvelopeStage
	level float32

	attackStep  float32
	decayStep   float32
	releaseStep float32

	fading   bool
	fadeStep float32

	// releaseAtPeak starts the release as soon as the attack completes.
	releaseAtPeak bool
}

func (e *envelope) setSampleRate(sr float64) {
	e.sampleRate = sr
	e.setParams(e.params)
}

// setParams takes effect on the attack and decay slopes immediately. A
// release already in progress keeps its slope.
func (e *envelope) setParams(p ADSR) {
	e.params = p
	if e.sampleRate <= 0 {
		return
	}
	e.attackStep = float32(1 / (float64(p.Attack) * e.sampleRate))
	e.decayStep = float32(float64(1-p.Sustain) / (float64(p.Decay) * e.sampleRate))
}

func (e *envelope) trigger() {
	e.stage = StageAttack
	e.level = 0
	e.fading = false
	e.releaseAtPeak = false
}

// release ramps from the current level to zero over seconds.
func (e *envelope) release(seconds float32) {
	if e.stage == StageIdle {
		return
	}
	if e.level <= 0 || seconds <= 0 || e.sampleRate <= 0 {
		e.reset()
		return
	}
	e.stage = StageRelease
	e.releaseStep = float32(float64(e.level) / (float64(seconds) * e.sampleRate))
}

// quickFade ramps to zero over seconds regardless of stage.
func (e *envelope) quickFade(seconds float32) {
	if e.stage == StageIdle || e.fading {
		return
	}
	if e.level <= 0 || seconds <= 0 || e.sampleRate <= 0 {
		e.reset()
		return
	}
	e.fading = true
	e.fadeStep = float32(float64(e.level) / (float64(seconds) * e.sampleRate))
}

func (e *envelope) reset() {
	e.stage = StageIdle
	e.level = 0
	e.fading = false
	e.releaseAtPeak = false
}

func (e *envelope) active() bool { return e.stage != StageIdle }

// next advances one sample and returns the new level.
func (e *envelope) next() float32 {
	if e.fading {
		e.level = float32(dspcore.FlushDenormals(float64(e.level - e.fadeStep)))
		if e.level <= 0 {
			e.reset()
		}
		return e.level
	}

	switch e.stage {
	case StageAttack:
		e.level += e.attackStep
		if e.level >= 1 {
			e.level = 1
			e.stage = StageDecay
			if e.releaseAtPeak {
				e.releaseAtPeak = false
				e.release(e.params.Release)
			}
		}
	case StageDecay:
		e.level -= e.decayStep
		if e.level <= e.params.Sustain {
			e.level = e.params.Sustain
			e.stage = StageSustain
		}
	case StageSustain:
		e.level = e.params.Sustain
	case StageRelease:
		e.level = float32(dspcore.FlushDenormals(float64(e.level - e.releaseStep)))
		if e.level <= 0 {
			e.reset()
		}
	default:
		e.level = 0
	}
	return e.level
}
