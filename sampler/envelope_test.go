package sampler

import (
	"math"
	"testing"
)

func newTestEnvelope(p ADSR) *envelope {
	e := &envelope{}
	e.setParams(p)
	e.setSampleRate(1000)
	return e
}

func TestEnvelopeAttackDecaySustain(t *testing.T) {
	e := newTestEnvelope(ADSR{Attack: 0.1, Decay: 0.1, Sustain: 0.5, Release: 0.1})
	e.trigger()

	for i := 0; i < 50; i++ {
		e.next()
	}
	if math.Abs(float64(e.level)-0.5) > 0.02 {
		t.Fatalf("expected linear attack halfway: got=%f want=0.5", e.level)
	}
	for i := 0; i < 60; i++ {
		e.next()
	}
	if e.stage != StageDecay {
		t.Fatalf("expected decay stage, got %s", e.stage)
	}
	for i := 0; i < 200; i++ {
		e.next()
	}
	if e.stage != StageSustain || e.level != 0.5 {
		t.Fatalf("expected sustain at 0.5, got stage=%s level=%f", e.stage, e.level)
	}
}

func TestEnvelopeReleaseFromCurrentLevel(t *testing.T) {
	e := newTestEnvelope(ADSR{Attack: 0.01, Decay: 0.01, Sustain: 0.8, Release: 0.2})
	e.trigger()
	for i := 0; i < 100; i++ {
		e.next()
	}
	e.release(0.2)
	if e.stage != StageRelease {
		t.Fatalf("expected release stage, got %s", e.stage)
	}
	steps := 0
	for e.active() && steps < 1000 {
		e.next()
		steps++
	}
	if steps < 195 || steps > 205 {
		t.Fatalf("unexpected release length: got=%d want~200", steps)
	}
}

func TestEnvelopeReleaseDuringAttack(t *testing.T) {
	e := newTestEnvelope(ADSR{Attack: 1, Decay: 0.1, Sustain: 1, Release: 0.1})
	e.trigger()
	for i := 0; i < 100; i++ {
		e.next()
	}
	start := e.level
	e.release(0.1)
	e.next()
	if e.level >= start {
		t.Fatalf("expected level to fall after release: start=%f now=%f", start, e.level)
	}
}

func TestEnvelopeQuickFadeOverridesStage(t *testing.T) {
	e := newTestEnvelope(ADSR{Attack: 0.001, Decay: 0.001, Sustain: 1, Release: 5})
	e.setSampleRate(48000)
	e.trigger()
	for i := 0; i < 200; i++ {
		e.next()
	}
	e.quickFade(0.010)
	steps := 0
	for e.active() && steps < 10000 {
		e.next()
		steps++
	}
	if steps < 470 || steps > 490 {
		t.Fatalf("unexpected fade length: got=%d want~480", steps)
	}
	if e.level != 0 || e.fading {
		t.Fatalf("expected idle envelope after fade, got level=%f fading=%v", e.level, e.fading)
	}
}

func TestEnvelopeReleaseAtPeak(t *testing.T) {
	e := newTestEnvelope(ADSR{Attack: 0.01, Decay: 0.1, Sustain: 1, Release: 0.05})
	e.trigger()
	e.releaseAtPeak = true
	for i := 0; i < 11; i++ {
		e.next()
	}
	if e.stage != StageRelease {
		t.Fatalf("expected release after attack peak, got %s", e.stage)
	}
}

func TestEnvelopeReleaseAtZeroGoesIdle(t *testing.T) {
	e := newTestEnvelope(ADSR{Attack: 0.1, Decay: 0.1, Sustain: 1, Release: 0.1})
	e.trigger()
	e.release(0.1)
	if e.active() {
		t.Fatalf("expected idle envelope when released at level 0")
	}
}

func TestADSRClamped(t *testing.T) {
	c := ADSR{Attack: 0, Decay: 100, Sustain: 2, Release: -1}.Clamped()
	if c.Attack != minEnvelopeTime || c.Decay != maxEnvelopeTime || c.Sustain != 1 || c.Release != minEnvelopeTime {
		t.Fatalf("unexpected clamped adsr: %+v", c)
	}
}
