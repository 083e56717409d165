package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Metrics compares a rendered candidate with a reference recording.
type Metrics struct {
	SampleRate int `json:"sample_rate"`

	ReferenceFrames int `json:"reference_frames"`
	CandidateFrames int `json:"candidate_frames"`
	AlignedFrames   int `json:"aligned_frames"`
	LagSamples      int `json:"lag_samples"`

	TimeRMSE       float64 `json:"time_rmse"`
	EnvelopeRMSEDB float64 `json:"envelope_rmse_db"`
	SpectralRMSEDB float64 `json:"spectral_rmse_db"`

	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// Compare aligns candidate to reference by onset and returns distance
// metrics. Score is 0 for identical signals and approaches 1 as they differ.
func Compare(reference, candidate []float64, sampleRate int) Metrics {
	m := Metrics{
		SampleRate:      sampleRate,
		ReferenceFrames: len(reference),
		CandidateFrames: len(candidate),
		Score:           1,
	}
	if sampleRate <= 0 {
		return m
	}

	ref := normalizeRMS(trimLeadingSilence(reference, 1e-4), 0.1)
	cand := normalizeRMS(trimLeadingSilence(candidate, 1e-4), 0.1)
	m.LagSamples = len(candidate) - len(cand) - (len(reference) - len(ref))

	n := min(len(ref), len(cand), sampleRate*12)
	if n < 1024 {
		return m
	}
	ref, cand = ref[:n], cand[:n]
	m.AlignedFrames = n

	diff := make([]float64, n)
	floats.SubTo(diff, ref, cand)
	m.TimeRMSE = RMS(diff)

	refEnv := Envelope(ref, 256, 128)
	candEnv := Envelope(cand, 256, 128)
	envDiff := make([]float64, min(len(refEnv), len(candEnv)))
	for i := range envDiff {
		envDiff[i] = LinToDB(refEnv[i]) - LinToDB(candEnv[i])
	}
	m.EnvelopeRMSEDB = RMS(envDiff)

	size := fftSizeFor(n)
	refMag, err1 := magnitudeSpectrum(ref, size)
	candMag, err2 := magnitudeSpectrum(cand, size)
	if err1 == nil && err2 == nil {
		specDiff := make([]float64, len(refMag)-1)
		for k := 1; k < len(refMag); k++ {
			specDiff[k-1] = LinToDB(refMag[k]) - LinToDB(candMag[k])
		}
		m.SpectralRMSEDB = RMS(specDiff)
	}

	timeNorm := clamp01(m.TimeRMSE / 0.25)
	envNorm := clamp01(m.EnvelopeRMSEDB / 30)
	specNorm := clamp01(m.SpectralRMSEDB / 30)
	m.Score = clamp01(0.4*timeNorm + 0.3*envNorm + 0.3*specNorm)
	m.Similarity = math.Exp(-4 * m.Score)
	return m
}

func trimLeadingSilence(x []float64, threshold float64) []float64 {
	for i, v := range x {
		if math.Abs(v) > threshold {
			return x[i:]
		}
	}
	return nil
}

func normalizeRMS(x []float64, target float64) []float64 {
	r := RMS(x)
	if r == 0 {
		return x
	}
	out := make([]float64, len(x))
	floats.ScaleTo(out, target/r, x)
	return out
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return math.Min(x, 1)
}
