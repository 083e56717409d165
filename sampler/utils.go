package sampler

import "github.com/cwbudde/algo-approx"

func pow2Approx(x float32) float32 {
	const ln2 = 0.69314718055994530942
	return approx.FastExp(x * ln2)
}

// semitonesToRatio returns the playback-rate factor for a pitch shift.
func semitonesToRatio(semitones int) float64 {
	if semitones == 0 {
		return 1
	}
	return float64(pow2Approx(float32(semitones) / 12.0))
}

// pitchRatio is the source frames consumed per output frame.
func pitchRatio(fileRate, hostRate float64, playedNote, nativeNote int) float64 {
	if fileRate <= 0 || hostRate <= 0 {
		return 1
	}
	return fileRate / hostRate * semitonesToRatio(playedNote-nativeNote)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// floorPow2 returns the largest power of two <= n, or 0.
func floorPow2(n int64) int64 {
	if n <= 0 {
		return 0
	}
	p := int64(1)
	for p*2 <= n {
		p *= 2
	}
	return p
}
