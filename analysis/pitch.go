package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/cwbudde/algo-fft"
)

const maxFFTSize = 1 << 16

// fftSizeFor returns the largest power of two <= n, capped at 65536.
func fftSizeFor(n int) int {
	size := 1
	for size*2 <= n && size*2 <= maxFFTSize {
		size *= 2
	}
	return size
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// magnitudeSpectrum returns |X[k]| for k = 0..size/2 of the Hann-windowed
// first size samples of x.
func magnitudeSpectrum(x []float64, size int) ([]float64, error) {
	plan, err := algofft.NewPlanReal64(size)
	if err != nil {
		return nil, fmt.Errorf("fft plan: %w", err)
	}
	win := hann(size)
	buf := make([]float64, size)
	for i := range buf {
		buf[i] = x[i] * win[i]
	}
	spec := make([]complex128, size/2+1)
	plan.Forward(spec, buf)

	mag := make([]float64, len(spec))
	for k, c := range spec {
		mag[k] = cmplx.Abs(c)
	}
	return mag, nil
}

// DominantFrequency returns the frequency of the strongest spectral peak of
// x, refined by parabolic interpolation. x needs at least 1024 samples.
func DominantFrequency(x []float64, sampleRate float64) (float64, error) {
	if len(x) < 1024 {
		return 0, fmt.Errorf("dominant frequency: need at least 1024 samples, got %d", len(x))
	}
	size := fftSizeFor(len(x))
	mag, err := magnitudeSpectrum(x, size)
	if err != nil {
		return 0, err
	}

	best := 1
	for k := 2; k < len(mag)-1; k++ {
		if mag[k] > mag[best] {
			best = k
		}
	}
	if mag[best] == 0 {
		return 0, fmt.Errorf("dominant frequency: silent input")
	}

	offset := 0.0
	if best > 0 && best < len(mag)-1 {
		a, b, c := mag[best-1], mag[best], mag[best+1]
		if d := a - 2*b + c; d != 0 {
			offset = 0.5 * (a - c) / d
		}
	}
	return (float64(best) + offset) * sampleRate / float64(size), nil
}
