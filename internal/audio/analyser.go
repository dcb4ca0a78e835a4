package audio

import (
	"math"
	"sync"
)

const (
	// DefaultFFTSize matches the analyser window used for volume metering.
	DefaultFFTSize = 256

	defaultSmoothing   = 0.8
	defaultMinDecibels = -100.0
	defaultMaxDecibels = -30.0
)

// Analyser keeps the most recent window of captured samples and derives a
// smoothed byte-scaled magnitude spectrum from it.
type Analyser struct {
	mu          sync.Mutex
	fftSize     int
	window      []float64
	ring        []float32
	next        int
	smoothing   float64
	minDecibels float64
	maxDecibels float64
	smoothed    []float64
	re, im      []float64
}

// NewAnalyser returns an analyser over fftSize samples. fftSize is rounded up to a power of two.
func NewAnalyser(fftSize int) *Analyser {
	n := 32
	for n < fftSize {
		n <<= 1
	}
	return &Analyser{
		fftSize:     n,
		window:      blackman(n),
		ring:        make([]float32, n),
		smoothing:   defaultSmoothing,
		minDecibels: defaultMinDecibels,
		maxDecibels: defaultMaxDecibels,
		smoothed:    make([]float64, n/2),
		re:          make([]float64, n),
		im:          make([]float64, n),
	}
}

func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// Write appends samples to the analysis window, keeping only the newest fftSize samples.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) >= a.fftSize {
		copy(a.ring, samples[len(samples)-a.fftSize:])
		a.next = 0
		return
	}
	for _, s := range samples {
		a.ring[a.next] = s
		a.next = (a.next + 1) % a.fftSize
	}
}

// ByteFrequencyData fills dst with the current spectrum scaled to 0..255 and
// returns the number of bins written.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.fftSize
	for i := 0; i < n; i++ {
		a.re[i] = float64(a.ring[(a.next+i)%n]) * a.window[i]
		a.im[i] = 0
	}
	fft(a.re, a.im)

	bins := min(len(dst), n/2)
	scale := 255 / (a.maxDecibels - a.minDecibels)
	for k := 0; k < n/2; k++ {
		mag := math.Hypot(a.re[k], a.im[k]) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= bins {
			continue
		}
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(scale * (db - a.minDecibels))
		switch {
		case math.IsInf(v, -1) || v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[k] = byte(v)
	}
	return bins
}

// AverageLevel reads the spectrum and returns the mean bin value.
func (a *Analyser) AverageLevel() float64 {
	buf := make([]byte, a.FrequencyBinCount())
	n := a.ByteFrequencyData(buf)
	if n == 0 {
		return 0
	}
	var sum int
	for _, b := range buf[:n] {
		sum += int(b)
	}
	return float64(sum) / float64(n)
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
