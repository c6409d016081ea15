// Package spectral implements a real-time frequency analyser node: a rolling
// time-domain buffer, Blackman-windowed FFT, per-bin temporal smoothing, and
// decibel mapping onto a configurable range.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

var ErrInvalidConfig = errors.New("invalid analyser config")

const (
	MinFFTSize = 32
	MaxFFTSize = 32768

	blackmanAlpha = 0.16
)

// Config mirrors the knobs of a browser analyser node.
type Config struct {
	FFTSize               int     `json:"fft_size" mapstructure:"fft_size"`
	SmoothingTimeConstant float64 `json:"smoothing_time_constant" mapstructure:"smoothing_time_constant"`
	MinDecibels           float64 `json:"min_decibels" mapstructure:"min_decibels"`
	MaxDecibels           float64 `json:"max_decibels" mapstructure:"max_decibels"`
}

// DefaultConfig matches a browser analyser node's defaults
func DefaultConfig() Config {
	return Config{
		FFTSize:               2048,
		SmoothingTimeConstant: 0.8,
		MinDecibels:           -100,
		MaxDecibels:           -30,
	}
}

// Validate checks the FFT size, smoothing and decibel range
func (c Config) Validate() error {
	if c.FFTSize < MinFFTSize || c.FFTSize > MaxFFTSize || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("%w: fft size %d must be a power of two in [%d, %d]", ErrInvalidConfig, c.FFTSize, MinFFTSize, MaxFFTSize)
	}
	if c.SmoothingTimeConstant < 0 || c.SmoothingTimeConstant > 1 {
		return fmt.Errorf("%w: smoothing time constant %.3f outside [0, 1]", ErrInvalidConfig, c.SmoothingTimeConstant)
	}
	if c.MinDecibels >= c.MaxDecibels {
		return fmt.Errorf("%w: min decibels %.1f must be below max decibels %.1f", ErrInvalidConfig, c.MinDecibels, c.MaxDecibels)
	}
	return nil
}

// Analyser keeps the most recent FFTSize samples and turns them into a
// smoothed magnitude spectrum on demand. Write may be called from an audio
// callback goroutine while another goroutine reads frequency data.
type Analyser struct {
	cfg        Config
	sampleRate int

	mu       sync.Mutex
	ring     []float64
	pos      int
	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// New creates an analyser for a source at sampleRate
func New(cfg Config, sampleRate int) (*Analyser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, sampleRate)
	}

	n := cfg.FFTSize
	a := &Analyser{
		cfg:        cfg,
		sampleRate: sampleRate,
		ring:       make([]float64, n),
		fft:        fourier.NewFFT(n),
		window:     blackman(n),
		frame:      make([]float64, n),
		coeffs:     make([]complex128, n/2+1),
		smoothed:   make([]float64, n/2),
	}
	return a, nil
}

// Config returns the analyser configuration
func (a *Analyser) Config() Config {
	return a.cfg
}

// SampleRate returns the input sample rate
func (a *Analyser) SampleRate() int {
	return a.sampleRate
}

// FrequencyBinCount is half the FFT size
func (a *Analyser) FrequencyBinCount() int {
	return a.cfg.FFTSize / 2
}

// Write appends samples to the time-domain ring, overwriting the oldest.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// FloatFrequencyData fills dst with the smoothed spectrum in decibels. Bins
// with zero energy report -Inf. dst may be shorter than FrequencyBinCount.
func (a *Analyser) FloatFrequencyData(dst []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.computeLocked()

	for i := 0; i < len(dst) && i < len(a.smoothed); i++ {
		dst[i] = toDecibels(a.smoothed[i])
	}
}

// ByteFrequencyData fills dst with the smoothed spectrum mapped linearly from
// [MinDecibels, MaxDecibels] to [0, 255].
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.computeLocked()

	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for i := 0; i < len(dst) && i < len(a.smoothed); i++ {
		db := toDecibels(a.smoothed[i])
		v := math.Floor(scale * (db - a.cfg.MinDecibels))
		switch {
		case math.IsInf(v, -1) || v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[i] = uint8(v)
	}
}

func (a *Analyser) computeLocked() {
	n := len(a.ring)
	for i := 0; i < n; i++ {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	tau := a.cfg.SmoothingTimeConstant
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
	}
}

func toDecibels(mag float64) float64 {
	if mag <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

func blackman(n int) []float64 {
	a0 := (1 - blackmanAlpha) / 2
	a1 := 0.5
	a2 := blackmanAlpha / 2

	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
