// Package analyzer turns a live audio source into per-tick spectral
// features: a volume estimate, the dominant frequency and a vowel
// proximity vector.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/spectral"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

var ErrNoGraph = errors.New("audio graph unavailable")

// Config holds analyzer settings
type Config struct {
	Spectral           spectral.Config `json:"spectral" mapstructure:"spectral"`
	NoiseFloorDecibels float64         `json:"noise_floor_decibels" mapstructure:"noise_floor_decibels"`
}

// DefaultConfig returns a 2048-point analyser with a -90 dB noise floor
func DefaultConfig() Config {
	return Config{
		Spectral:           spectral.DefaultConfig(),
		NoiseFloorDecibels: -90,
	}
}

// Frame is one tick's analysis result.
type Frame struct {
	Volume            float64
	DominantFrequency float64
	VowelWeights      viseme.Weights
}

// GraphFactory returns the audio graph the analyzer connects through. It is
// called once, on the first Initialize.
type GraphFactory func() (*audio.Context, error)

// Analyzer binds to one source at a time and samples its spectrum on demand.
type Analyzer struct {
	cfg     Config
	factory GraphFactory
	logger  zerolog.Logger

	mu       sync.Mutex
	graph    *audio.Context
	sourceID string
	node     *audio.Node
	detach   func()
	spectrum *spectral.Analyser
	bins     []float64
}

// New creates an unbound analyzer. The graph factory is required.
func New(cfg Config, factory GraphFactory, logger zerolog.Logger) (*Analyzer, error) {
	if err := cfg.Spectral.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, ErrNoGraph
	}
	return &Analyzer{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With().Str("component", "analyzer").Logger(),
	}, nil
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Initialize binds the analyzer to src. Binding the source that is already
// bound is a no-op. A different source replaces the spectral node while the
// audio graph is kept. The graph is resumed without the analyzer lock held;
// if ctx is cancelled meanwhile nothing is bound.
func (a *Analyzer) Initialize(ctx context.Context, src audio.Source) error {
	a.mu.Lock()
	if a.spectrum != nil && a.sourceID == src.ID() {
		a.mu.Unlock()
		return nil
	}
	graph, err := a.graphLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	if err := graph.Resume(ctx); err != nil {
		return fmt.Errorf("resume audio graph: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if a.spectrum != nil && a.sourceID == src.ID() {
		return nil
	}

	node, err := graph.Connect(src)
	if err != nil {
		return err
	}

	spectrum, err := spectral.New(a.cfg.Spectral, node.SampleRate())
	if err != nil {
		return err
	}

	a.releaseLocked()
	a.sourceID = src.ID()
	a.node = node
	a.spectrum = spectrum
	a.bins = make([]float64, spectrum.FrequencyBinCount())
	a.detach = node.Attach(spectrum.Write)

	a.logger.Debug().
		Str("source", src.ID()).
		Int("sample_rate", node.SampleRate()).
		Int("fft_size", a.cfg.Spectral.FFTSize).
		Msg("Analyzer bound to source")
	return nil
}

// Analyze samples the current spectrum. It reports false when no source is
// bound.
func (a *Analyzer) Analyze() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.spectrum == nil {
		return Frame{}, false
	}

	a.spectrum.FloatFrequencyData(a.bins)

	minDb := a.cfg.Spectral.MinDecibels
	span := a.cfg.Spectral.MaxDecibels - minDb

	var sumSquares float64
	var counted int
	peak := 0
	for i, db := range a.bins {
		if db > a.bins[peak] {
			peak = i
		}
		if db <= a.cfg.NoiseFloorDecibels {
			continue
		}
		n := (db - minDb) / span
		n = math.Max(0, math.Min(1, n))
		sumSquares += n * n
		counted++
	}

	var volume float64
	if counted > 0 {
		volume = math.Sqrt(sumSquares / float64(counted))
	}

	dominant := float64(peak) / float64(len(a.bins)) * float64(a.spectrum.SampleRate()) / 2

	return Frame{
		Volume:            volume,
		DominantFrequency: dominant,
		VowelWeights:      VowelProximity(dominant),
	}, true
}

// Dispose detaches from the current source. It is safe to call repeatedly;
// the audio graph stays open for later Initialize calls.
func (a *Analyzer) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
}

func (a *Analyzer) graphLocked() (*audio.Context, error) {
	if a.graph != nil {
		return a.graph, nil
	}
	graph, err := a.factory()
	if err != nil {
		return nil, fmt.Errorf("create audio graph: %w", err)
	}
	if graph == nil {
		return nil, ErrNoGraph
	}
	a.graph = graph
	return graph, nil
}

// SourceID returns the identity of the bound source, or "" when unbound.
func (a *Analyzer) SourceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sourceID
}

func (a *Analyzer) releaseLocked() {
	if a.detach != nil {
		a.detach()
	}
	a.detach = nil
	a.node = nil
	a.spectrum = nil
	a.bins = nil
	a.sourceID = ""
}
