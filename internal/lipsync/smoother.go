package lipsync

import (
	"github.com/normanking/cortexlipsync/internal/analyzer"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

// snapThreshold is where decaying weights are treated as closed.
const snapThreshold = 1e-4

// Smoother carries the vowel weights across ticks.
type Smoother struct {
	weights viseme.Weights
}

// Silent reports whether a frame falls under the volume gate. minVolume is
// on a 0..100 scale.
func Silent(frame analyzer.Frame, minVolume float64) bool {
	return frame.Volume*100 < minVolume
}

// Step folds one analysis frame into the smoothed weights and returns them.
// Silent frames decay every weight by smoothing; others move each weight
// toward raw * min(volume * sensitivity, 1) by a factor of 1 - smoothing.
func (s *Smoother) Step(frame analyzer.Frame, cfg Config) viseme.Weights {
	smoothing := float32(cfg.Smoothing)

	if Silent(frame, cfg.MinVolume) {
		s.Decay(smoothing)
		return s.weights
	}

	scaled := float32(frame.Volume * cfg.Sensitivity)
	if scaled > 1 {
		scaled = 1
	}
	for i := range s.weights {
		target := frame.VowelWeights[i] * scaled
		s.weights[i] += (target - s.weights[i]) * (1 - smoothing)
	}
	return s.weights
}

// Decay multiplies every weight by factor, snapping tiny values to zero.
func (s *Smoother) Decay(factor float32) {
	for i := range s.weights {
		s.weights[i] *= factor
		if s.weights[i] < snapThreshold {
			s.weights[i] = 0
		}
	}
}

// Weights returns the current smoothed weights
func (s *Smoother) Weights() viseme.Weights {
	return s.weights
}

// Reset zeroes every weight
func (s *Smoother) Reset() {
	s.weights.Reset()
}
