package lipsync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/cortexlipsync/internal/analyzer"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

func TestSmootherConvergesWithoutOvershoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensitivity = 1
	f := analyzer.Frame{Volume: 0.6, VowelWeights: analyzer.VowelProximity(700)}

	var s Smoother
	prev := s.Weights()
	for i := 0; i < 200; i++ {
		w := s.Step(f, cfg)
		for v := range w {
			target := f.VowelWeights[v] * 0.6
			assert.GreaterOrEqual(t, w[v], prev[v], "tick %d vowel %d", i, v)
			assert.LessOrEqual(t, w[v], target+1e-6, "tick %d vowel %d", i, v)
		}
		prev = w
	}

	for v := range prev {
		assert.InDelta(t, f.VowelWeights[v]*0.6, prev[v], 1e-4)
	}
}

func TestSmootherClampsScaledVolume(t *testing.T) {
	cfg := Config{Sensitivity: 1, Smoothing: 0, MinVolume: 10}
	var s Smoother
	w := s.Step(analyzer.Frame{Volume: 3, VowelWeights: viseme.OneHot(viseme.VowelAA, 1)}, cfg)
	assert.Equal(t, float32(1), w.Get(viseme.VowelAA))
}

func TestSmootherSilenceDecays(t *testing.T) {
	cfg := DefaultConfig()
	var s Smoother
	loud := analyzer.Frame{Volume: 1, VowelWeights: analyzer.VowelProximity(500)}
	for i := 0; i < 20; i++ {
		s.Step(loud, cfg)
	}

	// 0.05 * 100 = 5 < 10: decay even though the frame carries a full vowel
	quiet := analyzer.Frame{Volume: 0.05, VowelWeights: viseme.OneHot(viseme.VowelAA, 1)}
	assert.True(t, Silent(quiet, cfg.MinVolume))

	prev := s.Weights()
	for i := 0; i < 100; i++ {
		w := s.Step(quiet, cfg)
		for v := range w {
			assert.GreaterOrEqual(t, w[v], float32(0))
			if prev[v] > 0 {
				assert.Less(t, w[v], prev[v], "tick %d vowel %d", i, v)
			}
		}
		prev = w
	}
	assert.Equal(t, viseme.Weights{}, prev, "tiny weights snap to zero")
}

func TestConfigMergeAndDiff(t *testing.T) {
	base := DefaultConfig()
	s := 0.5
	merged := base.Merge(ConfigUpdate{Smoothing: &s})
	assert.Equal(t, 0.5, merged.Smoothing)
	assert.Equal(t, base.Sensitivity, merged.Sensitivity)

	diff := base.Diff(merged)
	assert.NotNil(t, diff.Smoothing)
	assert.Nil(t, diff.Sensitivity)
	assert.True(t, base.Diff(base).Empty())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"sensitivity high", func(c *Config) { c.Sensitivity = 1.1 }, true},
		{"smoothing negative", func(c *Config) { c.Smoothing = -0.1 }, true},
		{"min volume negative", func(c *Config) { c.MinVolume = -1 }, true},
		{"interval negative", func(c *Config) { c.UpdateInterval = -1 }, true},
		{"zero interval", func(c *Config) { c.UpdateInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
