package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.7, cfg.LipSync.Sensitivity)
	assert.Equal(t, 0.8, cfg.LipSync.Smoothing)
	assert.Equal(t, 10.0, cfg.LipSync.MinVolume)
	assert.Equal(t, 16*time.Millisecond, cfg.LipSync.UpdateInterval)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
lipsync:
  smoothing: 0.5
  update_interval: 33ms
analyzer:
  spectral:
    fft_size: 1024
resolver:
  keywords: [mouth, kuchi]
avatar:
  model_path: /models/hannah.vrm
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.LipSync.Smoothing)
	assert.Equal(t, 33*time.Millisecond, cfg.LipSync.UpdateInterval)
	assert.Equal(t, 0.7, cfg.LipSync.Sensitivity, "unset keys keep defaults")
	assert.Equal(t, 1024, cfg.Analyzer.Spectral.FFTSize)
	assert.Equal(t, -90.0, cfg.Analyzer.NoiseFloorDecibels)
	assert.Equal(t, []string{"mouth", "kuchi"}, cfg.Resolver.Keywords)
	assert.Equal(t, "/models/hannah.vrm", cfg.Avatar.ModelPath)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "lipsync:\n  sensitivity: 0.4\n")
	t.Setenv("CORTEXLIPSYNC_LIPSYNC_SENSITIVITY", "0.9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.LipSync.Sensitivity)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "lipsync:\n  smoothing: 1.5\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.LipSync.MinVolume = 4
	cfg.LipSync.UpdateInterval = 20 * time.Millisecond
	cfg.Server.Listen = ""

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.LipSync, loaded.LipSync)
	assert.Equal(t, cfg.Resolver, loaded.Resolver)
	assert.Empty(t, loaded.Server.Listen)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "lipsync:\n  smoothing: 0.8\n")

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changes <- c }, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	// other files in the directory are ignored
	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1\n")
	writeFile(t, path, "lipsync:\n  smoothing: 0.3\n")

	// a truncating write may surface an intermediate reload first
	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.LipSync.Smoothing == 0.3 {
				require.NoError(t, w.Close())
				require.NoError(t, w.Close())
				return
			}
		case <-deadline:
			t.Fatal("no reload")
		}
	}
}
