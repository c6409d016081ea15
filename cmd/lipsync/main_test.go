package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/config"
)

func TestSourceFactoryReusesClipPerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, make([]float32, 800), 8000))
	require.NoError(t, f.Close())

	sources := newSourceFactory(config.DefaultConfig(), flags{WAVPath: path}, zerolog.Nop())

	first, err := sources("")
	require.NoError(t, err)
	second, err := sources(path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 8000, first.SampleRate())
	abs, _ := filepath.Abs(path)
	assert.Equal(t, "file:"+abs, first.ID())

	_, err = sources("")
	require.NoError(t, err)
	_, err = sources(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestSourceFactoryWithoutDefault(t *testing.T) {
	sources := newSourceFactory(config.DefaultConfig(), flags{}, zerolog.Nop())
	_, err := sources("")
	assert.Error(t, err)
}
