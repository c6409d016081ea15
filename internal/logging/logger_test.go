package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Console: true, Out: &buf})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("lipsync")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "lipsync")
	assert.Empty(t, l.LogPath())
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Dir: dir, Level: "debug", File: true})
	require.NoError(t, err)

	log := l.Component("analyzer")
	log.Info().Msg("bound")
	require.NoError(t, l.Close())

	require.True(t, strings.HasPrefix(l.LogPath(), dir))
	data, err := os.ReadFile(l.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"analyzer"`)
	assert.Contains(t, string(data), `"message":"bound"`)
}
