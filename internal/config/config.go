// Package config provides configuration management for cortexlipsync
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/normanking/cortexlipsync/internal/analyzer"
	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/morph"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	dirName   = ".cortexlipsync"
	envPrefix = "CORTEXLIPSYNC"
)

// Config holds all application configuration
type Config struct {
	LipSync  lipsync.Config  `mapstructure:"lipsync"`
	Analyzer analyzer.Config `mapstructure:"analyzer"`
	Resolver ResolverConfig  `mapstructure:"resolver"`
	Audio    AudioConfig     `mapstructure:"audio"`
	Avatar   AvatarConfig    `mapstructure:"avatar"`
	Server   ServerConfig    `mapstructure:"server"`
	Log      LogConfig       `mapstructure:"log"`
}

// ResolverConfig tunes the keyword fallback of the morph resolver
type ResolverConfig struct {
	Keywords    []string `mapstructure:"keywords"`
	Attenuation float32  `mapstructure:"attenuation"`
}

// AudioConfig configures capture and file playback
type AudioConfig struct {
	Capture     audio.CaptureConfig `mapstructure:"capture"`
	ChunkFrames int                 `mapstructure:"chunk_frames"`
	Loop        bool                `mapstructure:"loop"`
}

// AvatarConfig configures the avatar model and its refresh loop
type AvatarConfig struct {
	ModelPath string `mapstructure:"model_path"`
	FPS       int    `mapstructure:"fps"`
}

// ServerConfig configures the WebSocket control surface
type ServerConfig struct {
	Listen    string `mapstructure:"listen"` // empty disables the server
	SendQueue int    `mapstructure:"send_queue"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		LipSync:  lipsync.DefaultConfig(),
		Analyzer: analyzer.DefaultConfig(),
		Resolver: ResolverConfig{
			Keywords:    append([]string(nil), morph.DefaultKeywords...),
			Attenuation: morph.DefaultHeuristicAttenuation,
		},
		Audio: AudioConfig{
			Capture:     audio.DefaultCaptureConfig(),
			ChunkFrames: 512,
		},
		Avatar: AvatarConfig{
			FPS: 60,
		},
		Server: ServerConfig{
			Listen:    "127.0.0.1:8765",
			SendQueue: 64,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if err := c.LipSync.Validate(); err != nil {
		return fmt.Errorf("%w: lipsync: %v", ErrInvalid, err)
	}
	if err := c.Analyzer.Spectral.Validate(); err != nil {
		return fmt.Errorf("%w: analyzer: %v", ErrInvalid, err)
	}
	if c.Resolver.Attenuation < 0 || c.Resolver.Attenuation > 1 {
		return fmt.Errorf("%w: resolver attenuation %.2f outside [0, 1]", ErrInvalid, c.Resolver.Attenuation)
	}
	if c.Avatar.FPS <= 0 {
		return fmt.Errorf("%w: avatar fps must be positive", ErrInvalid)
	}
	if c.Audio.ChunkFrames <= 0 {
		return fmt.Errorf("%w: audio chunk_frames must be positive", ErrInvalid)
	}
	if c.Server.SendQueue <= 0 {
		return fmt.Errorf("%w: server send_queue must be positive", ErrInvalid)
	}
	return nil
}

// values flattens cfg into viper keys
func values(cfg *Config) map[string]any {
	return map[string]any{
		"lipsync.sensitivity":     cfg.LipSync.Sensitivity,
		"lipsync.smoothing":       cfg.LipSync.Smoothing,
		"lipsync.min_volume":      cfg.LipSync.MinVolume,
		"lipsync.update_interval": cfg.LipSync.UpdateInterval,

		"analyzer.noise_floor_decibels":             cfg.Analyzer.NoiseFloorDecibels,
		"analyzer.spectral.fft_size":                cfg.Analyzer.Spectral.FFTSize,
		"analyzer.spectral.smoothing_time_constant": cfg.Analyzer.Spectral.SmoothingTimeConstant,
		"analyzer.spectral.min_decibels":            cfg.Analyzer.Spectral.MinDecibels,
		"analyzer.spectral.max_decibels":            cfg.Analyzer.Spectral.MaxDecibels,

		"resolver.keywords":    cfg.Resolver.Keywords,
		"resolver.attenuation": cfg.Resolver.Attenuation,

		"audio.capture.device":        cfg.Audio.Capture.Device,
		"audio.capture.sample_rate":   cfg.Audio.Capture.SampleRate,
		"audio.capture.period_frames": cfg.Audio.Capture.PeriodFrames,
		"audio.chunk_frames":          cfg.Audio.ChunkFrames,
		"audio.loop":                  cfg.Audio.Loop,

		"avatar.model_path": cfg.Avatar.ModelPath,
		"avatar.fps":        cfg.Avatar.FPS,

		"server.listen":     cfg.Server.Listen,
		"server.send_queue": cfg.Server.SendQueue,

		"log.level":   cfg.Log.Level,
		"log.dir":     cfg.Log.Dir,
		"log.console": cfg.Log.Console,
		"log.file":    cfg.Log.File,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range values(DefaultConfig()) {
		v.SetDefault(key, value)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from path, or from config.yaml in the config
// directory or the working directory when path is empty. Environment
// variables (CORTEXLIPSYNC_LIPSYNC_SMOOTHING, ...) override the file.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	for key, value := range values(cfg) {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		v.Set(key, value)
	}
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, dirName), nil
}
