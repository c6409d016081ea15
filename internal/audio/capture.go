package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// CaptureConfig holds configuration for microphone capture
type CaptureConfig struct {
	// Device is the capture device name; empty selects the system default
	Device string `mapstructure:"device"`

	// SampleRate in Hz. 48000 keeps the full vowel formant range well below Nyquist.
	SampleRate uint32 `mapstructure:"sample_rate"`

	// PeriodFrames is the device callback size. Smaller = lower latency.
	PeriodFrames uint32 `mapstructure:"period_frames"`
}

// DefaultCaptureConfig returns 48 kHz capture from the default device
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Device:       "",
		SampleRate:   48000,
		PeriodFrames: 480, // 10ms at 48kHz
	}
}

// CaptureSource streams a live microphone through malgo as mono S16 PCM.
type CaptureSource struct {
	config CaptureConfig
	logger zerolog.Logger

	mu           sync.Mutex
	malgoContext *malgo.AllocatedContext
	device       *malgo.Device
	running      bool
}

// NewCaptureSource creates a microphone source; the device opens on Start
func NewCaptureSource(config CaptureConfig, logger zerolog.Logger) *CaptureSource {
	if config.SampleRate == 0 {
		config.SampleRate = DefaultCaptureConfig().SampleRate
	}
	return &CaptureSource{
		config: config,
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// ID identifies the capture device
func (c *CaptureSource) ID() string {
	if c.config.Device == "" {
		return "capture:default"
	}
	return "capture:" + c.config.Device
}

// SampleRate returns the configured capture rate
func (c *CaptureSource) SampleRate() int {
	return int(c.config.SampleRate)
}

// Start opens the device and delivers mono float32 frames to sink
func (c *CaptureSource) Start(ctx context.Context, sink SampleSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrSourceStarted
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.PeriodFrames

	if c.config.Device != "" {
		infos, err := malgoCtx.Devices(malgo.Capture)
		if err != nil {
			freeContext(malgoCtx)
			return fmt.Errorf("failed to list capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == c.config.Device {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(malgoCtx)
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, c.config.Device)
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			samples, err := DecodePCM(input, 16)
			if err != nil {
				return
			}
			sink(samples)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(malgoCtx)
		return fmt.Errorf("failed to initialize device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(malgoCtx)
		return fmt.Errorf("failed to start device: %w", err)
	}

	c.malgoContext = malgoCtx
	c.device = device
	c.running = true
	c.logger.Info().Str("device", c.ID()).Uint32("sample_rate", c.config.SampleRate).Msg("Capture started")
	return nil
}

// Stop closes the device
func (c *CaptureSource) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	var stopErr error
	if c.device != nil {
		if err := c.device.Stop(); err != nil {
			stopErr = fmt.Errorf("failed to stop device: %w", err)
		}
		c.device.Uninit()
		c.device = nil
	}
	if c.malgoContext != nil {
		freeContext(c.malgoContext)
		c.malgoContext = nil
	}

	c.logger.Info().Msg("Capture stopped")
	return stopErr
}

// CaptureDevices lists capture device names.
func CaptureDevices() ([]string, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer freeContext(malgoCtx)

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
