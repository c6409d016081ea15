package lipsync

import (
	"fmt"
	"time"
)

// Config holds the tunables of the lip-sync loop
type Config struct {
	Sensitivity    float64       `json:"sensitivity" mapstructure:"sensitivity"`
	Smoothing      float64       `json:"smoothing" mapstructure:"smoothing"`
	MinVolume      float64       `json:"min_volume" mapstructure:"min_volume"`
	UpdateInterval time.Duration `json:"update_interval" mapstructure:"update_interval"`
}

// DefaultConfig returns sensitivity 0.7, smoothing 0.8, min volume 10 and a 16ms interval
func DefaultConfig() Config {
	return Config{
		Sensitivity:    0.7,
		Smoothing:      0.8,
		MinVolume:      10,
		UpdateInterval: 16 * time.Millisecond,
	}
}

// Validate checks every field's range
func (c Config) Validate() error {
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		return fmt.Errorf("%w: sensitivity %.3f outside [0, 1]", ErrInvalidConfig, c.Sensitivity)
	}
	if c.Smoothing < 0 || c.Smoothing > 1 {
		return fmt.Errorf("%w: smoothing %.3f outside [0, 1]", ErrInvalidConfig, c.Smoothing)
	}
	if c.MinVolume < 0 {
		return fmt.Errorf("%w: min volume %.3f is negative", ErrInvalidConfig, c.MinVolume)
	}
	if c.UpdateInterval < 0 {
		return fmt.Errorf("%w: update interval %s is negative", ErrInvalidConfig, c.UpdateInterval)
	}
	return nil
}

// ConfigUpdate is a partial config. Nil fields are left unchanged.
type ConfigUpdate struct {
	Sensitivity    *float64       `json:"sensitivity,omitempty"`
	Smoothing      *float64       `json:"smoothing,omitempty"`
	MinVolume      *float64       `json:"min_volume,omitempty"`
	UpdateInterval *time.Duration `json:"update_interval,omitempty"`
}

// Merge returns c with the set fields of u applied.
func (c Config) Merge(u ConfigUpdate) Config {
	if u.Sensitivity != nil {
		c.Sensitivity = *u.Sensitivity
	}
	if u.Smoothing != nil {
		c.Smoothing = *u.Smoothing
	}
	if u.MinVolume != nil {
		c.MinVolume = *u.MinVolume
	}
	if u.UpdateInterval != nil {
		c.UpdateInterval = *u.UpdateInterval
	}
	return c
}

// Diff builds the update that turns c into next.
func (c Config) Diff(next Config) ConfigUpdate {
	var u ConfigUpdate
	if next.Sensitivity != c.Sensitivity {
		u.Sensitivity = &next.Sensitivity
	}
	if next.Smoothing != c.Smoothing {
		u.Smoothing = &next.Smoothing
	}
	if next.MinVolume != c.MinVolume {
		u.MinVolume = &next.MinVolume
	}
	if next.UpdateInterval != c.UpdateInterval {
		u.UpdateInterval = &next.UpdateInterval
	}
	return u
}

// Empty reports whether the update changes nothing.
func (u ConfigUpdate) Empty() bool {
	return u.Sensitivity == nil && u.Smoothing == nil && u.MinVolume == nil && u.UpdateInterval == nil
}
