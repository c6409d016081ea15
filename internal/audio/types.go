// Package audio provides the audio-processing graph and the playable sources
// the lip-sync analyzer listens to.
package audio

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrContextSuspended = errors.New("audio context suspended")
	ErrContextClosed    = errors.New("audio context closed")
	ErrSourceStarted    = errors.New("audio source already started")
	ErrInvalidFormat    = errors.New("invalid audio format")
	ErrDeviceNotFound   = errors.New("audio device not found")
)

// SampleSink receives mono float32 samples in [-1, 1]. It is called from the
// source's own goroutine and must not retain the slice.
type SampleSink func(samples []float32)

// Source is a playable audio stream. ID identifies the source across
// reconnects; two sources with the same ID are treated as the same stream.
type Source interface {
	ID() string
	SampleRate() int
	Start(ctx context.Context, sink SampleSink) error
	Stop() error
}

// Replayable is implemented by sources that finish on their own, like a
// clip reaching its end. An ended source may be started again.
type Replayable interface {
	Ended() bool
}

// ContextState represents the lifecycle of an audio context
type ContextState string

const (
	StateSuspended ContextState = "suspended"
	StateRunning   ContextState = "running"
	StateClosed    ContextState = "closed"
)
