package audio

import (
	"context"
	"sync"
	"time"
)

// BufferSource plays an in-memory clip at real-time pace, the way a media
// element would, delivering fixed-size chunks on a ticker.
type BufferSource struct {
	id          string
	clip        *Clip
	chunkFrames int
	loop        bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// BufferOptions configures playback of a BufferSource
type BufferOptions struct {
	ChunkFrames int  // Default: 512
	Loop        bool // Restart from the beginning at the end of the clip
}

// NewBufferSource wraps a decoded clip
func NewBufferSource(id string, clip *Clip, opts BufferOptions) *BufferSource {
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = 512
	}
	return &BufferSource{
		id:          id,
		clip:        clip,
		chunkFrames: opts.ChunkFrames,
		loop:        opts.Loop,
		done:        make(chan struct{}),
	}
}

// ID returns the source identity
func (s *BufferSource) ID() string { return s.id }

// SampleRate returns the clip's sample rate
func (s *BufferSource) SampleRate() int { return s.clip.SampleRate }

// Ended reports whether the source is not playing, either because the clip
// finished or because it was stopped.
func (s *BufferSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

// Done is closed when a non-looping clip reaches its end or the source stops.
func (s *BufferSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start plays the clip into sink. A finished clip may be started again
func (s *BufferSource) Start(ctx context.Context, sink SampleSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSourceStarted
	}
	if len(s.clip.Samples) == 0 || s.clip.SampleRate <= 0 {
		return ErrInvalidFormat
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true

	period := time.Duration(s.chunkFrames) * time.Second / time.Duration(s.clip.SampleRate)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer func() {
			s.mu.Lock()
			if s.done == done {
				s.running = false
			}
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		chunk := make([]float32, s.chunkFrames)
		pos := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n := 0
			for n < len(chunk) {
				c := copy(chunk[n:], s.clip.Samples[pos:])
				n += c
				pos += c
				if pos < len(s.clip.Samples) {
					continue
				}
				if !s.loop {
					break
				}
				pos = 0
			}
			sink(chunk[:n])

			if !s.loop && pos >= len(s.clip.Samples) {
				return
			}
		}
	}()

	return nil
}

// Stop halts playback and waits for the playback goroutine
func (s *BufferSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

// StreamSource is fed by the caller, e.g. from a network stream.
type StreamSource struct {
	id         string
	sampleRate int

	mu   sync.RWMutex
	sink SampleSink
}

// NewStreamSource creates a source fed through Push
func NewStreamSource(id string, sampleRate int) *StreamSource {
	return &StreamSource{id: id, sampleRate: sampleRate}
}

// ID returns the source identity
func (s *StreamSource) ID() string { return s.id }

// SampleRate returns the declared sample rate
func (s *StreamSource) SampleRate() int { return s.sampleRate }

// Start connects sink; Push delivers to it from then on
func (s *StreamSource) Start(ctx context.Context, sink SampleSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return ErrSourceStarted
	}
	s.sink = sink
	return nil
}

// Stop disconnects the sink
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
	return nil
}

// Push delivers samples to the graph. It reports false when the source is not
// connected.
func (s *StreamSource) Push(samples []float32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sink == nil {
		return false
	}
	s.sink(samples)
	return true
}
