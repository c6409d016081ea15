package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ResumePolicy decides whether a suspended context may start processing,
// modelling hosts that only allow audio after a user gesture.
type ResumePolicy func(ctx context.Context) error

// Option configures a Context
type Option func(*Context)

// WithResumePolicy gates Resume, e.g. on a user gesture
func WithResumePolicy(policy ResumePolicy) Option {
	return func(c *Context) {
		c.policy = policy
	}
}

// Context is the audio-processing graph. It owns one Node per source
// identity and keeps connected sources running on its own lifetime, not on
// the lifetime of whichever request connected them.
type Context struct {
	mu      sync.Mutex
	state   ContextState
	running atomic.Bool
	policy  ResumePolicy
	nodes   map[string]*Node
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewContext creates a suspended audio context
func NewContext(logger zerolog.Logger, opts ...Option) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		state:  StateSuspended,
		nodes:  make(map[string]*Node),
		logger: logger.With().Str("component", "audio").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the lifecycle state
func (c *Context) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume moves the context to running. A refusal from the resume policy
// leaves it suspended and is reported as ErrContextSuspended. The policy runs
// without the context lock held, so it may wait on ctx.
func (c *Context) Resume(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrContextClosed
	case StateRunning:
		c.mu.Unlock()
		return nil
	}
	policy := c.policy
	c.mu.Unlock()

	if policy != nil {
		if err := policy(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextSuspended, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return ErrContextClosed
	case StateRunning:
		return nil
	}
	c.state = StateRunning
	c.running.Store(true)
	c.logger.Debug().Msg("Audio context resumed")
	return nil
}

// Suspend pauses sample delivery without disconnecting sources.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrContextClosed
	}
	c.state = StateSuspended
	c.running.Store(false)
	return nil
}

// Connect returns the node for src, starting the source the first time its
// identity is seen. Later calls with the same ID reuse the existing node; if
// that node's source has ended, src is started on it so the clip plays again.
func (c *Context) Connect(src Source) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil, ErrContextClosed
	}

	if node, ok := c.nodes[src.ID()]; ok {
		if r, ok := node.source.(Replayable); ok && r.Ended() {
			if src.SampleRate() != node.sampleRate {
				return nil, fmt.Errorf("%w: source %s changed sample rate from %d to %d",
					ErrInvalidFormat, src.ID(), node.sampleRate, src.SampleRate())
			}
			if err := src.Start(c.ctx, node.dispatch); err != nil {
				return nil, fmt.Errorf("restart source %s: %w", src.ID(), err)
			}
			node.source = src
			c.logger.Debug().Str("source", src.ID()).Msg("Audio source replayed")
		}
		return node, nil
	}

	node := &Node{
		id:         src.ID(),
		sampleRate: src.SampleRate(),
		source:     src,
		graph:      c,
		taps:       make(map[uint64]SampleSink),
	}
	if err := src.Start(c.ctx, node.dispatch); err != nil {
		return nil, fmt.Errorf("start source %s: %w", src.ID(), err)
	}

	c.nodes[src.ID()] = node
	c.logger.Info().Str("source", src.ID()).Int("sample_rate", src.SampleRate()).Msg("Audio source connected")
	return node, nil
}

// Disconnect stops a source and forgets its node.
func (c *Context) Disconnect(id string) error {
	c.mu.Lock()
	node, ok := c.nodes[id]
	delete(c.nodes, id)
	var src Source
	if ok {
		src = node.source
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return src.Stop()
}

// Close stops every connected source. The context cannot be reused.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.running.Store(false)
	sources := make(map[string]Source, len(c.nodes))
	for id, node := range c.nodes {
		sources[id] = node.source
	}
	c.nodes = make(map[string]*Node)
	c.mu.Unlock()

	c.cancel()

	var firstErr error
	for id, src := range sources {
		if err := src.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop source %s: %w", id, err)
		}
	}
	c.logger.Debug().Int("sources", len(sources)).Msg("Audio context closed")
	return firstErr
}

// Node fans one source's samples out to any number of taps.
type Node struct {
	id         string
	sampleRate int
	source     Source
	graph      *Context

	mu   sync.RWMutex
	taps map[uint64]SampleSink
	next uint64
}

// ID returns the source identity the node was created for
func (n *Node) ID() string {
	return n.id
}

// SampleRate returns the source's sample rate
func (n *Node) SampleRate() int {
	return n.sampleRate
}

// Attach registers a tap and returns a function that removes it. The detach
// function is safe to call more than once.
func (n *Node) Attach(tap SampleSink) (detach func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.taps[id] = tap
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.taps, id)
			n.mu.Unlock()
		})
	}
}

func (n *Node) dispatch(samples []float32) {
	if !n.graph.running.Load() {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, tap := range n.taps {
		tap(samples)
	}
}
