// Package lipsync drives an avatar's mouth from live audio: it pulls one
// analysis frame per display refresh, smooths the vowel weights and writes
// them through the morph resolver.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/analyzer"
	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/avatar"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/frame"
	"github.com/normanking/cortexlipsync/internal/morph"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

var (
	ErrNoAvatar      = errors.New("no avatar bound")
	ErrUnknownVowel  = errors.New("unknown vowel")
	ErrInvalidConfig = errors.New("invalid lip-sync config")
)

const (
	DefaultTestStepInterval = 50 * time.Millisecond
	DefaultTestVowelPause   = 200 * time.Millisecond

	// test sweep goes 0 -> 1 -> 0 in tenths
	testSweepSteps = 21
)

// Status is a snapshot of the engine
type Status struct {
	IsActive      bool           `json:"isActive"`
	CurrentVolume float32        `json:"currentVolume"`
	CurrentVowel  string         `json:"currentVowel"`
	VowelWeights  viseme.Weights `json:"vowelWeights"`
}

// Options configures a new Engine. Zero values get defaults; a nil Scheduler
// gets a 60 Hz ticker owned by the engine.
type Options struct {
	Config           Config
	Analyzer         analyzer.Config
	Resolver         *morph.Resolver
	Scheduler        frame.Scheduler
	Bus              *bus.EventBus
	Logger           zerolog.Logger
	GraphFactory     analyzer.GraphFactory
	TestStepInterval time.Duration
	TestVowelPause   time.Duration
}

// Engine is the lip-sync state machine: idle until Start, running until Stop.
type Engine struct {
	mu sync.Mutex

	cfg         Config
	analyzerCfg analyzer.Config
	analyzer    *analyzer.Analyzer
	resolver    *morph.Resolver
	scheduler   frame.Scheduler
	ownedTicker *frame.Ticker
	bus         *bus.EventBus
	logger      zerolog.Logger
	baseLogger  zerolog.Logger

	graphMu      sync.Mutex
	graphFactory analyzer.GraphFactory
	graph        *audio.Context

	rig        avatar.Rig
	smoother   Smoother
	running    bool
	source     audio.Source
	handle     frame.Handle
	generation uint64
	lastUpdate time.Time

	// set while Start waits on the audio graph
	startCancel context.CancelFunc

	testCancel   context.CancelFunc
	testSeq      uint64
	stepInterval time.Duration
	vowelPause   time.Duration
}

// NewEngine validates the options and builds an idle engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Analyzer == (analyzer.Config{}) {
		opts.Analyzer = analyzer.DefaultConfig()
	}
	if opts.TestStepInterval <= 0 {
		opts.TestStepInterval = DefaultTestStepInterval
	}
	if opts.TestVowelPause <= 0 {
		opts.TestVowelPause = DefaultTestVowelPause
	}

	logger := opts.Logger.With().Str("component", "lipsync").Logger()

	e := &Engine{
		cfg:          opts.Config,
		resolver:     opts.Resolver,
		scheduler:    opts.Scheduler,
		bus:          opts.Bus,
		logger:       logger,
		baseLogger:   opts.Logger,
		graphFactory: opts.GraphFactory,
		stepInterval: opts.TestStepInterval,
		vowelPause:   opts.TestVowelPause,
	}
	if e.resolver == nil {
		e.resolver = morph.NewResolver(morph.WithLogger(opts.Logger))
	}
	if e.scheduler == nil {
		e.ownedTicker = frame.NewTicker(frame.DefaultFPS)
		e.scheduler = e.ownedTicker
	}
	if e.graphFactory == nil {
		e.graphFactory = func() (*audio.Context, error) {
			return audio.NewContext(opts.Logger), nil
		}
	}

	e.analyzerCfg = opts.Analyzer
	e.analyzerCfg.Spectral.SmoothingTimeConstant = e.cfg.Smoothing
	a, err := analyzer.New(e.analyzerCfg, e.sharedGraph, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	e.analyzer = a

	return e, nil
}

// sharedGraph hands every analyzer the same audio graph, created on first use.
func (e *Engine) sharedGraph() (*audio.Context, error) {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	if e.graph != nil {
		return e.graph, nil
	}
	graph, err := e.graphFactory()
	if err != nil {
		return nil, err
	}
	e.graph = graph
	return graph, nil
}

// BindAvatar points the resolver at a newly loaded avatar. It may be called
// at any time, including while running.
func (e *Engine) BindAvatar(rig avatar.Rig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rig = rig
	e.resolver.Bind(rig)

	e.logger.Info().Int("channels", len(e.resolver.Channels())).Msg("Avatar bound")
	e.publish(bus.EventTypeAvatarBound, map[string]any{
		"channels": e.resolver.Channels(),
	})
}

// UnbindAvatar detaches the resolver; later ticks write nothing.
func (e *Engine) UnbindAvatar() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rig == nil {
		return
	}
	e.rig = nil
	e.resolver.Unbind()

	e.logger.Info().Msg("Avatar unbound")
	e.publish(bus.EventTypeAvatarUnbound, nil)
}

// Start binds the analyzer to src and begins ticking. Starting while running
// stops first. Audio graph failures are returned and leave the engine idle.
//
// The engine lock is released while the audio graph resumes, so Status and
// Stop stay responsive. A Stop or newer Start during that wait cancels this
// one, which then returns context.Canceled.
func (e *Engine) Start(ctx context.Context, src audio.Source) error {
	e.mu.Lock()
	if e.rig == nil {
		e.mu.Unlock()
		e.logger.Warn().Msg("Cannot start lip sync: no avatar bound")
		return ErrNoAvatar
	}
	if e.running || e.startCancel != nil {
		e.stopLocked()
	}

	e.generation++
	gen := e.generation
	ctx, cancel := context.WithCancel(ctx)
	e.startCancel = cancel
	a := e.analyzer
	e.mu.Unlock()

	err := a.Initialize(ctx, src)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer cancel()

	if gen != e.generation {
		if err == nil && !e.running && e.startCancel == nil {
			a.Dispose()
		}
		e.logger.Debug().Str("source", src.ID()).Msg("Start superseded while audio graph resumed")
		return fmt.Errorf("start %s: %w", src.ID(), context.Canceled)
	}
	e.startCancel = nil

	if err != nil {
		e.logger.Error().Err(err).Str("source", src.ID()).Msg("Failed to initialize analyzer")
		return fmt.Errorf("initialize analyzer: %w", err)
	}

	// UpdateConfig swapped the analyzer during the wait. The graph is running
	// now, so binding the new one does not block.
	if a != e.analyzer {
		a.Dispose()
		if err := e.analyzer.Initialize(ctx, src); err != nil {
			e.logger.Error().Err(err).Str("source", src.ID()).Msg("Failed to initialize analyzer")
			return fmt.Errorf("initialize analyzer: %w", err)
		}
	}

	e.source = src
	e.running = true
	e.lastUpdate = time.Time{}
	e.handle = e.scheduler.Request(e.tick(e.generation))

	e.logger.Info().Str("source", src.ID()).Msg("Lip sync started")
	e.publish(bus.EventTypeLipSyncStarted, map[string]any{"source": src.ID()})
	return nil
}

func (e *Engine) tick(gen uint64) frame.Callback {
	return func(now time.Time) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if !e.running || gen != e.generation {
			return
		}
		e.handle = e.scheduler.Request(e.tick(gen))

		if !e.lastUpdate.IsZero() && now.Sub(e.lastUpdate) < e.cfg.UpdateInterval {
			return
		}
		e.lastUpdate = now

		f, ok := e.analyzer.Analyze()
		if !ok {
			return
		}

		w := e.smoother.Step(f, e.cfg)
		e.resolver.Apply(w)

		e.publish(bus.EventTypeLipSyncFrame, map[string]any{
			"volume": w.Sum(),
			"vowel":  w.Dominant(),
		})
	}
}

// Stop cancels the frame loop and any test sequence, zeroes the mouth and
// releases the analyzer. It is idempotent, and no tick or test step runs
// after it returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.cancelTestLocked()
	if e.startCancel != nil {
		e.startCancel()
		e.startCancel = nil
	}

	wasRunning := e.running
	if e.handle != 0 {
		e.scheduler.Cancel(e.handle)
		e.handle = 0
	}
	e.running = false
	e.generation++

	e.resolver.Reset()
	e.smoother.Reset()
	e.analyzer.Dispose()
	e.source = nil

	if wasRunning {
		e.logger.Info().Msg("Lip sync stopped")
		e.publish(bus.EventTypeLipSyncStopped, nil)
	}
}

// TestVowel writes a one-hot vector straight through the resolver,
// bypassing smoothing.
func (e *Engine) TestVowel(name string, weight float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.testVowelLocked(name, weight)
}

func (e *Engine) testVowelLocked(name string, weight float32) error {
	v, ok := viseme.ParseVowel(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVowel, name)
	}
	if e.rig == nil {
		e.logger.Warn().Str("vowel", name).Msg("Cannot test vowel: no avatar bound")
		return ErrNoAvatar
	}
	e.resolver.Apply(viseme.OneHot(v, weight))
	return nil
}

// RunTestSequence sweeps every vowel 0 -> 1 -> 0 and blocks until done. Stop
// or ctx cancellation ends it early with the context error. Starting a new
// sequence cancels the previous one.
func (e *Engine) RunTestSequence(ctx context.Context) error {
	e.mu.Lock()
	if e.rig == nil {
		e.mu.Unlock()
		e.logger.Warn().Msg("Cannot run test sequence: no avatar bound")
		return ErrNoAvatar
	}
	e.cancelTestLocked()
	ctx, cancel := context.WithCancel(ctx)
	e.testSeq++
	seq := e.testSeq
	e.testCancel = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.testSeq == seq {
			e.testCancel = nil
		}
		e.mu.Unlock()
		cancel()
	}()

	e.logger.Info().Msg("Running vowel test sequence")

	for _, v := range viseme.Vowels {
		name := v.String()
		for step := 0; step < testSweepSteps; step++ {
			weight := float32(step) / 10
			if step > 10 {
				weight = float32(testSweepSteps-1-step) / 10
			}
			if err := e.testStep(ctx, func() error { return e.testVowelLocked(name, weight) }); err != nil {
				return err
			}
			if err := sleep(ctx, e.stepInterval); err != nil {
				return err
			}
		}
		if err := e.testStep(ctx, func() error { e.resolver.Reset(); return nil }); err != nil {
			return err
		}
		if err := sleep(ctx, e.vowelPause); err != nil {
			return err
		}
	}
	return nil
}

// testStep runs fn under the engine lock unless the sequence was cancelled.
func (e *Engine) testStep(ctx context.Context, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

func (e *Engine) cancelTestLocked() {
	if e.testCancel != nil {
		e.testCancel()
		e.testCancel = nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Status returns a copy of the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.smoother.Weights()
	return Status{
		IsActive:      e.running,
		CurrentVolume: w.Sum(),
		CurrentVowel:  w.Dominant(),
		VowelWeights:  w,
	}
}

// Config returns the current lip-sync settings.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig merges u into the config. A smoothing change replaces the
// analyzer with one built for the new value; while running, the new analyzer
// is bound to the current source before the old one is released.
func (e *Engine) UpdateConfig(u ConfigUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cfg.Merge(u)
	if err := next.Validate(); err != nil {
		return err
	}

	if next.Smoothing != e.cfg.Smoothing {
		acfg := e.analyzerCfg
		acfg.Spectral.SmoothingTimeConstant = next.Smoothing
		a, err := analyzer.New(acfg, e.sharedGraph, e.baseLogger)
		if err != nil {
			return fmt.Errorf("rebuild analyzer: %w", err)
		}
		if e.running && e.source != nil {
			if err := a.Initialize(context.Background(), e.source); err != nil {
				return fmt.Errorf("rebind analyzer: %w", err)
			}
		}
		e.analyzer.Dispose()
		e.analyzer = a
		e.analyzerCfg = acfg
	}

	e.cfg = next
	e.logger.Debug().
		Float64("sensitivity", next.Sensitivity).
		Float64("smoothing", next.Smoothing).
		Float64("min_volume", next.MinVolume).
		Dur("update_interval", next.UpdateInterval).
		Msg("Lip sync config updated")
	e.publish(bus.EventTypeConfigChanged, map[string]any{"config": next})
	return nil
}

// SetChannel writes one morph channel directly, for debugging a rig.
func (e *Engine) SetChannel(name string, v float32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolver.SetChannel(name, v)
}

// Channels lists the bound avatar's morph channels.
func (e *Engine) Channels() []string {
	return e.resolver.Channels()
}

// Close stops the engine and releases the audio graph and owned ticker.
func (e *Engine) Close() error {
	e.Stop()

	if e.ownedTicker != nil {
		e.ownedTicker.Close()
	}

	e.graphMu.Lock()
	graph := e.graph
	e.graph = nil
	e.graphMu.Unlock()

	if graph != nil {
		return graph.Close()
	}
	return nil
}

func (e *Engine) publish(t bus.EventType, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Type: t, Data: data})
}
