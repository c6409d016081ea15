package morph

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/avatar"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

// maxRecomputeStep caps the delta passed to the rig after a long pause.
const maxRecomputeStep = 0.1

// Resolver applies vowel weights to the bound rig through an ordered
// strategy list and triggers the rig's recompute after each write.
type Resolver struct {
	mu         sync.Mutex
	strategies []Strategy
	rig        avatar.Rig
	table      *Table

	now           func() time.Time
	lastRecompute time.Time
	logger        zerolog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithStrategies replaces the default strategy order.
func WithStrategies(strategies ...Strategy) Option {
	return func(r *Resolver) {
		r.strategies = strategies
	}
}

// WithHeuristic configures the keyword fallback of the default order.
func WithHeuristic(keywords []string, attenuation float32) Option {
	return func(r *Resolver) {
		r.strategies = defaultStrategies(keywords, attenuation)
	}
}

// WithLogger sets the resolver's logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger.With().Str("component", "morph").Logger()
	}
}

// WithClock replaces the wall clock used for recompute deltas
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func defaultStrategies(keywords []string, attenuation float32) []Strategy {
	return []Strategy{
		VowelChannelStrategy{},
		ExpressionStrategy{},
		NewHeuristicStrategy(keywords, attenuation),
	}
}

// NewResolver creates an unbound resolver with the default strategy chain
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		strategies: defaultStrategies(DefaultKeywords, DefaultHeuristicAttenuation),
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind discards any previous table and indexes rig.
func (r *Resolver) Bind(rig avatar.Rig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rig == nil {
		r.rig, r.table = nil, nil
		return
	}
	r.rig = rig
	r.table = NewTable(rig)
	r.lastRecompute = time.Time{}

	r.logger.Debug().
		Int("channels", len(r.table.Names())).
		Bool("expressions", rig.Expressions() != nil).
		Msg("Rig bound")
}

// Unbind drops the current rig
func (r *Resolver) Unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rig, r.table = nil, nil
}

// Bound reports whether a rig is bound
func (r *Resolver) Bound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rig != nil
}

// Apply runs strategies in order and stops at the first that succeeds,
// returning its name. Without a rig, or when no strategy finds a control, it
// is a no-op.
func (r *Resolver) Apply(w viseme.Weights) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table == nil {
		return "", false
	}
	for _, s := range r.strategies {
		if s.Apply(r.table, w) {
			r.recomputeLocked()
			return s.Name(), true
		}
	}
	return "", false
}

// Reset zeroes the vowel channels and the vowel expressions. Channels written
// by the keyword fallback keep their last value.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table == nil {
		return
	}
	var zero viseme.Weights
	writeVowelChannels(r.table, zero)
	writeExpressions(r.table, zero)
	r.recomputeLocked()
}

// SetChannel writes v, clamped to [0, 1], to every sink named name and
// reports whether the channel exists.
func (r *Resolver) SetChannel(name string, v float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table == nil {
		return false
	}
	sinks := r.table.Sinks(name)
	if len(sinks) == 0 {
		return false
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	for _, sink := range sinks {
		sink.Set(v)
	}
	r.recomputeLocked()
	return true
}

// Channels lists the bound rig's channel names, sorted.
func (r *Resolver) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table == nil {
		return nil
	}
	out := make([]string, len(r.table.Names()))
	copy(out, r.table.Names())
	return out
}

func (r *Resolver) recomputeLocked() {
	now := r.now()
	var dt float32
	if !r.lastRecompute.IsZero() {
		dt = float32(now.Sub(r.lastRecompute).Seconds())
		if dt > maxRecomputeStep {
			dt = maxRecomputeStep
		}
		if dt < 0 {
			dt = 0
		}
	}
	r.lastRecompute = now
	r.rig.Recompute(dt)
}
