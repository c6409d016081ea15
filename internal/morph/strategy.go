package morph

import (
	"strings"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

// Strategy writes a weight vector onto a table and reports whether it
// handled it. Strategies are tried in order until one succeeds.
type Strategy interface {
	Name() string
	Apply(t *Table, w viseme.Weights) bool
}

// VowelChannels are the dedicated per-vowel morph channels some avatar rigs
// ship with, indexed by vowel.
var VowelChannels = [viseme.VowelCount]string{
	viseme.VowelAA: "vrc.v_aa",
	viseme.VowelE:  "vrc.v_e",
	viseme.VowelIH: "vrc.v_ih",
	viseme.VowelOH: "vrc.v_oh",
	viseme.VowelOU: "vrc.v_ou",
}

// ExpressionNames maps each vowel to its standard expression preset.
var ExpressionNames = [viseme.VowelCount]string{
	viseme.VowelAA: "aa",
	viseme.VowelE:  "ee",
	viseme.VowelIH: "ih",
	viseme.VowelOH: "oh",
	viseme.VowelOU: "ou",
}

// DefaultHeuristicAttenuation scales heuristic writes. Keyword matches carry
// no per-vowel meaning, so they never get full strength.
const DefaultHeuristicAttenuation float32 = 0.5

var DefaultKeywords = []string{"mouth", "jaw", "lip", "viseme", "phoneme", "mth"}

const (
	StrategyVowelChannels = "vowel_channels"
	StrategyExpressions   = "expressions"
	StrategyHeuristic     = "heuristic"
)

// VowelChannelStrategy writes each vowel to its dedicated channel. Only sinks
// on meshes that expose the vowel channel set are written.
type VowelChannelStrategy struct{}

// Name implements Strategy
func (VowelChannelStrategy) Name() string { return StrategyVowelChannels }

// Apply writes the weights to vrc.v_* channels on a single mesh
func (VowelChannelStrategy) Apply(t *Table, w viseme.Weights) bool {
	return writeVowelChannels(t, w)
}

func writeVowelChannels(t *Table, w viseme.Weights) bool {
	wrote := false
	for v, name := range VowelChannels {
		for _, sink := range t.Sinks(name) {
			if !t.MeshHasAny(sink.Mesh, VowelChannels[:]) {
				continue
			}
			sink.Set(w[v])
			wrote = true
		}
	}
	return wrote
}

// ExpressionStrategy drives the rig's expression surface. It succeeds
// whenever the surface exists, even if some preset names are missing.
type ExpressionStrategy struct{}

// Name implements Strategy
func (ExpressionStrategy) Name() string { return StrategyExpressions }

// Apply writes the weights to the vowel expressions
func (ExpressionStrategy) Apply(t *Table, w viseme.Weights) bool {
	return writeExpressions(t, w)
}

func writeExpressions(t *Table, w viseme.Weights) bool {
	surface := t.Expressions()
	if surface == nil {
		return false
	}
	for v, name := range ExpressionNames {
		surface.SetValue(name, w[v])
	}
	surface.Update()
	return true
}

// HeuristicStrategy writes max(w) * Attenuation to every channel whose name
// contains one of the keywords, case-insensitively.
type HeuristicStrategy struct {
	keywords    []string
	attenuation float32
}

// NewHeuristicStrategy matches channels by keyword and writes max weight times attenuation
func NewHeuristicStrategy(keywords []string, attenuation float32) *HeuristicStrategy {
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &HeuristicStrategy{keywords: lower, attenuation: attenuation}
}

// Name implements Strategy
func (h *HeuristicStrategy) Name() string { return StrategyHeuristic }

// Apply writes to every keyword-matched channel
func (h *HeuristicStrategy) Apply(t *Table, w viseme.Weights) bool {
	value := w.Max() * h.attenuation
	matched := false
	for _, name := range h.Matches(t) {
		for _, sink := range t.Sinks(name) {
			sink.Set(value)
		}
		matched = true
	}
	return matched
}

// Matches lists the channel names the keyword scan selects.
func (h *HeuristicStrategy) Matches(t *Table) []string {
	var out []string
	for _, name := range t.Names() {
		lower := strings.ToLower(name)
		for _, k := range h.keywords {
			if strings.Contains(lower, k) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
