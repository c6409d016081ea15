package avatar

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// MorphTarget is one named blend channel and its per-vertex position deltas.
// Deltas may be empty for channels that only exist by name.
type MorphTarget struct {
	Name           string
	PositionDeltas []mgl32.Vec3
}

// Mesh holds one glTF mesh's base geometry and morph state. Weights are read
// and written under a lock; Deform folds them into the deformed positions.
type Mesh struct {
	name    string
	targets []MorphTarget
	base    []mgl32.Vec3

	mu       sync.RWMutex
	weights  []float32
	deformed []mgl32.Vec3
}

// NewMesh creates a mesh with the given morph targets and base positions
func NewMesh(name string, targets []MorphTarget, base []mgl32.Vec3) *Mesh {
	m := &Mesh{
		name:     name,
		targets:  targets,
		base:     base,
		weights:  make([]float32, len(targets)),
		deformed: make([]mgl32.Vec3, len(base)),
	}
	copy(m.deformed, base)
	return m
}

// Name returns the mesh name
func (m *Mesh) Name() string {
	return m.name
}

// MorphTargetNames returns the channel names in target order
func (m *Mesh) MorphTargetNames() []string {
	names := make([]string, len(m.targets))
	for i, t := range m.targets {
		names[i] = t.Name
	}
	return names
}

// MorphWeight returns 0 for out-of-range channels.
func (m *Mesh) MorphWeight(i int) float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.weights) {
		return 0
	}
	return m.weights[i]
}

// SetMorphWeight clamps w to [0, 1]. Out-of-range channels are ignored.
func (m *Mesh) SetMorphWeight(i int, w float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.weights) {
		return
	}
	m.weights[i] = clamp(w, 0, 1)
}

// MorphWeights returns a copy of every channel's weight.
func (m *Mesh) MorphWeights() []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float32, len(m.weights))
	copy(out, m.weights)
	return out
}

// VertexCount returns the number of base positions
func (m *Mesh) VertexCount() int {
	return len(m.base)
}

// Deform recomputes base + sum(weight * delta) for every vertex.
func (m *Mesh) Deform() {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.deformed, m.base)
	for ti, target := range m.targets {
		weight := m.weights[ti]
		if weight < 0.001 {
			continue
		}
		for vi, delta := range target.PositionDeltas {
			if vi < len(m.deformed) {
				m.deformed[vi] = m.deformed[vi].Add(delta.Mul(weight))
			}
		}
	}
}

// DeformedPositions returns a copy of the positions produced by the last
// Deform.
func (m *Mesh) DeformedPositions() []mgl32.Vec3 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mgl32.Vec3, len(m.deformed))
	copy(out, m.deformed)
	return out
}
