// Package avatar loads glTF/VRM models and exposes their facial-blend
// surface: named morph channels per mesh, an optional expression layer and a
// CPU recompute step that applies the current weights to the geometry.
package avatar

import (
	"errors"
	"sync"
)

var (
	ErrNoMeshes     = errors.New("model has no meshes")
	ErrInvalidModel = errors.New("invalid model")
)

// MorphMesh is one mesh's writable morph channels.
type MorphMesh interface {
	Name() string
	MorphTargetNames() []string
	MorphWeight(i int) float32
	SetMorphWeight(i int, w float32)
}

// ExpressionSurface is a named-expression layer on top of the morph
// channels. Values are written with SetValue and take effect on Update.
type ExpressionSurface interface {
	SetValue(name string, v float32)
	Value(name string) float32
	Has(name string) bool
	Names() []string
	Update()
}

// Rig is what a lip-sync driver needs from a loaded avatar.
type Rig interface {
	MorphMeshes() []MorphMesh
	// Expressions returns nil when the model has no expression layer.
	Expressions() ExpressionSurface
	Recompute(dt float32)
}

// Format identifies the flavour of the loaded file.
type Format string

const (
	FormatGLTF Format = "gltf"
	FormatVRM0 Format = "vrm0"
	FormatVRM1 Format = "vrm1"
)

// Model is a loaded avatar.
type Model struct {
	ID     string
	Format Format

	meshes      []*Mesh
	expressions *Expressions

	mu      sync.Mutex
	elapsed float32
}

// NewModel assembles a model from already-built meshes. exprs may be nil.
func NewModel(id string, meshes []*Mesh, exprs *Expressions) *Model {
	format := FormatGLTF
	if exprs != nil {
		format = exprs.format
	}
	return &Model{
		ID:          id,
		Format:      format,
		meshes:      meshes,
		expressions: exprs,
	}
}

// Meshes returns the model's meshes
func (m *Model) Meshes() []*Mesh {
	return m.meshes
}

// MorphMeshes returns the meshes as morph channel owners
func (m *Model) MorphMeshes() []MorphMesh {
	out := make([]MorphMesh, len(m.meshes))
	for i, mesh := range m.meshes {
		out[i] = mesh
	}
	return out
}

// Expressions returns the VRM expression surface, or nil for plain glTF
func (m *Model) Expressions() ExpressionSurface {
	if m.expressions == nil {
		return nil
	}
	return m.expressions
}

// Recompute applies the current morph weights to every mesh's geometry.
func (m *Model) Recompute(dt float32) {
	m.mu.Lock()
	if dt > 0 {
		m.elapsed += dt
	}
	m.mu.Unlock()

	for _, mesh := range m.meshes {
		mesh.Deform()
	}
}

// Elapsed is the total time passed to Recompute.
func (m *Model) Elapsed() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Mesh looks a mesh up by name.
func (m *Model) Mesh(name string) (*Mesh, bool) {
	for _, mesh := range m.meshes {
		if mesh.name == name {
			return mesh, true
		}
	}
	return nil, false
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
