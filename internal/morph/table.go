// Package morph resolves abstract vowel weights onto the concrete facial
// controls a loaded avatar exposes.
package morph

import (
	"sort"

	"github.com/normanking/cortexlipsync/internal/avatar"
)

// Sink is one writable morph channel: a mesh and the channel's index in it.
type Sink struct {
	Mesh  avatar.MorphMesh
	Index int
}

// Set writes v to the morph target
func (s Sink) Set(v float32) {
	s.Mesh.SetMorphWeight(s.Index, v)
}

// Get reads the morph target's current weight
func (s Sink) Get() float32 {
	return s.Mesh.MorphWeight(s.Index)
}

// Table maps every morph channel name discovered on a rig to all of its
// sinks. Names are matched exactly.
type Table struct {
	rig      avatar.Rig
	channels map[string][]Sink
	byMesh   map[avatar.MorphMesh]map[string]struct{}
	names    []string
}

// NewTable walks the rig's meshes once.
func NewTable(rig avatar.Rig) *Table {
	t := &Table{
		rig:      rig,
		channels: make(map[string][]Sink),
		byMesh:   make(map[avatar.MorphMesh]map[string]struct{}),
	}

	for _, mesh := range rig.MorphMeshes() {
		own := make(map[string]struct{})
		for i, name := range mesh.MorphTargetNames() {
			t.channels[name] = append(t.channels[name], Sink{Mesh: mesh, Index: i})
			own[name] = struct{}{}
		}
		t.byMesh[mesh] = own
	}

	t.names = make([]string, 0, len(t.channels))
	for name := range t.channels {
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t
}

// Sinks returns every target registered under name
func (t *Table) Sinks(name string) []Sink {
	return t.channels[name]
}

// Names returns every channel name, sorted.
func (t *Table) Names() []string {
	return t.names
}

// MeshHasAny reports whether mesh itself exposes one of names.
func (t *Table) MeshHasAny(mesh avatar.MorphMesh, names []string) bool {
	own := t.byMesh[mesh]
	for _, name := range names {
		if _, ok := own[name]; ok {
			return true
		}
	}
	return false
}

// Expressions returns the rig's expression surface, or nil.
func (t *Table) Expressions() avatar.ExpressionSurface {
	return t.rig.Expressions()
}
