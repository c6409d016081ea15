package avatar

import (
	"sort"
	"sync"
)

// Bind maps an expression onto one morph channel. Weight is the channel
// value at full expression strength, in [0, 1].
type Bind struct {
	Mesh   *Mesh
	Index  int
	Weight float32
}

// Expression is a named group of morph binds.
type Expression struct {
	Name  string
	Binds []Bind
}

type channelKey struct {
	mesh  *Mesh
	index int
}

// Expressions drives morph channels through named expressions. Update
// rewrites every channel any expression binds to as the clamped sum of
// value * bind weight; channels no expression binds to are left alone.
type Expressions struct {
	format Format

	mu     sync.Mutex
	exprs  map[string]Expression
	values map[string]float32
}

// NewExpressions indexes exprs by name
func NewExpressions(format Format, exprs []Expression) *Expressions {
	e := &Expressions{
		format: format,
		exprs:  make(map[string]Expression, len(exprs)),
		values: make(map[string]float32, len(exprs)),
	}
	for _, expr := range exprs {
		existing := e.exprs[expr.Name]
		existing.Name = expr.Name
		existing.Binds = append(existing.Binds, expr.Binds...)
		e.exprs[expr.Name] = existing
	}
	return e
}

// SetValue ignores names the model does not define.
func (e *Expressions) SetValue(name string, v float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.exprs[name]; !ok {
		return
	}
	e.values[name] = clamp(v, 0, 1)
}

// Value returns an expression's current value
func (e *Expressions) Value(name string) float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values[name]
}

// Has reports whether the model defines the expression
func (e *Expressions) Has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.exprs[name]
	return ok
}

// Names returns the expression names, sorted
func (e *Expressions) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.exprs))
	for name := range e.exprs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Update pushes expression values into their bound morph targets
func (e *Expressions) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()

	totals := make(map[channelKey]float32)
	for name, expr := range e.exprs {
		value := e.values[name]
		for _, b := range expr.Binds {
			if b.Mesh == nil {
				continue
			}
			key := channelKey{mesh: b.Mesh, index: b.Index}
			totals[key] += value * b.Weight
		}
	}

	for key, total := range totals {
		key.mesh.SetMorphWeight(key.index, total)
	}
}
