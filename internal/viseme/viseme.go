// Package viseme defines the five-vowel weight vector shared by every stage of
// the lip-sync pipeline.
package viseme

import (
	"encoding/json"
	"fmt"
)

// Vowel indexes a Weights vector
type Vowel int

const (
	VowelAA Vowel = iota
	VowelE
	VowelIH
	VowelOH
	VowelOU
	VowelCount
)

// Silence is reported by Dominant when every weight is zero.
const Silence = "silence"

var VowelNames = [VowelCount]string{
	"aa",
	"e",
	"ih",
	"oh",
	"ou",
}

// Vowels lists every category in canonical order.
var Vowels = [VowelCount]Vowel{VowelAA, VowelE, VowelIH, VowelOH, VowelOU}

// String returns the vowel's short name
func (v Vowel) String() string {
	if v < 0 || v >= VowelCount {
		return fmt.Sprintf("vowel(%d)", int(v))
	}
	return VowelNames[v]
}

// ParseVowel resolves a vowel by exact name.
func ParseVowel(name string) (Vowel, bool) {
	for i, n := range VowelNames {
		if n == name {
			return Vowel(i), true
		}
	}
	return -1, false
}

// Weights holds one intensity in [0,1] per vowel. The array shape guarantees
// that no category can be missing or added.
type Weights [VowelCount]float32

// Set stores value clamped to [0, 1]
func (w *Weights) Set(v Vowel, value float32) {
	w[v] = clamp(value, 0, 1)
}

// Get returns the weight for v
func (w *Weights) Get(v Vowel) float32 {
	return w[v]
}

// Reset zeroes every weight
func (w *Weights) Reset() {
	for i := range w {
		w[i] = 0
	}
}

// Lerp moves each weight toward target by t
func (w Weights) Lerp(target Weights, t float32) Weights {
	if t <= 0 {
		return w
	}
	if t >= 1 {
		return target
	}

	var result Weights
	for i := range w {
		result[i] = w[i] + (target[i]-w[i])*t
	}
	return result
}

// Scale multiplies every weight, clamping the result
func (w Weights) Scale(factor float32) Weights {
	var result Weights
	for i := range w {
		result[i] = clamp(w[i]*factor, 0, 1)
	}
	return result
}

// Sum adds all weights
func (w Weights) Sum() float32 {
	var sum float32
	for _, v := range w {
		sum += v
	}
	return sum
}

// Max returns the largest weight
func (w Weights) Max() float32 {
	var m float32
	for _, v := range w {
		if v > m {
			m = v
		}
	}
	return m
}

// Dominant returns the name of the strongest vowel, or Silence if all weights
// are zero. The first vowel wins ties.
func (w Weights) Dominant() string {
	best := -1
	var bestWeight float32
	for i, v := range w {
		if v > bestWeight {
			best = i
			bestWeight = v
		}
	}
	if best < 0 {
		return Silence
	}
	return VowelNames[best]
}

// Normalized divides every weight by the total so the vector sums to 1. A
// zero vector stays zero.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return Weights{}
	}
	var result Weights
	for i, v := range w {
		result[i] = v / sum
	}
	return result
}

// OneHot builds a vector with weight on v and zero elsewhere.
func OneHot(v Vowel, weight float32) Weights {
	var w Weights
	w.Set(v, weight)
	return w
}

// Map returns the weights keyed by vowel name
func (w Weights) Map() map[string]float32 {
	m := make(map[string]float32, VowelCount)
	for i, v := range w {
		m[VowelNames[i]] = v
	}
	return m
}

// MarshalJSON encodes the weights as an object keyed by vowel name
func (w Weights) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Map())
}

// UnmarshalJSON decodes an object keyed by vowel name
func (w *Weights) UnmarshalJSON(data []byte) error {
	var m map[string]float32
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	w.Reset()
	for name, value := range m {
		v, ok := ParseVowel(name)
		if !ok {
			return fmt.Errorf("unknown vowel %q", name)
		}
		w.Set(v, value)
	}
	return nil
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
