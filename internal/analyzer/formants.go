package analyzer

import (
	"math"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

// Formant is the first two formant frequencies of a vowel, in Hz.
type Formant struct {
	F1 float64
	F2 float64
}

var formants = [viseme.VowelCount]Formant{
	viseme.VowelAA: {F1: 730, F2: 1090},
	viseme.VowelE:  {F1: 530, F2: 1840},
	viseme.VowelIH: {F1: 390, F2: 1990},
	viseme.VowelOH: {F1: 570, F2: 840},
	viseme.VowelOU: {F1: 300, F2: 870},
}

// Formants returns the reference formant table indexed by vowel.
func Formants() [viseme.VowelCount]Formant {
	return formants
}

// VowelProximity scores how close a single frequency sits to each vowel's
// formant pair and normalizes the scores to sum to one.
//
// This is a coarse heuristic over the dominant frequency only, not formant
// tracking.
func VowelProximity(freq float64) viseme.Weights {
	var scores [viseme.VowelCount]float64
	var sum float64
	for v, f := range formants {
		distance := math.Abs(freq-f.F1) + math.Abs(freq-f.F2)
		scores[v] = 1 / (1 + distance/1000)
		sum += scores[v]
	}

	var w viseme.Weights
	if sum == 0 {
		return w
	}
	for v, s := range scores {
		w.Set(viseme.Vowel(v), float32(s/sum))
	}
	return w
}
