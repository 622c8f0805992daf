// Package matcher resolves face embeddings to known identity labels.
package matcher

import (
	"fmt"
	"math"

	"github.com/andresmejia3/vigil/internal/types"
	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the Euclidean distance under which a face is accepted
// as the nearest known identity.
const DefaultThreshold = 0.6

// EmbeddingDim is the length of the encodings produced by the extractor.
const EmbeddingDim = 128

// KnownFaceSet is an ordered list of labelled embeddings. Labels may repeat.
// It is immutable once built; reloads replace the whole set.
type KnownFaceSet struct {
	labels  []string
	vectors [][]float64
}

// NewKnownFaceSet pairs the i-th label with the i-th vector.
func NewKnownFaceSet(labels []string, vectors [][]float64) (KnownFaceSet, error) {
	if len(labels) != len(vectors) {
		return KnownFaceSet{}, fmt.Errorf("known faces: %d labels for %d encodings", len(labels), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != EmbeddingDim {
			return KnownFaceSet{}, fmt.Errorf("known faces: encoding %d (%s) has %d dimensions, want %d", i, labels[i], len(v), EmbeddingDim)
		}
	}
	set := KnownFaceSet{
		labels:  make([]string, len(labels)),
		vectors: make([][]float64, len(vectors)),
	}
	copy(set.labels, labels)
	for i, v := range vectors {
		set.vectors[i] = append([]float64(nil), v...)
	}
	return set, nil
}

// Len returns the number of entries.
func (s KnownFaceSet) Len() int { return len(s.labels) }

// Labels returns a copy of the labels in set order.
func (s KnownFaceSet) Labels() []string { return append([]string(nil), s.labels...) }

// Entry returns the label and a copy of the vector at i.
func (s KnownFaceSet) Entry(i int) (string, []float64) {
	return s.labels[i], append([]float64(nil), s.vectors[i]...)
}

// Result is the outcome of matching one embedding.
type Result struct {
	Label      string
	Confidence float64
	Distance   float64
}

// Matcher runs nearest-neighbour search against a KnownFaceSet.
type Matcher struct {
	Known     KnownFaceSet
	Threshold float64
}

// New returns a Matcher with the default threshold.
func New(known KnownFaceSet) *Matcher {
	return &Matcher{Known: known, Threshold: DefaultThreshold}
}

// Match finds the closest known embedding. Ties go to the lowest index. The
// label is only reported when the distance is strictly under the threshold,
// but the confidence is always derived from the nearest distance. An empty
// set yields Unknown with confidence 0 and distance 1.
func (m *Matcher) Match(embedding []float64) Result {
	if m.Known.Len() == 0 {
		return Result{Label: types.UnknownLabel, Confidence: 0, Distance: 1.0}
	}

	best, bestDist := 0, math.Inf(1)
	for i, known := range m.Known.vectors {
		d := distance(embedding, known)
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	label := types.UnknownLabel
	if bestDist < m.Threshold {
		label = m.Known.labels[best]
	}
	return Result{
		Label:      label,
		Confidence: Confidence(bestDist, m.Threshold),
		Distance:   bestDist,
	}
}

// distance is the Euclidean distance; a length mismatch is treated as
// maximally distant rather than panicking mid-frame.
func distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// Confidence maps a distance onto [0, 1]. Above the threshold the score falls
// linearly to 0 at distance 1. At or below it the linear score is boosted
// towards 1 with a 0.2 power curve.
//
// The boost base (linear-0.5)*2 is clamped to 0 before the fractional power.
// For d in [0, threshold] it is already non-negative; the clamp only matters
// for out-of-range inputs such as a negative threshold, which would otherwise
// produce NaN.
func Confidence(d, threshold float64) float64 {
	if d > threshold {
		span := 1.0 - threshold
		linear := (1.0 - d) / (span * 2.0)
		return math.Max(0.0, linear)
	}

	span := threshold
	linear := 1.0 - (d / (span * 2.0))
	base := math.Max(0, (linear-0.5)*2.0)
	return math.Min(1.0, linear+(1.0-linear)*math.Pow(base, 0.2))
}
