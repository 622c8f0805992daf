package matcher

import (
	"math"
	"testing"

	"github.com/andresmejia3/vigil/internal/types"
)

// axis returns a unit embedding scaled by length along dimension i.
func axis(i int, length float64) []float64 {
	v := make([]float64, EmbeddingDim)
	v[i] = length
	return v
}

func TestConfidenceBoostedBranch(t *testing.T) {
	if got := Confidence(0.0, DefaultThreshold); got != 1.0 {
		t.Errorf("Confidence(0) = %v, want 1", got)
	}
	atThreshold := Confidence(DefaultThreshold, DefaultThreshold)
	if math.Abs(atThreshold-0.5) > 1e-12 {
		t.Errorf("Confidence(0.6) = %v, want 0.5", atThreshold)
	}

	prev := math.Inf(1)
	for d := 0.0; d < DefaultThreshold; d += 0.005 {
		got := Confidence(d, DefaultThreshold)
		if math.IsNaN(got) {
			t.Fatalf("Confidence(%v) is NaN", d)
		}
		if got < atThreshold {
			t.Errorf("Confidence(%v) = %v, below the threshold score %v", d, got, atThreshold)
		}
		if got > prev {
			t.Errorf("Confidence not monotonic at %v: %v > %v", d, got, prev)
		}
		prev = got
	}
}

func TestConfidenceLinearBranch(t *testing.T) {
	if got := Confidence(1.0, DefaultThreshold); got != 0.0 {
		t.Errorf("Confidence(1) = %v, want 0", got)
	}
	if got := Confidence(1.7, DefaultThreshold); got != 0.0 {
		t.Errorf("Confidence(1.7) = %v, want clamp to 0", got)
	}

	prev := math.Inf(1)
	for d := 0.605; d <= 1.0; d += 0.005 {
		got := Confidence(d, DefaultThreshold)
		if got < 0 {
			t.Errorf("Confidence(%v) = %v, want >= 0", d, got)
		}
		if got > prev {
			t.Errorf("Confidence not monotonic at %v: %v > %v", d, got, prev)
		}
		prev = got
	}
}

func TestConfidenceClampedBase(t *testing.T) {
	// A negative threshold drives the boost base below zero; the clamp keeps
	// the score finite instead of NaN.
	got := Confidence(-2.0, -1.0)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("Confidence with negative base = %v, want finite", got)
	}
	if got != 0.0 {
		t.Errorf("Confidence(-2, -1) = %v, want unboosted linear 0", got)
	}
}

func TestMatchEmptySet(t *testing.T) {
	m := New(KnownFaceSet{})
	for _, q := range [][]float64{axis(0, 1), axis(5, 0.1), nil} {
		got := m.Match(q)
		if got.Label != types.UnknownLabel || got.Confidence != 0.0 || got.Distance != 1.0 {
			t.Errorf("Match() on empty set = %+v", got)
		}
	}
}

func TestMatch(t *testing.T) {
	known, err := NewKnownFaceSet(
		[]string{"Alice", "Bob", "Alice"},
		[][]float64{axis(0, 1), axis(1, 1), axis(2, 1)},
	)
	if err != nil {
		t.Fatal(err)
	}
	m := New(known)

	tests := []struct {
		name      string
		query     []float64
		wantLabel string
		wantDist  float64
		wantConf  float64
	}{
		{
			name:      "Exact match",
			query:     axis(1, 1),
			wantLabel: "Bob",
			wantDist:  0,
			wantConf:  1.0,
		},
		{
			name:      "Distance equal to threshold is rejected",
			query:     axis(0, 1.6),
			wantLabel: types.UnknownLabel,
			wantDist:  0.6,
			wantConf:  0.5,
		},
		{
			name:      "Weak match still reports confidence",
			query:     axis(0, 1.8),
			wantLabel: types.UnknownLabel,
			wantDist:  0.8,
			wantConf:  0.25,
		},
		{
			name:      "Close match",
			query:     axis(0, 1.3),
			wantLabel: "Alice",
			wantDist:  0.3,
			wantConf:  Confidence(0.3, DefaultThreshold),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(tt.query)
			if got.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", got.Label, tt.wantLabel)
			}
			if math.Abs(got.Distance-tt.wantDist) > 1e-9 {
				t.Errorf("Distance = %v, want %v", got.Distance, tt.wantDist)
			}
			if math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestMatchTieBreak(t *testing.T) {
	known, err := NewKnownFaceSet(
		[]string{"First", "Second"},
		[][]float64{axis(0, 0.1), axis(1, 0.1)},
	)
	if err != nil {
		t.Fatal(err)
	}

	// Origin is equidistant from both entries
	got := New(known).Match(make([]float64, EmbeddingDim))
	if got.Label != "First" {
		t.Errorf("tie resolved to %q, want lowest index", got.Label)
	}
}

func TestNewKnownFaceSet(t *testing.T) {
	if _, err := NewKnownFaceSet([]string{"a", "b"}, [][]float64{axis(0, 1)}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := NewKnownFaceSet([]string{"a"}, [][]float64{{1, 2, 3}}); err == nil {
		t.Error("expected error for short encoding")
	}

	vec := axis(0, 1)
	set, err := NewKnownFaceSet([]string{"a"}, [][]float64{vec})
	if err != nil {
		t.Fatal(err)
	}
	vec[0] = 42 // caller mutation must not leak into the set
	if _, got := set.Entry(0); got[0] != 1 {
		t.Errorf("set shares caller storage: %v", got[0])
	}
}
