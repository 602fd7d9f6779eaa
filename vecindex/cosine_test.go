package vecindex

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	cases := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
		{"mismatched lengths", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		got := Cosine(tc.a, tc.b)
		if math.Abs(got-tc.expected) > 1e-9 {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestCertaintyToCosine(t *testing.T) {
	cases := []struct{ certainty, cosine float64 }{
		{1, 1},
		{0.5, 0},
		{0.925, 0.85},
		{0, -1},
	}
	for _, tc := range cases {
		if got := CertaintyToCosine(tc.certainty); math.Abs(got-tc.cosine) > 1e-9 {
			t.Fatalf("CertaintyToCosine(%v) expected %v, got %v", tc.certainty, tc.cosine, got)
		}
	}
}
