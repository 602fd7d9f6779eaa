package vecindex

import "math"

// Cosine computes cosine similarity between two vectors. Mismatched lengths
// and zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CertaintyToCosine maps Weaviate's certainty (always [0,1]) back to cosine
// similarity: certainty = (1 + cosine) / 2.
func CertaintyToCosine(certainty float64) float64 {
	return 2*certainty - 1
}
