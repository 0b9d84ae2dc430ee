// Package vecmath provides the float32 vector primitives used by the
// index and the retrieval engine. All similarity math in this module runs
// on unit vectors, so inner product and cosine similarity coincide.
package vecmath

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Dot computes the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	return vek32.Dot(a, b)
}

// Norm computes the L2 norm (magnitude) of a vector.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}

// Normalize scales v in place to unit length. Zero vectors are left
// unchanged.
func Normalize(v []float32) {
	norm := Norm(v)
	if norm == 0 {
		return
	}
	vek32.MulNumber_Inplace(v, 1/norm)
}

// Normalized returns a unit vector in the same direction without
// modifying the input.
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	Normalize(out)
	return out
}

// InnerDistance converts an inner product on unit vectors into a
// distance: 0 for identical directions, 2 for opposite.
func InnerDistance(a, b []float32) float32 {
	return 1 - vek32.Dot(a, b)
}
