// Package vecmath provides fixed-dimension float32 vector operations for
// preference computation and ranking, plus the little-endian wire codec used
// by the fast cache.
package vecmath

import (
	"encoding/binary"
	"errors"
	"math"
)

// Common errors for vector operations.
var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrMalformedBlob     = errors.New("blob length is not a multiple of 4")
	ErrEmptyInput        = errors.New("empty input")
)

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a new vector scaled to unit L2 norm.
// A zero vector is returned as a copy, unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Mean returns the element-wise mean of the given vectors.
// All vectors must share the same dimension.
func Mean(vs [][]float32) ([]float32, error) {
	if len(vs) == 0 {
		return nil, ErrEmptyInput
	}
	dim := len(vs[0])
	sum := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vs))
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out, nil
}

// AddScaled adds s*v to dst in place.
func AddScaled(dst, v []float32, s float32) error {
	if len(dst) != len(v) {
		return ErrDimensionMismatch
	}
	for i, x := range v {
		dst[i] += x * s
	}
	return nil
}

// Cosine computes the cosine similarity between a and b.
// Accumulation is done in float64 to keep results stable across input order.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if len(a) == 0 {
		return 0, ErrEmptyInput
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return dot / denom, nil
}

// Pack converts a float32 vector to its little-endian byte representation.
func Pack(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Unpack converts a little-endian byte blob back to a float32 vector.
func Unpack(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, ErrMalformedBlob
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
