// Package embedder turns raw image bytes into unit-normalized embedding
// vectors. The model itself lives behind the Embedder interface; hosted
// vision-language embedding endpoints are one implementation, a local ONNX
// runtime another.
package embedder

import (
	"context"
	"math"
)

// Image is the raw input handed to an Embedder.
type Image struct {
	ContentType string
	Bytes       []byte
}

// Embedder generates a fixed-dimension embedding for one image. Vectors
// returned by EmbedImage need not be normalized; the Service takes care of
// that.
type Embedder interface {
	Model() string
	Dimensions() int
	EmbedImage(ctx context.Context, img Image) ([]float32, error)
}

// Dot returns the dot product of two vectors. For unit vectors this is the
// cosine similarity.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// Normalize returns a copy of v scaled to unit length. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := float64(Norm(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
