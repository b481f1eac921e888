// Package backbone provides feature-extractor and predictor-head
// implementations for the SSD detector: a small gorgonia convolutional
// pyramid for self-contained use, conv predictor heads, and an ONNX
// Runtime adapter for models that export their feature maps.
//
// Everything in this package satisfies the collaborator contracts consumed
// by package ssd (ssd.FeatureExtractor and ssd.Predictor); the detector
// itself never depends on which implementation it is given.
package backbone

import (
	"math/rand"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// randomKernel draws a (out, in, k, k) convolution kernel with He-style
// scaling from the given source.
func randomKernel(rng *rand.Rand, out, in, k int) *tensor.Dense {
	scale := math32.Sqrt(2 / float32(in*k*k))
	data := make([]float32, out*in*k*k)
	for i := range data {
		data[i] = float32(rng.NormFloat64()) * scale
	}
	return tensor.New(
		tensor.WithShape(out, in, k, k),
		tensor.WithBacking(data),
	)
}
