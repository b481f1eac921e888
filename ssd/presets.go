package ssd

import "github.com/pkg/errors"

// ErrNotImplemented reports functionality that is deliberately absent.
var ErrNotImplemented = errors.New("not implemented")

// sizeLadder spreads anchor sizes linearly between minScale and maxScale of
// the base size over numLayers, returning consecutive (min, max) pairs with
// the final pair closed at the full base size.
func sizeLadder(baseSize, minScale, maxScale float32, numLayers int) [][2]float32 {
	scales := make([]float32, 0, numLayers+1)
	for i := 0; i < numLayers; i++ {
		s := minScale
		if numLayers > 1 {
			s += (maxScale - minScale) * float32(i) / float32(numLayers-1)
		}
		scales = append(scales, s)
	}
	scales = append(scales, 1.0)

	pairs := make([][2]float32, numLayers)
	for i := 0; i < numLayers; i++ {
		pairs[i] = [2]float32{scales[i] * baseSize, scales[i+1] * baseSize}
	}
	return pairs
}

// SSD300Config is the classic 300x300 six-scale layout: scale range
// (0.1, 0.95), extra 3:1 ratios on the middle scales, strides from 8 up to
// the full input.
func SSD300Config(classes int) Config {
	return Config{
		BaseSize: 300,
		Scale:    [2]float32{0.1, 0.95},
		Ratios: [][]float32{
			{1, 2, 0.5},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5},
			{1, 2, 0.5},
		},
		Steps:               []float32{8, 16, 32, 64, 100, 300},
		Classes:             classes,
		IoUThresh:           0.5,
		NegThresh:           0.5,
		NegativeMiningRatio: 3,
		Stds:                DefaultStds,
		NMS:                 NMSConfig{Thresh: 0.45, TopK: 400},
		AnchorAllocSize:     128,
	}
}

// SSD512Config is the seven-scale 512x512 layout.
func SSD512Config(classes int) Config {
	return Config{
		BaseSize: 512,
		Scale:    [2]float32{0.1, 0.95},
		Ratios: [][]float32{
			{1, 2, 0.5},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5, 3, 1.0 / 3},
			{1, 2, 0.5},
			{1, 2, 0.5},
		},
		Steps:               []float32{8, 16, 32, 64, 128, 256, 512},
		Classes:             classes,
		IoUThresh:           0.5,
		NegThresh:           0.5,
		NegativeMiningRatio: 3,
		Stds:                DefaultStds,
		NMS:                 NMSConfig{Thresh: 0.45, TopK: 400},
		AnchorAllocSize:     128,
	}
}

// LoadCheckpoint would restore trained detector weights from disk. No
// checkpoint format is supported yet; callers get a hard error instead of
// a silently random-weight detector.
func (n *SSD) LoadCheckpoint(path string) error {
	return errors.Wrapf(ErrNotImplemented, "loading detector checkpoint %q", path)
}
