// Package ssd implements the Single-Shot Multi-box Detector core: anchor
// generation, box and class coding, training target assignment and greedy
// non-maximum suppression, composed over pluggable backbone and predictor
// collaborators.
package ssd

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// AnchorGenerator produces the fixed anchor grid for one feature-map scale.
//
// Anchors are laid out in center format (cx, cy, w, h) in base-image pixel
// coordinates. For a cell at (x, y) the center is ((x+0.5)*step,
// (y+0.5)*step). Each cell carries:
//   - one square anchor at the layer's min size,
//   - one square anchor at sqrt(min*max),
//   - one anchor per aspect ratio beyond the first, with width min*sqrt(r)
//     and height min/sqrt(r).
//
// The full grid is generated once at a reference allocation size; live
// feature-map sizes are sliced out of it and memoized, so repeated forward
// passes at the same resolution never regenerate anchors.
type AnchorGenerator struct {
	index     int
	sizes     [2]float32
	ratios    []float32
	step      float32
	allocSize int

	base []float32 // (allocSize, allocSize, depth, 4) row-major

	mu    sync.RWMutex
	cache map[[2]int]*tensor.Dense
}

// NewAnchorGenerator creates the anchor generator for layer index with the
// given (min, max) size pair, aspect ratios, stride and allocation grid size.
//
// Returns:
//   - *AnchorGenerator: The configured generator.
//   - error: An error if the configuration is invalid (empty ratios,
//     non-positive sizes, step or allocation size).
func NewAnchorGenerator(index int, minSize, maxSize float32, ratios []float32, step float32, allocSize int) (*AnchorGenerator, error) {
	if len(ratios) == 0 {
		return nil, errors.Errorf("anchor layer %d: ratios must not be empty", index)
	}
	if minSize <= 0 || maxSize <= 0 {
		return nil, errors.Errorf("anchor layer %d: sizes must be positive, got (%v, %v)", index, minSize, maxSize)
	}
	if step <= 0 {
		return nil, errors.Errorf("anchor layer %d: step must be positive, got %v", index, step)
	}
	if allocSize <= 0 {
		return nil, errors.Errorf("anchor layer %d: alloc size must be positive, got %d", index, allocSize)
	}
	for _, r := range ratios {
		if r <= 0 {
			return nil, errors.Errorf("anchor layer %d: ratio must be positive, got %v", index, r)
		}
	}

	g := &AnchorGenerator{
		index:     index,
		sizes:     [2]float32{minSize, math32.Sqrt(minSize * maxSize)},
		ratios:    append([]float32(nil), ratios...),
		step:      step,
		allocSize: allocSize,
		cache:     make(map[[2]int]*tensor.Dense),
	}
	g.base = g.generate(allocSize, allocSize)
	return g, nil
}

// NumDepth returns the number of anchors per spatial cell.
func (g *AnchorGenerator) NumDepth() int {
	return 2 + len(g.ratios) - 1
}

// generate lays out anchors for an (height, width) grid in (h, w, depth, 4)
// order, matching the (batch, H, W, channels) order the predictor heads are
// flattened in.
func (g *AnchorGenerator) generate(height, width int) []float32 {
	depth := g.NumDepth()
	out := make([]float32, 0, height*width*depth*4)
	for y := 0; y < height; y++ {
		cy := (float32(y) + 0.5) * g.step
		for x := 0; x < width; x++ {
			cx := (float32(x) + 0.5) * g.step
			out = append(out, cx, cy, g.sizes[0], g.sizes[0])
			out = append(out, cx, cy, g.sizes[1], g.sizes[1])
			for _, r := range g.ratios[1:] {
				sr := math32.Sqrt(r)
				out = append(out, cx, cy, g.sizes[0]*sr, g.sizes[0]/sr)
			}
		}
	}
	return out
}

// Anchors returns the anchor tensor for a feature map of the given spatial
// size, shaped (1, height*width*depth, 4) in center format.
//
// Sizes within the allocation grid are sliced from the precomputed base;
// larger sizes are generated directly. Results are cached per size and the
// returned tensor is shared, so callers must treat it as read-only.
func (g *AnchorGenerator) Anchors(height, width int) (*tensor.Dense, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Errorf("anchor layer %d: invalid feature size %dx%d", g.index, height, width)
	}

	key := [2]int{height, width}
	g.mu.RLock()
	if t, ok := g.cache[key]; ok {
		g.mu.RUnlock()
		return t, nil
	}
	g.mu.RUnlock()

	depth := g.NumDepth()
	var data []float32
	if height <= g.allocSize && width <= g.allocSize {
		// Slice the top-left (height, width) window from the alloc grid.
		rowStride := g.allocSize * depth * 4
		data = make([]float32, 0, height*width*depth*4)
		for y := 0; y < height; y++ {
			row := g.base[y*rowStride : y*rowStride+width*depth*4]
			data = append(data, row...)
		}
	} else {
		data = g.generate(height, width)
	}

	t := tensor.New(
		tensor.WithShape(1, height*width*depth, 4),
		tensor.WithBacking(data),
	)

	g.mu.Lock()
	// Another goroutine may have populated the entry meanwhile; keep the
	// first tensor so shared readers always observe a single instance.
	if prev, ok := g.cache[key]; ok {
		t = prev
	} else {
		g.cache[key] = t
	}
	g.mu.Unlock()
	return t, nil
}
