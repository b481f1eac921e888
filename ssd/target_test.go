package ssd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/images"
)

func testTargetGenerator(t *testing.T, ratio float32) *TargetGenerator {
	t.Helper()
	gen, err := NewTargetGenerator(TargetConfig{
		IoUThresh:           0.5,
		NegThresh:           0.5,
		NegativeMiningRatio: ratio,
		Stds:                DefaultStds,
	})
	require.NoError(t, err)
	return gen
}

// fourAnchors builds a (1, 4, 4) center-format anchor tensor from corner
// boxes.
func fourAnchors(boxes ...images.Box) *tensor.Dense {
	data := centerAnchors(boxes...)
	return tensor.New(tensor.WithShape(1, len(boxes), 4), tensor.WithBacking(data))
}

// TestTargetGeneratorNoGroundTruth is the degenerate-input contract: an
// image without annotations yields all-background targets and no
// regression signal, not an error.
func TestTargetGeneratorNoGroundTruth(t *testing.T) {
	gen := testTargetGenerator(t, 3)
	anchors := fourAnchors(
		images.Box{X1: 0, Y1: 0, X2: 10, Y2: 10},
		images.Box{X1: 10, Y1: 0, X2: 20, Y2: 10},
		images.Box{X1: 0, Y1: 10, X2: 10, Y2: 20},
		images.Box{X1: 10, Y1: 10, X2: 20, Y2: 20},
	)

	targets, err := gen.Generate(anchors, nil, [][]GroundTruth{{}})
	require.NoError(t, err)

	for i, v := range targets.ClassTargets.Data().([]float32) {
		assert.Equal(t, float32(0), v, "anchor %d must be background", i)
	}
	for i, v := range targets.BoxMasks.Data().([]float32) {
		assert.Equal(t, float32(0), v, "mask %d must be off", i)
	}
}

func TestTargetGeneratorPositiveMatch(t *testing.T) {
	gen := testTargetGenerator(t, 3)
	anchors := fourAnchors(
		images.Box{X1: 0, Y1: 0, X2: 10, Y2: 10},
		images.Box{X1: 100, Y1: 100, X2: 110, Y2: 110},
	)
	gt := GroundTruth{Box: images.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Label: 4}

	targets, err := gen.Generate(anchors, nil, [][]GroundTruth{{gt}})
	require.NoError(t, err)

	cls := targets.ClassTargets.Data().([]float32)
	assert.Equal(t, float32(5), cls[0], "label shifts up by one for background")
	assert.Equal(t, float32(0), cls[1])

	// A perfectly aligned anchor encodes to zero offsets.
	boxTargets := targets.BoxTargets.Data().([]float32)
	for k := 0; k < 4; k++ {
		assert.InDelta(t, 0.0, boxTargets[k], 1e-5)
	}
	masks := targets.BoxMasks.Data().([]float32)
	assert.Equal(t, []float32{1, 1, 1, 1}, masks[:4])
	assert.Equal(t, []float32{0, 0, 0, 0}, masks[4:])
}

// TestTargetGeneratorEveryGTMatched feeds a ground truth that overlaps no
// anchor above the threshold and checks the forced bipartite positive.
func TestTargetGeneratorEveryGTMatched(t *testing.T) {
	gen := testTargetGenerator(t, 3)
	anchors := fourAnchors(
		images.Box{X1: 0, Y1: 0, X2: 40, Y2: 40},
		images.Box{X1: 50, Y1: 50, X2: 90, Y2: 90},
	)
	// Overlaps anchor 0 with IoU well under 0.5.
	gt := GroundTruth{Box: images.Box{X1: 30, Y1: 30, X2: 60, Y2: 60}, Label: 0}

	targets, err := gen.Generate(anchors, nil, [][]GroundTruth{{gt}})
	require.NoError(t, err)

	cls := targets.ClassTargets.Data().([]float32)
	positives := 0
	for _, v := range cls {
		if v > 0 {
			positives++
		}
	}
	assert.Equal(t, 1, positives, "the forced match must yield exactly one positive")
}

// TestTargetGeneratorHardNegativeMining checks that with class predictions
// available, negatives are capped at ratio*positives and chosen by
// background-confidence shortfall.
func TestTargetGeneratorHardNegativeMining(t *testing.T) {
	gen := testTargetGenerator(t, 1)
	anchors := fourAnchors(
		images.Box{X1: 0, Y1: 0, X2: 10, Y2: 10},
		images.Box{X1: 100, Y1: 100, X2: 110, Y2: 110},
		images.Box{X1: 200, Y1: 200, X2: 210, Y2: 210},
		images.Box{X1: 300, Y1: 300, X2: 310, Y2: 310},
	)
	gt := GroundTruth{Box: images.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Label: 0}

	// Anchor 1 confidently predicts a foreground class: the hardest
	// negative. Anchors 2 and 3 already believe in background.
	logits := tensor.New(tensor.WithShape(1, 4, 3), tensor.WithBacking([]float32{
		0, 0, 0,
		0, 8, 0,
		8, 0, 0,
		8, 0, 0,
	}))

	targets, err := gen.Generate(anchors, logits, [][]GroundTruth{{gt}})
	require.NoError(t, err)

	cls := targets.ClassTargets.Data().([]float32)
	assert.Equal(t, float32(1), cls[0], "positive")
	assert.Equal(t, float32(0), cls[1], "hard negative kept")
	assert.Equal(t, float32(-1), cls[2], "easy negative ignored")
	assert.Equal(t, float32(-1), cls[3], "easy negative ignored")
}

func TestTargetGeneratorValidation(t *testing.T) {
	_, err := NewTargetGenerator(TargetConfig{IoUThresh: 0, NegThresh: 0.5, Stds: DefaultStds})
	assert.Error(t, err)

	_, err = NewTargetGenerator(TargetConfig{IoUThresh: 0.5, NegThresh: 0.5, NegativeMiningRatio: -1, Stds: DefaultStds})
	assert.Error(t, err)

	gen := testTargetGenerator(t, 3)
	badAnchors := tensor.New(tensor.WithShape(2, 1, 4), tensor.WithBacking(make([]float32, 8)))
	_, err = gen.Generate(badAnchors, nil, [][]GroundTruth{{}})
	assert.Error(t, err)
}
