package ssd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/images"
)

// TestBoxCoderRoundTrip verifies that Decode inverts Encode for a spread of
// boxes and anchors.
func TestBoxCoderRoundTrip(t *testing.T) {
	coder, err := NewBoxCoder(DefaultStds)
	require.NoError(t, err)

	tests := []struct {
		name   string
		gt     images.Box
		anchor [4]float32 // center format
	}{
		{
			name:   "box equals anchor",
			gt:     images.Box{X1: 10, Y1: 10, X2: 50, Y2: 50},
			anchor: [4]float32{30, 30, 40, 40},
		},
		{
			name:   "offset and rescaled",
			gt:     images.Box{X1: 100, Y1: 80, X2: 220, Y2: 300},
			anchor: [4]float32{40, 60, 25, 75},
		},
		{
			name:   "tiny box against a big anchor",
			gt:     images.Box{X1: 4, Y1: 4, X2: 6, Y2: 7},
			anchor: [4]float32{150, 150, 300, 300},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := coder.Encode(tt.gt, tt.anchor[0], tt.anchor[1], tt.anchor[2], tt.anchor[3])

			preds := tensor.New(tensor.WithShape(1, 1, 4), tensor.WithBacking(enc[:]))
			anchors := tensor.New(tensor.WithShape(1, 1, 4), tensor.WithBacking(tt.anchor[:]))
			decoded, err := coder.Decode(preds, anchors)
			require.NoError(t, err)

			got := decoded.Data().([]float32)
			assert.InDelta(t, tt.gt.X1, got[0], 1e-3)
			assert.InDelta(t, tt.gt.Y1, got[1], 1e-3)
			assert.InDelta(t, tt.gt.X2, got[2], 1e-3)
			assert.InDelta(t, tt.gt.Y2, got[3], 1e-3)
		})
	}
}

// TestBoxCoderDecodePositiveSize checks that decoded boxes keep strictly
// positive width and height even for extreme regression values.
func TestBoxCoderDecodePositiveSize(t *testing.T) {
	coder, err := NewBoxCoder(DefaultStds)
	require.NoError(t, err)

	preds := tensor.New(tensor.WithShape(1, 2, 4), tensor.WithBacking([]float32{
		5, -5, -20, -20, // collapses toward zero size
		-5, 5, 10, 10, // blows up
	}))
	anchors := tensor.New(tensor.WithShape(1, 2, 4), tensor.WithBacking([]float32{
		50, 50, 20, 20,
		50, 50, 20, 20,
	}))

	decoded, err := coder.Decode(preds, anchors)
	require.NoError(t, err)
	got := decoded.Data().([]float32)
	for i := 0; i < 2; i++ {
		assert.Greater(t, got[i*4+2], got[i*4], "row %d width", i)
		assert.Greater(t, got[i*4+3], got[i*4+1], "row %d height", i)
	}
}

func TestBoxCoderDecodeClip(t *testing.T) {
	coder, err := NewBoxCoder(DefaultStds)
	require.NoError(t, err)
	coder.Clip = 100

	preds := tensor.New(tensor.WithShape(1, 1, 4), tensor.WithBacking([]float32{0, 0, 10, 10}))
	anchors := tensor.New(tensor.WithShape(1, 1, 4), tensor.WithBacking([]float32{50, 50, 40, 40}))

	decoded, err := coder.Decode(preds, anchors)
	require.NoError(t, err)
	got := decoded.Data().([]float32)
	for i, v := range got {
		assert.GreaterOrEqual(t, v, float32(0), "coordinate %d", i)
		assert.LessOrEqual(t, v, float32(100), "coordinate %d", i)
	}
}

func TestBoxCoderShapeValidation(t *testing.T) {
	coder, err := NewBoxCoder(DefaultStds)
	require.NoError(t, err)

	preds := tensor.New(tensor.WithShape(1, 2, 4), tensor.WithBacking(make([]float32, 8)))
	anchors := tensor.New(tensor.WithShape(1, 3, 4), tensor.WithBacking(make([]float32, 12)))
	_, err = coder.Decode(preds, anchors)
	assert.ErrorContains(t, err, "misaligned")

	_, err = NewBoxCoder([4]float32{0.1, 0, 0.2, 0.2})
	assert.Error(t, err)
}

// TestClassDecoder verifies foreground argmax selection, the class-id
// shift, and that a background-dominated row still reports the best
// foreground score rather than the background one.
func TestClassDecoder(t *testing.T) {
	tests := []struct {
		name      string
		probs     []float32
		thresh    float32
		wantID    float32
		wantScore float32
	}{
		{
			name:      "clear foreground winner",
			probs:     []float32{0.1, 0.2, 0.7},
			wantID:    1,
			wantScore: 0.7,
		},
		{
			name:      "background dominates but foreground score survives",
			probs:     []float32{0.6, 0.3, 0.1},
			wantID:    0,
			wantScore: 0.3,
		},
		{
			name:      "below threshold marked invalid",
			probs:     []float32{0.9, 0.06, 0.04},
			thresh:    0.5,
			wantID:    -1,
			wantScore: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs := tensor.New(tensor.WithShape(1, 1, len(tt.probs)), tensor.WithBacking(tt.probs))
			ids, scores, err := ClassDecoder{Thresh: tt.thresh}.Decode(probs)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ids.Data().([]float32)[0])
			assert.InDelta(t, tt.wantScore, scores.Data().([]float32)[0], 1e-6)
		})
	}
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 2, 3})
	var sum float32
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Greater(t, out[2], out[1])
	assert.Greater(t, out[1], out[0])

	// Large logits must not overflow.
	out = Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, out[0], 1e-5)
}
