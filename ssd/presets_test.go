package ssd

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestSizeLadder(t *testing.T) {
	// Six layers at base 300, scales 0.1..0.95: the canonical SSD300 ladder.
	pairs := sizeLadder(300, 0.1, 0.95, 6)
	require.Len(t, pairs, 6)

	assert.InDelta(t, 30, pairs[0][0], 1e-3)
	assert.InDelta(t, 81, pairs[0][1], 1e-3)
	// Consecutive pairs chain: this layer's max is the next layer's min.
	for i := 1; i < len(pairs); i++ {
		assert.InDelta(t, pairs[i-1][1], pairs[i][0], 1e-3, "layer %d", i)
	}
	// The last pair closes at the full base size.
	assert.InDelta(t, 300, pairs[5][1], 1e-3)
}

func TestSizeLadderSingleLayer(t *testing.T) {
	pairs := sizeLadder(100, 0.2, 0.9, 1)
	require.Len(t, pairs, 1)
	assert.InDelta(t, 20, pairs[0][0], 1e-3)
	assert.InDelta(t, 100, pairs[0][1], 1e-3)
}

func TestPresetConfigsConstruct(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		layers int
	}{
		{"ssd300", SSD300Config(20), 6},
		{"ssd512", SSD512Config(80), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feats := make([]*tensor.Dense, tt.layers)
			size := tt.cfg.BaseSize / int(tt.cfg.Steps[0])
			for i := range feats {
				feats[i] = featureMap(1, 4, size, size)
				if size > 1 {
					size /= 2
				}
			}
			var rec []int
			net, err := New(&stubFeatures{feats: feats}, stubHeads(&rec), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.layers, net.NumLayers())
			// One class head and one box head per scale.
			assert.Len(t, rec, 2*tt.layers)
		})
	}
}

func TestLoadCheckpointNotImplemented(t *testing.T) {
	var rec []int
	backbone := &stubFeatures{feats: []*tensor.Dense{featureMap(1, 8, 4, 4)}}
	net, err := New(backbone, stubHeads(&rec), singleScaleConfig())
	require.NoError(t, err)

	err = net.LoadCheckpoint("weights/ssd300.bin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	assert.Contains(t, err.Error(), "ssd300.bin")
}
