package ssd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// detRows builds a (1, N, 6) detection tensor from (id, score, x1..y2)
// rows.
func detRows(rows ...[6]float32) *tensor.Dense {
	data := make([]float32, 0, len(rows)*6)
	for _, r := range rows {
		data = append(data, r[:]...)
	}
	return tensor.New(tensor.WithShape(1, len(rows), 6), tensor.WithBacking(data))
}

func validIDs(t *tensor.Dense) []int {
	data := t.Data().([]float32)
	var out []int
	for i := 0; i*6 < len(data); i++ {
		if data[i*6] >= 0 {
			out = append(out, i)
		}
	}
	return out
}

// TestBoxNMSSameClass: of two identical boxes of one class, exactly the
// higher-scoring one survives.
func TestBoxNMSSameClass(t *testing.T) {
	dets := detRows(
		[6]float32{0, 0.9, 0, 0, 10, 10},
		[6]float32{0, 0.8, 0, 0, 10, 10},
	)
	require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: 0.5}))
	assert.Equal(t, []int{0}, validIDs(dets))

	// The suppressed row is fully invalidated in place.
	data := dets.Data().([]float32)
	assert.Equal(t, []float32{-1, -1, -1, -1, -1, -1}, data[6:12])
}

// TestBoxNMSDifferentClasses: co-located boxes of different classes both
// survive class-aware suppression but not forced suppression.
func TestBoxNMSDifferentClasses(t *testing.T) {
	build := func() *tensor.Dense {
		return detRows(
			[6]float32{0, 0.9, 0, 0, 10, 10},
			[6]float32{1, 0.8, 0, 0, 10, 10},
		)
	}

	dets := build()
	require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: 0.5}))
	assert.Equal(t, []int{0, 1}, validIDs(dets))

	dets = build()
	require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: 0.5, ForceSuppress: true}))
	assert.Equal(t, []int{0}, validIDs(dets))
}

func TestBoxNMSKeepsDisjointBoxes(t *testing.T) {
	dets := detRows(
		[6]float32{0, 0.9, 0, 0, 10, 10},
		[6]float32{0, 0.8, 50, 50, 60, 60},
	)
	require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: 0.5}))
	assert.Equal(t, []int{0, 1}, validIDs(dets))
}

// TestBoxNMSTopK caps survivors regardless of overlap.
func TestBoxNMSTopK(t *testing.T) {
	dets := detRows(
		[6]float32{0, 0.5, 0, 0, 10, 10},
		[6]float32{0, 0.9, 50, 50, 60, 60},
		[6]float32{0, 0.7, 100, 100, 110, 110},
	)
	require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: 0.5, TopK: 2}))
	// The two highest scores survive; positions are preserved.
	assert.Equal(t, []int{1, 2}, validIDs(dets))
}

// TestBoxNMSDisabled: thresholds outside (0,1) leave the tensor untouched.
func TestBoxNMSDisabled(t *testing.T) {
	for _, thresh := range []float32{0, 1, -0.5, 2} {
		dets := detRows(
			[6]float32{0, 0.9, 0, 0, 10, 10},
			[6]float32{0, 0.8, 0, 0, 10, 10},
		)
		require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: thresh}))
		assert.Equal(t, []int{0, 1}, validIDs(dets), "thresh=%v", thresh)
	}
}

// TestBoxNMSAllInvalid: a tensor of already-invalid rows passes through.
func TestBoxNMSAllInvalid(t *testing.T) {
	dets := detRows(
		[6]float32{-1, -1, -1, -1, -1, -1},
		[6]float32{-1, -1, -1, -1, -1, -1},
	)
	require.NoError(t, BoxNMS(dets, NMSConfig{Thresh: 0.5}))
	assert.Empty(t, validIDs(dets))
}

func TestBoxNMSShapeValidation(t *testing.T) {
	bad := tensor.New(tensor.WithShape(1, 2, 4), tensor.WithBacking(make([]float32, 8)))
	assert.Error(t, BoxNMS(bad, NMSConfig{Thresh: 0.5}))
}
