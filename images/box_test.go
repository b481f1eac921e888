package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxCenterRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		box  Box
	}{
		{"unit box at origin", Box{0, 0, 1, 1}},
		{"offset box", Box{10, 20, 50, 80}},
		{"sub-pixel box", Box{1.25, 2.5, 3.75, 7.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cx, cy, w, h := tt.box.Center()
			got := BoxFromCenter(cx, cy, w, h)
			assert.InDelta(t, tt.box.X1, got.X1, 1e-5)
			assert.InDelta(t, tt.box.Y1, got.Y1, 1e-5)
			assert.InDelta(t, tt.box.X2, got.X2, 1e-5)
			assert.InDelta(t, tt.box.Y2, got.Y2, 1e-5)
		})
	}
}

func TestBoxArea(t *testing.T) {
	assert.InDelta(t, 12, Box{0, 0, 3, 4}.Area(), 1e-6)
	// Degenerate and inverted boxes have zero area.
	assert.Zero(t, Box{5, 5, 5, 9}.Area())
	assert.Zero(t, Box{9, 9, 5, 5}.Area())
}

func TestBoxClip(t *testing.T) {
	got := Box{-10, -5, 150, 90}.Clip(100, 80)
	assert.Equal(t, Box{0, 0, 100, 80}, got)

	// Boxes already inside the window are untouched.
	inside := Box{10, 10, 40, 40}
	assert.Equal(t, inside, inside.Clip(100, 80))
}

func TestBoxIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float32
	}{
		{"identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 1},
		{"disjoint", Box{0, 0, 10, 10}, Box{20, 20, 30, 30}, 0},
		{"touching edges", Box{0, 0, 10, 10}, Box{10, 0, 20, 10}, 0},
		{"half overlap", Box{0, 0, 10, 10}, Box{5, 0, 15, 10}, 50.0 / 150.0},
		{"contained quarter", Box{0, 0, 10, 10}, Box{0, 0, 5, 5}, 0.25},
		{"degenerate", Box{5, 5, 5, 5}, Box{0, 0, 10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BoxIoU(tt.a, tt.b), 1e-5)
			// IoU is symmetric.
			assert.InDelta(t, tt.want, BoxIoU(tt.b, tt.a), 1e-5)
		})
	}
}
