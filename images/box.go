// Package images - Image processing utilities
package images

import "github.com/chewxy/math32"

// Box is a bounding box in corner format with float32 coordinates.
//
// Unlike Rect, which mirrors image.Rectangle for pixel-space operations,
// Box carries sub-pixel coordinates as produced by detection models before
// any rasterization.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the box width. Negative for non-canonical boxes.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns the box height. Negative for non-canonical boxes.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the box area, clamped to zero for degenerate boxes.
func (b Box) Area() float32 {
	w := b.Width()
	h := b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center converts the box to center format.
//
// Returns:
//   - cx, cy: The center coordinates.
//   - w, h: The width and height.
func (b Box) Center() (cx, cy, w, h float32) {
	w = b.Width()
	h = b.Height()
	cx = b.X1 + w/2
	cy = b.Y1 + h/2
	return cx, cy, w, h
}

// BoxFromCenter builds a corner-format Box from center coordinates and size.
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Clip clamps the box to the [0,width]x[0,height] window.
func (b Box) Clip(width, height float32) Box {
	return Box{
		X1: math32.Max(0, math32.Min(b.X1, width)),
		Y1: math32.Max(0, math32.Min(b.Y1, height)),
		X2: math32.Max(0, math32.Min(b.X2, width)),
		Y2: math32.Max(0, math32.Min(b.Y2, height)),
	}
}

// BoxIoU computes the Intersection over Union of two corner-format boxes.
//
// The same inclusion-exclusion computation as CalculateIoU, but over float32
// coordinates so that anchor matching and NMS do not lose sub-pixel overlap.
//
// Returns:
//   - float32: A value in [0,1]; 0 when the boxes do not overlap or either
//     box is degenerate.
func BoxIoU(b, o Box) float32 {
	ix1 := math32.Max(b.X1, o.X1)
	iy1 := math32.Max(b.Y1, o.Y1)
	ix2 := math32.Min(b.X2, o.X2)
	iy2 := math32.Min(b.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
