// Package images - Image processing utilities
package images

import "image"

// Rect is a lightweight integer bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// RectFromBox rasterizes a sub-pixel Box into pixel space, scaling by
// (sx, sy). Used to map detector-resolution boxes back onto source frames.
func RectFromBox(b Box, sx, sy float32) Rect {
	return Rect{
		X1: int(b.X1 * sx),
		Y1: int(b.Y1 * sy),
		X2: int(b.X2 * sx),
		Y2: int(b.Y2 * sy),
	}
}

// ToImage converts the rect to an image.Rectangle.
func (r Rect) ToImage() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// CalculateIoU computes the Intersection over Union of two rectangles by
// inclusion-exclusion:
//
//	IoU = Area of Intersection / Area of Union
//
// Returns a value in [0,1]; 0 when the rectangles do not overlap.
func CalculateIoU(r, o Rect) float32 {
	// The overlap starts where both rectangles have begun and ends where the
	// first one ends.
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	areaR := (r.X2 - r.X1) * (r.Y2 - r.Y1)
	areaO := (o.X2 - o.X1) * (o.Y2 - o.Y1)
	unionArea := areaR + areaO - interArea

	return float32(interArea) / float32(unionArea)
}
