// Package images - Motion segmentation over gocv for gating detection on
// live video: background subtraction (MOG2), thresholding, dilation and
// contour extraction.
package images

import (
	"image"

	"gocv.io/x/gocv"
)

// MotionSegmenter isolates motion regions in a video stream. It is stateful
// and reused across frames; the MOG2 background model accumulates as frames
// arrive. Always call Close() to release native resources.
type MotionSegmenter struct {
	Delta                gocv.Mat                      // Foreground mask from background subtraction
	Threshold            gocv.Mat                      // Binary mask after thresholding
	Kernel               gocv.Mat                      // Morphological kernel for FillGaps
	BackgroundSubtractor gocv.BackgroundSubtractorMOG2 // Persistent background model
}

// NewMotionSegmenter constructs a segmenter with a 3x3 rectangular dilation
// kernel, ready for use on the first frame.
func NewMotionSegmenter() *MotionSegmenter {
	return &MotionSegmenter{
		Delta:                gocv.NewMat(),
		Threshold:            gocv.NewMat(),
		Kernel:               gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		BackgroundSubtractor: gocv.NewBackgroundSubtractorMOG2(),
	}
}

// SubtractBackground updates the MOG2 model with frame and writes the
// foreground mask into Delta.
func (m *MotionSegmenter) SubtractBackground(frame gocv.Mat) error {
	return m.BackgroundSubtractor.Apply(frame, &m.Delta)
}

// ApplyThreshold converts the grayscale Delta mask to a binary mask in
// Threshold. Returns the threshold used.
func (m *MotionSegmenter) ApplyThreshold(threshold float32, maxVal float32) float32 {
	return gocv.Threshold(m.Delta, &m.Threshold, threshold, maxVal, gocv.ThresholdBinary)
}

// FillGaps dilates the binary mask to connect fragmented regions before
// contour extraction.
func (m *MotionSegmenter) FillGaps() error {
	return gocv.Dilate(m.Threshold, &m.Threshold, m.Kernel)
}

// DetectContours extracts the external contours of connected regions in the
// binary mask.
func (m *MotionSegmenter) DetectContours() gocv.PointsVector {
	return gocv.FindContours(m.Threshold, gocv.RetrievalExternal, gocv.ChainApproxSimple)
}

// SegmentMotion runs the full pipeline (subtraction, thresholding, dilation,
// contour extraction) with default parameters. The caller owns the returned
// contours and must Close them.
func (m *MotionSegmenter) SegmentMotion(frame gocv.Mat) gocv.PointsVector {
	m.SubtractBackground(frame)
	m.ApplyThreshold(25, 255)
	m.FillGaps()
	return m.DetectContours()
}

// DetectMotion reports whether any contour covers at least minimumArea
// pixels.
func (m *MotionSegmenter) DetectMotion(contours gocv.PointsVector, minimumArea float64) bool {
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= minimumArea {
			return true
		}
	}
	return false
}

// Close releases all OpenCV native resources used by the segmenter.
func (m *MotionSegmenter) Close() {
	m.Delta.Close()
	m.Threshold.Close()
	m.Kernel.Close()
	m.BackgroundSubtractor.Close()
}
