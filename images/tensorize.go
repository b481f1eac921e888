// Package images - Image processing utilities
package images

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ToCHWTensor converts an image into a (1, 3, height, width) float32 tensor
// with RGB channels scaled to [0,1], resizing with Lanczos resampling when
// the source dimensions differ from the requested ones.
//
// Arguments:
//   - img: The source image.
//   - width: Target tensor width.
//   - height: Target tensor height.
//
// Returns:
//   - *tensor.Dense: NCHW tensor ready for a feature extractor.
//   - error: An error if the target dimensions are not positive.
func ToCHWTensor(img image.Image, width, height int) (*tensor.Dense, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid tensor dimensions %dx%d", width, height)
	}

	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	}

	data := make([]float32, 3*height*width)
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			idx := y*width + x
			data[idx] = float32(r>>8) / 255.0
			data[plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(b>>8) / 255.0
		}
	}

	return tensor.New(
		tensor.WithShape(1, 3, height, width),
		tensor.WithBacking(data),
	), nil
}

// DecodeToCHWTensor decodes raw image bytes (JPEG, PNG or GIF) and converts
// them with ToCHWTensor.
func DecodeToCHWTensor(raw []byte, width, height int) (*tensor.Dense, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image bytes")
	}
	return ToCHWTensor(img, width, height)
}
