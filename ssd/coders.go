package ssd

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/images"
)

// DefaultStds are the box-coding standard deviations used by the reference
// SSD configurations.
var DefaultStds = [4]float32{0.1, 0.1, 0.2, 0.2}

// BoxCoder converts between absolute boxes and the normalized center-offset
// regression space the network predicts in.
//
// Encoding a ground-truth box g against an anchor a (both center format):
//
//	tx = (gx-ax)/aw / std0
//	ty = (gy-ay)/ah / std1
//	tw = log(gw/aw) / std2
//	th = log(gh/ah) / std3
//
// Decode is the exact algebraic inverse, so decode(encode(b, a), a) == b up
// to floating-point precision.
type BoxCoder struct {
	// Stds scale each regression channel.
	Stds [4]float32
	// Clip bounds decoded corner coordinates to [0, Clip] when positive.
	Clip float32
}

// NewBoxCoder returns a BoxCoder with the given stds, validating that none
// of them is zero.
func NewBoxCoder(stds [4]float32) (BoxCoder, error) {
	for i, s := range stds {
		if s <= 0 {
			return BoxCoder{}, errors.Errorf("box coder: std[%d] must be positive, got %v", i, s)
		}
	}
	return BoxCoder{Stds: stds}, nil
}

// Encode computes the regression target for a ground-truth corner box
// matched to an anchor given in center format.
func (c BoxCoder) Encode(gt images.Box, acx, acy, aw, ah float32) [4]float32 {
	gcx, gcy, gw, gh := gt.Center()
	return [4]float32{
		(gcx - acx) / aw / c.Stds[0],
		(gcy - acy) / ah / c.Stds[1],
		math32.Log(gw/aw) / c.Stds[2],
		math32.Log(gh/ah) / c.Stds[3],
	}
}

// Decode recovers absolute corner boxes from raw regression output.
//
// Arguments:
//   - preds: Regression tensor of shape (batch, N, 4).
//   - anchors: Anchor tensor of shape (1, N, 4) in center format.
//
// Returns:
//   - *tensor.Dense: Corner boxes of shape (batch, N, 4). Widths and
//     heights are strictly positive before any clipping since the scale
//     channels pass through exp.
//   - error: An error when shapes disagree.
func (c BoxCoder) Decode(preds, anchors *tensor.Dense) (*tensor.Dense, error) {
	ps := preds.Shape()
	as := anchors.Shape()
	if len(ps) != 3 || ps[2] != 4 {
		return nil, errors.Errorf("box decoder: want predictions of shape (B, N, 4), got %v", ps)
	}
	if len(as) != 3 || as[0] != 1 || as[2] != 4 {
		return nil, errors.Errorf("box decoder: want anchors of shape (1, N, 4), got %v", as)
	}
	if ps[1] != as[1] {
		return nil, errors.Errorf("box decoder: %d predictions misaligned with %d anchors", ps[1], as[1])
	}

	batch, n := ps[0], ps[1]
	pd := preds.Data().([]float32)
	ad := anchors.Data().([]float32)
	out := make([]float32, len(pd))

	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			pi := (b*n + i) * 4
			ai := i * 4
			acx, acy, aw, ah := ad[ai], ad[ai+1], ad[ai+2], ad[ai+3]

			cx := pd[pi]*c.Stds[0]*aw + acx
			cy := pd[pi+1]*c.Stds[1]*ah + acy
			w := math32.Exp(pd[pi+2]*c.Stds[2]) * aw
			h := math32.Exp(pd[pi+3]*c.Stds[3]) * ah

			box := images.BoxFromCenter(cx, cy, w, h)
			if c.Clip > 0 {
				box = box.Clip(c.Clip, c.Clip)
			}
			out[pi] = box.X1
			out[pi+1] = box.Y1
			out[pi+2] = box.X2
			out[pi+3] = box.Y2
		}
	}

	return tensor.New(tensor.WithShape(batch, n, 4), tensor.WithBacking(out)), nil
}

// ClassDecoder picks the best foreground class per anchor out of softmaxed
// class probabilities. Index 0 of the probability vector is reserved for
// background; emitted class ids are shifted down by one so foreground
// classes start at 0. Anchors whose best foreground probability does not
// exceed Thresh get id -1 and score 0.
type ClassDecoder struct {
	Thresh float32
}

// Decode selects per-anchor (class id, score) pairs.
//
// Arguments:
//   - probs: Softmax probabilities of shape (batch, N, classes+1).
//
// Returns:
//   - ids: Tensor of shape (batch, N); -1 below threshold.
//   - scores: Tensor of shape (batch, N); the winning foreground
//     probability regardless of whether background outranks it.
func (c ClassDecoder) Decode(probs *tensor.Dense) (ids, scores *tensor.Dense, err error) {
	ps := probs.Shape()
	if len(ps) != 3 || ps[2] < 2 {
		return nil, nil, errors.Errorf("class decoder: want probabilities of shape (B, N, classes+1), got %v", ps)
	}

	batch, n, classes := ps[0], ps[1], ps[2]
	pd := probs.Data().([]float32)
	idData := make([]float32, batch*n)
	scoreData := make([]float32, batch*n)

	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			row := pd[(b*n+i)*classes : (b*n+i+1)*classes]
			best := 1
			for cls := 2; cls < classes; cls++ {
				if row[cls] > row[best] {
					best = cls
				}
			}
			idx := b*n + i
			if row[best] > c.Thresh {
				idData[idx] = float32(best - 1)
				scoreData[idx] = row[best]
			} else {
				idData[idx] = -1
				scoreData[idx] = 0
			}
		}
	}

	ids = tensor.New(tensor.WithShape(batch, n), tensor.WithBacking(idData))
	scores = tensor.New(tensor.WithShape(batch, n), tensor.WithBacking(scoreData))
	return ids, scores, nil
}

// Softmax computes a numerically stable softmax of x.
func Softmax(x []float32) []float32 {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out
	}
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range x {
		out[i] = math32.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// softmaxRows applies Softmax over the last axis of a (batch, N, classes)
// logits tensor, returning a new tensor of the same shape.
func softmaxRows(logits *tensor.Dense) (*tensor.Dense, error) {
	ls := logits.Shape()
	if len(ls) != 3 {
		return nil, errors.Errorf("softmax: want a rank-3 tensor, got shape %v", ls)
	}
	classes := ls[2]
	in := logits.Data().([]float32)
	out := make([]float32, len(in))
	for r := 0; r+classes <= len(in); r += classes {
		copy(out[r:r+classes], Softmax(in[r:r+classes]))
	}
	return tensor.New(tensor.WithShape(ls...), tensor.WithBacking(out)), nil
}
