package ssd

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/images"
)

// TargetConfig parameterizes training target assignment.
type TargetConfig struct {
	// IoUThresh is the minimum overlap for a threshold-stage positive match.
	IoUThresh float32
	// NegThresh is the overlap below which an unmatched anchor is a
	// negative candidate; anchors in [NegThresh, IoUThresh) are ignored.
	NegThresh float32
	// NegativeMiningRatio caps kept negatives at ratio*num_positives.
	NegativeMiningRatio float32
	// Stds are the box-coding standard deviations.
	Stds [4]float32
}

// Targets holds per-anchor training targets for one batch.
type Targets struct {
	// ClassTargets has shape (batch, N): ground-truth class id plus one
	// for positives, 0 for background, -1 for ignored anchors.
	ClassTargets *tensor.Dense
	// BoxTargets has shape (batch, N, 4): encoded regression offsets,
	// zero everywhere but positive anchors.
	BoxTargets *tensor.Dense
	// BoxMasks has shape (batch, N, 4): 1 on positive anchors, 0
	// elsewhere, for masking the regression loss.
	BoxMasks *tensor.Dense
}

// GroundTruth is one labeled training box.
type GroundTruth struct {
	Box images.Box
	// Label is the foreground class id, starting at 0.
	Label int
}

// TargetGenerator turns ground-truth annotations into per-anchor
// classification and regression targets: IoU matching, hard-negative
// mining and box encoding in one pass. It holds no per-call state and is
// safe for concurrent use.
type TargetGenerator struct {
	cfg   TargetConfig
	coder BoxCoder
}

// NewTargetGenerator validates the configuration and builds the generator.
func NewTargetGenerator(cfg TargetConfig) (*TargetGenerator, error) {
	if cfg.IoUThresh <= 0 || cfg.IoUThresh > 1 {
		return nil, errors.Errorf("target generator: iou threshold must be in (0,1], got %v", cfg.IoUThresh)
	}
	if cfg.NegThresh < 0 || cfg.NegThresh > 1 {
		return nil, errors.Errorf("target generator: negative threshold must be in [0,1], got %v", cfg.NegThresh)
	}
	if cfg.NegativeMiningRatio < 0 {
		return nil, errors.Errorf("target generator: mining ratio must not be negative, got %v", cfg.NegativeMiningRatio)
	}
	coder, err := NewBoxCoder(cfg.Stds)
	if err != nil {
		return nil, err
	}
	return &TargetGenerator{cfg: cfg, coder: coder}, nil
}

// Generate produces training targets for a batch.
//
// Arguments:
//   - anchors: Anchor tensor of shape (1, N, 4) in center format.
//   - clsLogits: Raw class predictions of shape (batch, N, classes+1),
//     used to rank hard negatives. May be nil; negatives are then kept
//     uncapped.
//   - batch: Per-image ground-truth sets. An empty set is valid and yields
//     all-background targets for that image.
//
// Returns:
//   - *Targets: Per-anchor targets and masks, shapes described on Targets.
//   - error: An error when tensor shapes disagree.
func (t *TargetGenerator) Generate(anchors *tensor.Dense, clsLogits *tensor.Dense, batch [][]GroundTruth) (*Targets, error) {
	as := anchors.Shape()
	if len(as) != 3 || as[0] != 1 || as[2] != 4 {
		return nil, errors.Errorf("target generator: want anchors of shape (1, N, 4), got %v", as)
	}
	n := as[1]
	b := len(batch)

	var logitsData []float32
	numClasses := 0
	if clsLogits != nil {
		ls := clsLogits.Shape()
		if len(ls) != 3 || ls[0] != b || ls[1] != n {
			return nil, errors.Errorf("target generator: class predictions %v misaligned with %d anchors over %d images", ls, n, b)
		}
		logitsData = clsLogits.Data().([]float32)
		numClasses = ls[2]
	}

	anchorData := anchors.Data().([]float32)
	clsTargets := make([]float32, b*n)
	boxTargets := make([]float32, b*n*4)
	boxMasks := make([]float32, b*n*4)

	for img, gts := range batch {
		var samples []int
		matches := make([]int, n)

		if len(gts) == 0 {
			// Nothing to match: the whole image is background.
			for i := range matches {
				matches[i] = -1
			}
			samples = make([]int, n)
			for i := range samples {
				samples[i] = sampleNegative
			}
		} else {
			gtBoxes := make([]images.Box, len(gts))
			for j, gt := range gts {
				gtBoxes[j] = gt.Box
			}
			ious := IoUMatrix(anchorData, gtBoxes)
			var maxIoU []float32
			matches, maxIoU = MatchAnchors(ious, t.cfg.IoUThresh)

			var imgLogits []float32
			if logitsData != nil {
				imgLogits = logitsData[img*n*numClasses : (img+1)*n*numClasses]
			}
			samples = sampleHardNegatives(matches, maxIoU, imgLogits, numClasses, t.cfg.NegThresh, t.cfg.NegativeMiningRatio)
		}

		for i := 0; i < n; i++ {
			ti := img*n + i
			switch samples[i] {
			case samplePositive:
				gt := gts[matches[i]]
				clsTargets[ti] = float32(gt.Label) + 1
				enc := t.coder.Encode(gt.Box, anchorData[i*4], anchorData[i*4+1], anchorData[i*4+2], anchorData[i*4+3])
				copy(boxTargets[ti*4:ti*4+4], enc[:])
				for k := 0; k < 4; k++ {
					boxMasks[ti*4+k] = 1
				}
			case sampleNegative:
				clsTargets[ti] = 0
			default:
				clsTargets[ti] = -1
			}
		}
	}

	return &Targets{
		ClassTargets: tensor.New(tensor.WithShape(b, n), tensor.WithBacking(clsTargets)),
		BoxTargets:   tensor.New(tensor.WithShape(b, n, 4), tensor.WithBacking(boxTargets)),
		BoxMasks:     tensor.New(tensor.WithShape(b, n, 4), tensor.WithBacking(boxMasks)),
	}, nil
}
