package ssd

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/images"
)

// Mode selects what Forward computes. Training returns raw tensors for
// loss computation; inference decodes and suppresses them into detections.
type Mode int

const (
	// ModeTraining returns concatenated raw class logits, box regressions
	// and anchors.
	ModeTraining Mode = iota
	// ModeInference decodes predictions into (ids, scores, boxes).
	ModeInference
)

// FeatureExtractor is the backbone collaborator: it turns an input image
// tensor into an ordered sequence of NCHW feature maps, one per detection
// scale. The detector is agnostic to what produces them.
type FeatureExtractor interface {
	Features(x *tensor.Dense) ([]*tensor.Dense, error)
}

// Predictor is the per-scale head collaborator: it maps one NCHW feature
// map to a prediction tensor of shape (batch, anchorsPerCell*outputDim,
// height, width).
type Predictor interface {
	Predict(feat *tensor.Dense) (*tensor.Dense, error)
}

// PredictorFactory builds a head emitting the given number of output
// channels. The detector invokes it once per scale for the classification
// heads and once per scale for the box heads.
type PredictorFactory func(channels int) (Predictor, error)

// Config carries the construction parameters of an SSD detector.
type Config struct {
	// BaseSize is the input resolution the size ladder is expressed in.
	BaseSize int
	// Scale is the (min, max) fraction of BaseSize covered by the anchor
	// size ladder. Must satisfy 0 < min < max.
	Scale [2]float32
	// Ratios holds per-layer aspect-ratio lists. A single list is
	// broadcast to every layer.
	Ratios [][]float32
	// Steps holds the per-layer receptive-field stride in pixels and
	// determines the number of layers.
	Steps []float32
	// Classes is the number of foreground classes.
	Classes int

	// Training target assignment.
	IoUThresh           float32
	NegThresh           float32
	NegativeMiningRatio float32
	// Stds are the box-coding standard deviations; DefaultStds when zero.
	Stds [4]float32

	// NMS is the initial suppression configuration; replaceable later via
	// SetNMS.
	NMS NMSConfig
	// AnchorAllocSize is the reference anchor grid size for the first
	// layer; it halves per layer. Defaults to 128.
	AnchorAllocSize int
	// ClipBoxes clamps decoded boxes to [0, BaseSize].
	ClipBoxes bool
}

// SSD is the detector composition root. Everything but the NMS
// configuration is fixed at construction: the backbone, one anchor
// generator and one class/box head per scale, and the box/class decoders.
// Anchor generators and heads are index-aligned with the backbone's
// feature maps; that alignment is what keeps anchor i on prediction row i
// after concatenation.
type SSD struct {
	features FeatureExtractor

	anchorGenerators []*AnchorGenerator
	classPredictors  []Predictor
	boxPredictors    []Predictor

	numClasses int // foreground classes + background
	boxDecoder BoxCoder
	clsDecoder ClassDecoder
	target     *TargetGenerator

	nms atomic.Value // NMSConfig
}

// Output is the result of one forward pass. In training mode only the raw
// tensors are set; in inference mode only the decoded triplet is.
type Output struct {
	Mode Mode

	// Training: raw concatenated predictions, anchor-aligned.
	ClassPreds *tensor.Dense // (batch, N, classes+1) logits
	BoxPreds   *tensor.Dense // (batch, N, 4) regression offsets
	Anchors    *tensor.Dense // (1, N, 4) center format

	// Inference: one row per anchor, suppressed rows marked -1.
	IDs    *tensor.Dense // (batch, N)
	Scores *tensor.Dense // (batch, N)
	Boxes  *tensor.Dense // (batch, N, 4) corner format
}

// Detection is one decoded detection row.
type Detection struct {
	Class int
	Score float32
	Box   images.Box
}

// New builds an SSD detector from a backbone, a head factory and a
// configuration.
//
// Construction fails fast on invalid configurations: no layers, malformed
// scale range, mismatched per-layer ratio count, empty ratio lists or a
// non-positive class count. No partially constructed detector is returned.
func New(features FeatureExtractor, heads PredictorFactory, cfg Config) (*SSD, error) {
	if features == nil {
		return nil, errors.New("ssd: feature extractor must not be nil")
	}
	if heads == nil {
		return nil, errors.New("ssd: predictor factory must not be nil")
	}
	numLayers := len(cfg.Steps)
	if numLayers == 0 {
		return nil, errors.New("ssd: at least one layer required, multiple suggested")
	}
	if cfg.BaseSize <= 0 {
		return nil, errors.Errorf("ssd: base size must be positive, got %d", cfg.BaseSize)
	}
	if cfg.Scale[0] <= 0 || cfg.Scale[0] >= cfg.Scale[1] {
		return nil, errors.Errorf("ssd: scale must be an increasing (min, max) pair, got %v", cfg.Scale)
	}
	if cfg.Classes <= 0 {
		return nil, errors.Errorf("ssd: need at least one foreground class, got %d", cfg.Classes)
	}

	ratios := cfg.Ratios
	if len(ratios) == 1 {
		// Same ratio list on every layer.
		broadcast := make([][]float32, numLayers)
		for i := range broadcast {
			broadcast[i] = ratios[0]
		}
		ratios = broadcast
	}
	if len(ratios) != numLayers {
		return nil, errors.Errorf("ssd: mismatched layer counts: %d steps vs %d ratio lists", numLayers, len(ratios))
	}

	sizes := sizeLadder(float32(cfg.BaseSize), cfg.Scale[0], cfg.Scale[1], numLayers)

	stds := cfg.Stds
	if stds == ([4]float32{}) {
		stds = DefaultStds
	}
	boxDecoder, err := NewBoxCoder(stds)
	if err != nil {
		return nil, err
	}
	if cfg.ClipBoxes {
		boxDecoder.Clip = float32(cfg.BaseSize)
	}

	target, err := NewTargetGenerator(TargetConfig{
		IoUThresh:           cfg.IoUThresh,
		NegThresh:           cfg.NegThresh,
		NegativeMiningRatio: cfg.NegativeMiningRatio,
		Stds:                stds,
	})
	if err != nil {
		return nil, err
	}

	n := &SSD{
		features:   features,
		numClasses: cfg.Classes + 1,
		boxDecoder: boxDecoder,
		clsDecoder: ClassDecoder{Thresh: 0.01},
		target:     target,
	}
	n.nms.Store(cfg.NMS)

	alloc := cfg.AnchorAllocSize
	if alloc <= 0 {
		alloc = 128
	}
	for i := 0; i < numLayers; i++ {
		gen, err := NewAnchorGenerator(i, sizes[i][0], sizes[i][1], ratios[i], cfg.Steps[i], alloc)
		if err != nil {
			return nil, err
		}
		// Deeper feature maps are smaller; shrink the reference grid with
		// them, but never below one cell.
		if alloc = alloc / 2; alloc < 1 {
			alloc = 1
		}

		depth := gen.NumDepth()
		clsHead, err := heads(depth * n.numClasses)
		if err != nil {
			return nil, errors.Wrapf(err, "ssd: class head %d", i)
		}
		boxHead, err := heads(depth * 4)
		if err != nil {
			return nil, errors.Wrapf(err, "ssd: box head %d", i)
		}

		n.anchorGenerators = append(n.anchorGenerators, gen)
		n.classPredictors = append(n.classPredictors, clsHead)
		n.boxPredictors = append(n.boxPredictors, boxHead)
	}

	return n, nil
}

// NumLayers returns the number of detection scales.
func (n *SSD) NumLayers() int { return len(n.anchorGenerators) }

// NumClasses returns the number of foreground classes.
func (n *SSD) NumClasses() int { return n.numClasses - 1 }

// TargetGenerator exposes the training target generator wired with this
// detector's thresholds and box coder.
func (n *SSD) TargetGenerator() *TargetGenerator { return n.target }

// SetNMS atomically replaces the suppression configuration without
// rebuilding the network. A threshold outside (0,1) disables NMS.
func (n *SSD) SetNMS(cfg NMSConfig) { n.nms.Store(cfg) }

// NMS returns the current suppression configuration.
func (n *SSD) NMS() NMSConfig { return n.nms.Load().(NMSConfig) }

// Forward runs one synchronous forward pass.
//
// Arguments:
//   - x: Input image tensor of shape (batch, channels, height, width).
//   - mode: ModeTraining or ModeInference.
//
// In training mode the returned Output carries the concatenated raw class
// logits (batch, N, classes+1), box regressions (batch, N, 4) and anchors
// (1, N, 4), positionally aligned so row i of every tensor refers to the
// same anchor. In inference mode predictions are softmaxed, decoded
// against the anchors, suppressed according to the current NMS
// configuration, and returned as (IDs, Scores, Boxes) with suppressed rows
// marked -1.
func (n *SSD) Forward(x *tensor.Dense, mode Mode) (*Output, error) {
	feats, err := n.features.Features(x)
	if err != nil {
		return nil, errors.Wrap(err, "ssd: feature extraction")
	}
	if len(feats) != n.NumLayers() {
		return nil, errors.Errorf("ssd: backbone produced %d feature maps for %d scales", len(feats), n.NumLayers())
	}

	var (
		batch      = -1
		clsRows    [][]float32 // per-scale (batch, cells*depth, classes+1) row data
		boxRows    [][]float32
		anchorRows [][]float32
		totalRows  int
	)

	for i, feat := range feats {
		fs := feat.Shape()
		if len(fs) != 4 {
			return nil, errors.Errorf("ssd: feature map %d must be NCHW, got shape %v", i, fs)
		}
		if batch < 0 {
			batch = fs[0]
		} else if fs[0] != batch {
			return nil, errors.Errorf("ssd: feature map %d batch %d differs from %d", i, fs[0], batch)
		}
		h, w := fs[2], fs[3]
		depth := n.anchorGenerators[i].NumDepth()

		clsFlat, err := n.runHead(n.classPredictors[i], feat, depth*n.numClasses, i, "class")
		if err != nil {
			return nil, err
		}
		boxFlat, err := n.runHead(n.boxPredictors[i], feat, depth*4, i, "box")
		if err != nil {
			return nil, err
		}

		anchors, err := n.anchorGenerators[i].Anchors(h, w)
		if err != nil {
			return nil, err
		}

		clsRows = append(clsRows, clsFlat)
		boxRows = append(boxRows, boxFlat)
		anchorRows = append(anchorRows, anchors.Data().([]float32))
		totalRows += h * w * depth
	}

	clsPreds, boxPreds, anchors := concatScales(batch, totalRows, n.numClasses, clsRows, boxRows, anchorRows)

	if mode == ModeTraining {
		return &Output{
			Mode:       ModeTraining,
			ClassPreds: clsPreds,
			BoxPreds:   boxPreds,
			Anchors:    anchors,
		}, nil
	}

	return n.decode(clsPreds, boxPreds, anchors)
}

// runHead invokes one predictor head and flattens its NCHW output into
// per-anchor rows ordered (batch, h, w, anchor, channel), which is the
// order the anchor generator flattens in.
func (n *SSD) runHead(head Predictor, feat *tensor.Dense, wantChannels, layer int, kind string) ([]float32, error) {
	pred, err := head.Predict(feat)
	if err != nil {
		return nil, errors.Wrapf(err, "ssd: %s head %d", kind, layer)
	}
	ps := pred.Shape()
	fs := feat.Shape()
	if len(ps) != 4 || ps[0] != fs[0] || ps[1] != wantChannels || ps[2] != fs[2] || ps[3] != fs[3] {
		return nil, errors.Errorf("ssd: %s head %d produced shape %v, want (%d, %d, %d, %d)",
			kind, layer, ps, fs[0], wantChannels, fs[2], fs[3])
	}

	batch, channels, h, w := ps[0], ps[1], ps[2], ps[3]
	data := pred.Data().([]float32)
	out := make([]float32, len(data))
	// NCHW -> (batch, h, w, channel): the transpose-then-flatten step that
	// lines prediction rows up with anchor rows.
	oi := 0
	for b := 0; b < batch; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < channels; c++ {
					out[oi] = data[((b*channels+c)*h+y)*w+x]
					oi++
				}
			}
		}
	}
	return out, nil
}

// concatScales stitches per-scale flattened predictions into the global
// per-anchor tensors.
func concatScales(batch, totalRows, numClasses int, clsRows, boxRows, anchorRows [][]float32) (clsPreds, boxPreds, anchors *tensor.Dense) {
	clsData := make([]float32, batch*totalRows*numClasses)
	boxData := make([]float32, batch*totalRows*4)
	anchorData := make([]float32, totalRows*4)

	rowOffset := 0
	for s := range clsRows {
		rows := len(anchorRows[s]) / 4
		for b := 0; b < batch; b++ {
			copy(clsData[(b*totalRows+rowOffset)*numClasses:], clsRows[s][b*rows*numClasses:(b+1)*rows*numClasses])
			copy(boxData[(b*totalRows+rowOffset)*4:], boxRows[s][b*rows*4:(b+1)*rows*4])
		}
		copy(anchorData[rowOffset*4:], anchorRows[s])
		rowOffset += rows
	}

	clsPreds = tensor.New(tensor.WithShape(batch, totalRows, numClasses), tensor.WithBacking(clsData))
	boxPreds = tensor.New(tensor.WithShape(batch, totalRows, 4), tensor.WithBacking(boxData))
	anchors = tensor.New(tensor.WithShape(1, totalRows, 4), tensor.WithBacking(anchorData))
	return clsPreds, boxPreds, anchors
}

// decode turns raw predictions into the inference triplet, applying the
// current NMS configuration.
func (n *SSD) decode(clsPreds, boxPreds, anchors *tensor.Dense) (*Output, error) {
	probs, err := softmaxRows(clsPreds)
	if err != nil {
		return nil, err
	}
	ids, scores, err := n.clsDecoder.Decode(probs)
	if err != nil {
		return nil, err
	}
	boxes, err := n.boxDecoder.Decode(boxPreds, anchors)
	if err != nil {
		return nil, err
	}

	shape := clsPreds.Shape()
	batch, rows := shape[0], shape[1]
	idData := ids.Data().([]float32)
	scoreData := scores.Data().([]float32)
	boxData := boxes.Data().([]float32)

	result := make([]float32, batch*rows*6)
	for r := 0; r < batch*rows; r++ {
		result[r*6] = idData[r]
		result[r*6+1] = scoreData[r]
		copy(result[r*6+2:r*6+6], boxData[r*4:r*4+4])
	}
	resultT := tensor.New(tensor.WithShape(batch, rows, 6), tensor.WithBacking(result))

	if err := BoxNMS(resultT, n.NMS()); err != nil {
		return nil, err
	}

	outIDs := make([]float32, batch*rows)
	outScores := make([]float32, batch*rows)
	outBoxes := make([]float32, batch*rows*4)
	for r := 0; r < batch*rows; r++ {
		outIDs[r] = result[r*6]
		outScores[r] = result[r*6+1]
		copy(outBoxes[r*4:r*4+4], result[r*6+2:r*6+6])
	}

	return &Output{
		Mode:   ModeInference,
		IDs:    tensor.New(tensor.WithShape(batch, rows), tensor.WithBacking(outIDs)),
		Scores: tensor.New(tensor.WithShape(batch, rows), tensor.WithBacking(outScores)),
		Boxes:  tensor.New(tensor.WithShape(batch, rows, 4), tensor.WithBacking(outBoxes)),
	}, nil
}

// Detections extracts the valid rows of an inference Output for one image,
// dropping suppressed rows and rows under scoreThresh.
func (o *Output) Detections(image int, scoreThresh float32) ([]Detection, error) {
	if o.Mode != ModeInference {
		return nil, errors.New("ssd: detections are only available in inference mode")
	}
	shape := o.IDs.Shape()
	if image < 0 || image >= shape[0] {
		return nil, errors.Errorf("ssd: image %d out of range for batch %d", image, shape[0])
	}
	rows := shape[1]
	idData := o.IDs.Data().([]float32)
	scoreData := o.Scores.Data().([]float32)
	boxData := o.Boxes.Data().([]float32)

	var dets []Detection
	for r := image * rows; r < (image+1)*rows; r++ {
		if idData[r] < 0 || scoreData[r] < scoreThresh {
			continue
		}
		dets = append(dets, Detection{
			Class: int(idData[r]),
			Score: scoreData[r],
			Box: images.Box{
				X1: boxData[r*4],
				Y1: boxData[r*4+1],
				X2: boxData[r*4+2],
				Y2: boxData[r*4+3],
			},
		})
	}
	return dets, nil
}
