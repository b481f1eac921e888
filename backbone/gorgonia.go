package backbone

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/ssd"
)

// ConvPyramid is a small convolutional feature extractor built on gorgonia
// expression graphs. Each stage is a 3x3 pad-1 convolution, ReLU and 2x2
// max-pool, and every stage's pooled output is exposed as one detection
// scale, so stage i halves the spatial resolution of stage i-1.
//
// It exists to exercise the ssd.FeatureExtractor contract without an
// external model; it is not a trained backbone.
type ConvPyramid struct {
	inChannels int
	weights    []*tensor.Dense
}

// NewConvPyramid builds a pyramid taking inChannels input planes and
// producing one feature map per entry of channels. Weights are randomly
// initialized from seed.
func NewConvPyramid(inChannels int, channels []int, seed int64) (*ConvPyramid, error) {
	if inChannels <= 0 {
		return nil, errors.Errorf("conv pyramid: input channels must be positive, got %d", inChannels)
	}
	if len(channels) == 0 {
		return nil, errors.New("conv pyramid: at least one stage required")
	}

	rng := rand.New(rand.NewSource(seed))
	p := &ConvPyramid{inChannels: inChannels}
	prev := inChannels
	for i, c := range channels {
		if c <= 0 {
			return nil, errors.Errorf("conv pyramid: stage %d channels must be positive, got %d", i, c)
		}
		p.weights = append(p.weights, randomKernel(rng, c, prev, 3))
		prev = c
	}
	return p, nil
}

// Features runs the pyramid on a (batch, channels, H, W) input and returns
// one NCHW feature map per stage, shallowest first.
func (p *ConvPyramid) Features(x *tensor.Dense) ([]*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) != 4 || xs[1] != p.inChannels {
		return nil, errors.Errorf("conv pyramid: want input of shape (B, %d, H, W), got %v", p.inChannels, xs)
	}

	g := G.NewGraph()
	cur := G.NodeFromAny(g, x, G.WithName("input"))
	var taps []*G.Node

	for i, w := range p.weights {
		wn := G.NodeFromAny(g, w, G.WithName(fmt.Sprintf("stage%d_w", i)))
		conv, err := G.Conv2d(cur, wn, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
		if err != nil {
			return nil, errors.Wrapf(err, "conv pyramid: stage %d conv", i)
		}
		act, err := G.Rectify(conv)
		if err != nil {
			return nil, errors.Wrapf(err, "conv pyramid: stage %d relu", i)
		}
		pooled, err := G.MaxPool2D(act, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
		if err != nil {
			return nil, errors.Wrapf(err, "conv pyramid: stage %d pool", i)
		}
		cur = pooled
		taps = append(taps, pooled)
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "conv pyramid: run")
	}

	feats := make([]*tensor.Dense, len(taps))
	for i, node := range taps {
		val, ok := node.Value().(*tensor.Dense)
		if !ok {
			return nil, errors.Errorf("conv pyramid: stage %d produced %T, want *tensor.Dense", i, node.Value())
		}
		// Detach from the graph: the tape machine reuses buffers between
		// runs.
		feats[i] = val.Clone().(*tensor.Dense)
	}
	return feats, nil
}

// ConvPredictor is a single 3x3 pad-1 convolution head, the standard SSD
// predictor shape: it keeps the spatial grid of its input and emits a
// configured number of output channels per cell.
//
// The kernel is lazily created on first use, once the input channel count
// is known, and reused for subsequent calls with the same channel count.
type ConvPredictor struct {
	outputs int
	seed    int64

	mu     sync.Mutex
	inCh   int
	weight *tensor.Dense
}

// NewConvPredictor builds a head with the given output channel count.
func NewConvPredictor(outputs int, seed int64) (*ConvPredictor, error) {
	if outputs <= 0 {
		return nil, errors.Errorf("conv predictor: output channels must be positive, got %d", outputs)
	}
	return &ConvPredictor{outputs: outputs, seed: seed}, nil
}

// Outputs returns the head's output channel count.
func (p *ConvPredictor) Outputs() int { return p.outputs }

// Predict maps a (batch, C, H, W) feature map to (batch, outputs, H, W).
func (p *ConvPredictor) Predict(feat *tensor.Dense) (*tensor.Dense, error) {
	fs := feat.Shape()
	if len(fs) != 4 {
		return nil, errors.Errorf("conv predictor: want NCHW input, got shape %v", fs)
	}

	p.mu.Lock()
	if p.weight == nil {
		p.inCh = fs[1]
		p.weight = randomKernel(rand.New(rand.NewSource(p.seed)), p.outputs, p.inCh, 3)
	}
	weight := p.weight
	inCh := p.inCh
	p.mu.Unlock()

	if fs[1] != inCh {
		return nil, errors.Errorf("conv predictor: input channels changed from %d to %d", inCh, fs[1])
	}

	g := G.NewGraph()
	in := G.NodeFromAny(g, feat, G.WithName("feat"))
	wn := G.NodeFromAny(g, weight, G.WithName("weight"))
	conv, err := G.Conv2d(in, wn, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "conv predictor")
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "conv predictor: run")
	}

	val, ok := conv.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("conv predictor: produced %T, want *tensor.Dense", conv.Value())
	}
	return val.Clone().(*tensor.Dense), nil
}

// ConvHeads returns an ssd.PredictorFactory producing ConvPredictors with
// per-head derived seeds.
func ConvHeads(seed int64) ssd.PredictorFactory {
	var next int64
	return func(channels int) (ssd.Predictor, error) {
		next++
		head, err := NewConvPredictor(channels, seed+next)
		if err != nil {
			return nil, err
		}
		return head, nil
	}
}
