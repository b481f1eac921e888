package backbone

import (
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ONNXConfig describes an ONNX model whose outputs are the detector's
// feature maps, one output per scale, shallowest first.
type ONNXConfig struct {
	// ModelPath is the .onnx file to load.
	ModelPath string
	// LibraryPath overrides the ONNX Runtime shared library location; the
	// platform default is used when empty.
	LibraryPath string
	// InputName is the model's image input.
	InputName string
	// InputShape is the fixed NCHW input shape.
	InputShape []int64
	// OutputNames are the feature-map outputs, index-aligned with
	// OutputShapes.
	OutputNames []string
	// OutputShapes are the fixed NCHW shapes of each feature map.
	OutputShapes [][]int64
}

// ONNXFeatures adapts an ONNX Runtime session to the ssd.FeatureExtractor
// contract. Input and output tensors are allocated once at session
// creation, so each Features call only copies data in and out.
type ONNXFeatures struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	shapes  [][]int64
}

// NewONNXFeatures initializes the ONNX Runtime environment if needed and
// opens a session for the configured model.
func NewONNXFeatures(cfg ONNXConfig) (*ONNXFeatures, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx features: model path required")
	}
	if len(cfg.InputShape) != 4 {
		return nil, errors.Errorf("onnx features: want an NCHW input shape, got %v", cfg.InputShape)
	}
	if len(cfg.OutputNames) == 0 || len(cfg.OutputNames) != len(cfg.OutputShapes) {
		return nil, errors.Errorf("onnx features: %d output names vs %d shapes", len(cfg.OutputNames), len(cfg.OutputShapes))
	}

	if !ort.IsInitialized() {
		lib := cfg.LibraryPath
		if lib == "" {
			lib = defaultSharedLibPath()
		}
		ort.SetSharedLibraryPath(lib)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "onnx features: initializing runtime")
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "onnx features: input tensor")
	}

	outputs := make([]*ort.Tensor[float32], len(cfg.OutputNames))
	destroyAll := func() {
		input.Destroy()
		for _, t := range outputs {
			if t != nil {
				t.Destroy()
			}
		}
	}
	for i, shape := range cfg.OutputShapes {
		if len(shape) != 4 {
			destroyAll()
			return nil, errors.Errorf("onnx features: output %d must be NCHW, got %v", i, shape)
		}
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			destroyAll()
			return nil, errors.Wrapf(err, "onnx features: output tensor %d", i)
		}
		outputs[i] = t
	}

	inputTensors := []ort.ArbitraryTensor{input}
	outputTensors := make([]ort.ArbitraryTensor, len(outputs))
	for i, t := range outputs {
		outputTensors[i] = t
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		inputTensors,
		outputTensors,
		nil,
	)
	if err != nil {
		destroyAll()
		return nil, errors.Wrap(err, "onnx features: creating session")
	}

	return &ONNXFeatures{
		session: session,
		input:   input,
		outputs: outputs,
		shapes:  cfg.OutputShapes,
	}, nil
}

// Features copies x into the session input, runs the model and wraps each
// output in a freshly backed tensor.Dense.
func (f *ONNXFeatures) Features(x *tensor.Dense) ([]*tensor.Dense, error) {
	in := f.input.GetData()
	data, ok := x.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("onnx features: want float32 input, got %T", x.Data())
	}
	if len(data) != len(in) {
		return nil, errors.Errorf("onnx features: input has %d values, session expects %d", len(data), len(in))
	}
	copy(in, data)

	if err := f.session.Run(); err != nil {
		return nil, errors.Wrap(err, "onnx features: run")
	}

	feats := make([]*tensor.Dense, len(f.outputs))
	for i, out := range f.outputs {
		shape := make([]int, len(f.shapes[i]))
		for d, v := range f.shapes[i] {
			shape[d] = int(v)
		}
		backing := make([]float32, len(out.GetData()))
		copy(backing, out.GetData())
		feats[i] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}
	return feats, nil
}

// Close destroys the session and its tensors.
func (f *ONNXFeatures) Close() {
	if f.session != nil {
		f.session.Destroy()
		f.session = nil
	}
	if f.input != nil {
		f.input.Destroy()
		f.input = nil
	}
	for _, t := range f.outputs {
		t.Destroy()
	}
	f.outputs = nil
}

// defaultSharedLibPath returns the ONNX Runtime library path for the
// current platform, relative to the working directory's third_party tree.
func defaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.dylib"
		}
		return "third_party/onnxruntime_amd64.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}
