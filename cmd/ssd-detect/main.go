// Command ssd-detect runs single-shot detection on an image file, or on
// every frame image in a directory, and prints the surviving detections.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-ssd/backbone"
	"github.com/nvr-ai/go-ssd/images"
	"github.com/nvr-ai/go-ssd/models"
	"github.com/nvr-ai/go-ssd/ssd"
	"github.com/nvr-ai/go-ssd/util"
)

// baseSize is the square resolution frames are resized to before detection.
const baseSize = 256

func main() {
	var (
		imagePath    string
		dirPath      string
		labels       string
		scoreMin     float64
		nmsThresh    float64
		seed         int64
		onnxModel    string
		onnxLib      string
		onnxInput    string
		onnxOutputs  string
		onnxChannels string
	)
	flag.StringVar(&imagePath, "image", "", "Path to image file (.jpg, .jpeg, .png)")
	flag.StringVar(&dirPath, "dir", "", "Path to a directory of frame images")
	flag.StringVar(&labels, "labels", "voc", "Label set: voc or coco")
	flag.Float64Var(&scoreMin, "score", 0.25, "Minimum detection score to print")
	flag.Float64Var(&nmsThresh, "nms", 0.45, "NMS IoU threshold; outside (0,1) disables suppression")
	flag.Int64Var(&seed, "seed", 42, "Weight initialization seed")
	flag.StringVar(&onnxModel, "onnx-model", "", "Optional ONNX backbone model path; the random conv pyramid is used when empty")
	flag.StringVar(&onnxLib, "onnx-lib", "", "ONNX Runtime shared library path override")
	flag.StringVar(&onnxInput, "onnx-input", "images", "ONNX model input name")
	flag.StringVar(&onnxOutputs, "onnx-outputs", "feat0,feat1,feat2", "Comma-separated ONNX feature map output names, shallowest first")
	flag.StringVar(&onnxChannels, "onnx-channels", "16,32,64", "Comma-separated channel counts of the ONNX feature maps")
	flag.Parse()

	if (imagePath == "") == (dirPath == "") {
		flag.Usage()
		log.Fatal("exactly one of -image or -dir is required")
	}

	classSet, err := models.ByFamily(labels)
	if err != nil {
		log.Fatalf("Error resolving label set: %v", err)
	}

	features, err := buildFeatures(onnxModel, onnxLib, onnxInput, onnxOutputs, onnxChannels, seed)
	if err != nil {
		log.Fatalf("Error building backbone: %v", err)
	}

	net, err := ssd.New(features, backbone.ConvHeads(seed), ssd.Config{
		BaseSize:            baseSize,
		Scale:               [2]float32{0.1, 0.95},
		Ratios:              [][]float32{{1, 2, 0.5}},
		Steps:               []float32{2, 4, 8},
		Classes:             classSet.Len(),
		IoUThresh:           0.5,
		NegThresh:           0.5,
		NegativeMiningRatio: 3,
		NMS:                 ssd.NMSConfig{Thresh: float32(nmsThresh), TopK: 400},
		ClipBoxes:           true,
	})
	if err != nil {
		log.Fatalf("Error building detector: %v", err)
	}

	if dirPath != "" {
		frames, err := util.LoadDirectoryImageFiles(dirPath)
		if err != nil {
			log.Fatalf("Error loading frames: %v", err)
		}
		fmt.Printf("Processing %d frames from %s\n", len(frames), dirPath)
		for _, frame := range frames {
			processFrame(net, classSet, frame.Path, frame.Data, float32(scoreMin))
		}
		return
	}

	raw, err := os.ReadFile(imagePath)
	if err != nil {
		log.Fatalf("Error reading image: %v", err)
	}
	processFrame(net, classSet, imagePath, raw, float32(scoreMin))
}

// buildFeatures picks the backbone: an ONNX session when a model path is
// given, otherwise a random conv pyramid. Both emit three feature maps at
// strides 2, 4 and 8.
func buildFeatures(model, lib, input, outputs, channels string, seed int64) (ssd.FeatureExtractor, error) {
	if model == "" {
		// A small untrained pyramid: stage i halves the grid, so steps double.
		pyramid, err := backbone.NewConvPyramid(3, []int{16, 32, 64}, seed)
		if err != nil {
			return nil, err
		}
		return pyramid, nil
	}

	names := strings.Split(outputs, ",")
	var shapes [][]int64
	for i, c := range strings.Split(channels, ",") {
		ch, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("invalid -onnx-channels entry %q: %w", c, err)
		}
		side := int64(baseSize >> (i + 1))
		shapes = append(shapes, []int64{1, int64(ch), side, side})
	}

	features, err := backbone.NewONNXFeatures(backbone.ONNXConfig{
		ModelPath:    model,
		LibraryPath:  lib,
		InputName:    input,
		InputShape:   []int64{1, 3, baseSize, baseSize},
		OutputNames:  names,
		OutputShapes: shapes,
	})
	if err != nil {
		return nil, err
	}
	return features, nil
}

// processFrame runs one inference pass over raw image bytes and prints the
// detections.
func processFrame(net *ssd.SSD, classSet *models.ClassSet, path string, raw []byte, scoreMin float32) {
	input, err := images.DecodeToCHWTensor(raw, baseSize, baseSize)
	if err != nil {
		log.Fatalf("Error decoding %s: %v", path, err)
	}

	out, err := net.Forward(input, ssd.ModeInference)
	if err != nil {
		log.Fatalf("Error running detection on %s: %v", path, err)
	}
	dets, err := out.Detections(0, scoreMin)
	if err != nil {
		log.Fatalf("Error extracting detections: %v", err)
	}

	fmt.Printf("%s: %d detections\n", path, len(dets))
	for i, d := range dets {
		name, err := classSet.Name(d.Class)
		if err != nil {
			name = fmt.Sprintf("class-%d", d.Class)
		}
		fmt.Printf("  %d: %s (confidence: %.2f) at [%.1f, %.1f, %.1f, %.1f]\n",
			i+1, name, d.Score, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
}
