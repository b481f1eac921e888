// Command ssd-webcam runs single-shot detection on live camera frames and
// draws the surviving boxes. Detection is gated on motion: frames without a
// large enough moving region skip the network entirely.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-ssd/backbone"
	"github.com/nvr-ai/go-ssd/images"
	"github.com/nvr-ai/go-ssd/models"
	"github.com/nvr-ai/go-ssd/profiler"
	"github.com/nvr-ai/go-ssd/ssd"
)

const (
	baseSize = 256
	// minMotionArea is the contour area below which a frame is considered
	// still.
	minMotionArea = 3000
)

func main() {
	var (
		deviceID   int
		labels     string
		scoreMin   float64
		nmsThresh  float64
		seed       int64
		resolution string
		alwaysRun  bool
	)
	flag.IntVar(&deviceID, "device", 0, "Video capture device ID")
	flag.StringVar(&labels, "labels", "voc", "Label set: voc or coco")
	flag.Float64Var(&scoreMin, "score", 0.25, "Minimum detection score to draw")
	flag.Float64Var(&nmsThresh, "nms", 0.45, "NMS IoU threshold; outside (0,1) disables suppression")
	flag.Int64Var(&seed, "seed", 42, "Weight initialization seed")
	flag.StringVar(&resolution, "resolution", "", `Capture resolution name (e.g. "HD 720p")`)
	flag.BoolVar(&alwaysRun, "always-run", false, "Run detection on every frame, not just on motion")
	flag.Parse()

	classSet, err := models.ByFamily(labels)
	if err != nil {
		log.Fatalf("Error resolving label set: %v", err)
	}

	pyramid, err := backbone.NewConvPyramid(3, []int{16, 32, 64}, seed)
	if err != nil {
		log.Fatalf("Error building backbone: %v", err)
	}
	net, err := ssd.New(pyramid, backbone.ConvHeads(seed), ssd.Config{
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

	// open webcam
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer webcam.Close()

	if resolution != "" {
		res, ok := images.GetResolutionByType(images.ResolutionType(resolution))
		if !ok {
			log.Fatalf("Unknown resolution %q", resolution)
		}
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(res.Pixels.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(res.Pixels.Height))
		fmt.Printf("capture resolution: %s\n", res)
	}

	// open display window
	window := gocv.NewWindow("SSD Detect")
	defer window.Close()

	// prepare image matrix
	img := gocv.NewMat()
	defer img.Close()

	segmenter := images.NewMotionSegmenter()
	defer segmenter.Close()

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
		ReportInterval: 5 * time.Second,
	})
	prof.Start()
	defer prof.Stop()

	// color for the rect when objects detected
	blue := color.RGBA{0, 0, 255, 0}

	// FPS tracking variables
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	fmt.Printf("start reading camera device: %v\n", deviceID)
	for {
		if ok := webcam.Read(&img); !ok {
			fmt.Printf("cannot read device %v\n", deviceID)
			return
		}
		if img.Empty() {
			continue
		}

		// Update FPS calculation
		frameCount++
		currentTime := time.Now()
		elapsed := currentTime.Sub(lastTime).Seconds()

		// Calculate FPS every second
		if elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = currentTime
		}

		contours := segmenter.SegmentMotion(img)
		moving := segmenter.DetectMotion(contours, minMotionArea)
		contours.Close()

		if !moving && !alwaysRun {
			window.IMShow(img)
			window.WaitKey(1)
			continue
		}

		dets, err := detect(net, prof, img, float32(scoreMin))
		if err != nil {
			fmt.Printf("detection failed: %v\n", err)
			continue
		}
		prof.RecordMetric("detections", float64(len(dets)))

		fmt.Printf("found %d objects | FPS: %.2f\n", len(dets), fps)

		// Scale detector coordinates back to the frame resolution.
		sx := float32(img.Cols()) / baseSize
		sy := float32(img.Rows()) / baseSize
		for _, d := range dets {
			rect := images.RectFromBox(d.Box, sx, sy).ToImage()
			gocv.Rectangle(&img, rect, blue, 2)

			name, err := classSet.Name(d.Class)
			if err != nil {
				name = fmt.Sprintf("class-%d", d.Class)
			}
			label := fmt.Sprintf("%s %.2f", name, d.Score)
			gocv.PutText(&img, label, rect.Min, gocv.FontHersheyPlain, 1.2, blue, 2)
		}

		// show the image in the window, and wait 1 millisecond
		window.IMShow(img)
		window.WaitKey(1)
	}
}

// detect tensorizes one frame and runs an inference pass, timing both steps.
func detect(net *ssd.SSD, prof *profiler.RuntimeProfiler, img gocv.Mat, scoreMin float32) ([]ssd.Detection, error) {
	stopTensorize := prof.StartOperation("tensorize")
	frame, err := img.ToImage()
	if err != nil {
		stopTensorize()
		return nil, err
	}
	input, err := images.ToCHWTensor(frame, baseSize, baseSize)
	stopTensorize()
	if err != nil {
		return nil, err
	}

	stopForward := prof.StartOperation("forward")
	out, err := net.Forward(input, ssd.ModeInference)
	stopForward()
	if err != nil {
		return nil, err
	}
	return out.Detections(0, scoreMin)
}
