// Package models holds detection label sets for the datasets SSD networks
// are commonly trained on.
package models

import "github.com/pkg/errors"

// ClassSet maps between foreground class indices and human-readable labels.
// Index 0 is the first foreground class; background is not part of the set.
type ClassSet struct {
	// Family identifies the dataset the labels come from.
	Family string
	// Names holds the labels, indexed by class id.
	Names []string

	nameToIdx map[string]int
}

// NewClassSet builds a class set and its name lookup index.
func NewClassSet(family string, names []string) *ClassSet {
	s := &ClassSet{Family: family, Names: names}
	s.nameToIdx = make(map[string]int, len(names))
	for i, n := range names {
		s.nameToIdx[n] = i
	}
	return s
}

// Len returns the number of foreground classes.
func (s *ClassSet) Len() int { return len(s.Names) }

// Name returns the label for a class index.
func (s *ClassSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Names) {
		return "", errors.Errorf("class index %d out of range for %s (%d classes)", idx, s.Family, len(s.Names))
	}
	return s.Names[idx], nil
}

// Index returns the class index for a label.
func (s *ClassSet) Index(name string) (int, error) {
	idx, ok := s.nameToIdx[name]
	if !ok {
		return 0, errors.Errorf("class %q not in %s", name, s.Family)
	}
	return idx, nil
}

// VOC is the 20-class PASCAL VOC label set.
var VOC = NewClassSet("voc", []string{
	"aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat",
	"chair", "cow", "diningtable", "dog", "horse", "motorbike", "person",
	"pottedplant", "sheep", "sofa", "train", "tvmonitor",
})

// COCO is the 80-class MS COCO label set.
var COCO = NewClassSet("coco", []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
})

// ByFamily returns the registered class set for a dataset family name.
func ByFamily(family string) (*ClassSet, error) {
	switch family {
	case "voc":
		return VOC, nil
	case "coco":
		return COCO, nil
	default:
		return nil, errors.Errorf("unknown class family %q", family)
	}
}
