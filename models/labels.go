// Package models - Label tables for detection model outputs.
package models

import "fmt"

// LabelSet maps model class indices to label strings.
type LabelSet struct {
	// Name identifies the dataset convention.
	Name string
	// Labels is indexed by class id. Unused ids hold "N/A".
	Labels []string
}

// Label returns the label for a class id, or "class_<id>" when out of range.
func (s LabelSet) Label(id int) string {
	if id < 0 || id >= len(s.Labels) {
		return fmt.Sprintf("class_%d", id)
	}
	return s.Labels[id]
}

// Len returns the number of real classes, excluding any no-object class.
func (s LabelSet) Len() int {
	return len(s.Labels)
}

// Index returns the first class id carrying label.
func (s LabelSet) Index(label string) (int, bool) {
	for i, l := range s.Labels {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// COCO91 is the 91-id COCO table used by DETR-family exports. The model adds
// one trailing no-object logit after the last id.
var COCO91 = LabelSet{
	Name: "coco91",
	Labels: []string{
		"N/A", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "N/A", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
		"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "N/A", "backpack", "umbrella", "N/A",
		"N/A", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat",
		"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle", "N/A", "wine glass", "cup", "fork", "knife",
		"spoon", "bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
		"donut", "cake", "chair", "couch", "potted plant", "bed", "N/A", "dining table", "N/A", "N/A",
		"toilet", "N/A", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
		"toaster", "sink", "refrigerator", "N/A", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
		"toothbrush",
	},
}

// COCO80 is the contiguous 80-class table used by YOLO-style exports.
var COCO80 = LabelSet{
	Name: "coco80",
	Labels: []string{
		"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
		"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
		"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
		"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
		"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
		"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
		"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
		"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
	},
}

// Lookup returns a label set by name.
func Lookup(name string) (LabelSet, error) {
	switch name {
	case COCO91.Name, "":
		return COCO91, nil
	case COCO80.Name:
		return COCO80, nil
	default:
		return LabelSet{}, fmt.Errorf("unknown label set: %q", name)
	}
}
