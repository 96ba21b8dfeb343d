// Package detection - Person detection over a single frame.
//
// The package owns the confidence policy: one threshold is sent to the
// backend, used to filter what comes back and used to decide whether a person
// is present.
package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"

	"github.com/nvr-ai/forklift-safety/common"
)

// ConfidenceThreshold is the score a detection must strictly exceed to be kept.
const ConfidenceThreshold = 0.4

// PersonLabel is the label that triggers the brakes.
const PersonLabel = "person"

// Verdict strings for the presentation layer.
const (
	VerdictPerson = "Person Detected - Automatic Brake Activated"
	VerdictSafe   = "No Person Detected - Safe to Operate"
)

// RawDetection is one model output after coercion and before filtering.
type RawDetection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   common.Box `json:"box"`
}

// Detection is a RawDetection that passed the confidence filter.
// Score > ConfidenceThreshold and its box is never inverted.
type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   common.Box `json:"box"`
}

// Caption returns the overlay label, e.g. "person 87%".
func (d Detection) Caption() string {
	return fmt.Sprintf("%s %d%%", d.Label, int(math.Round(d.Score*100)))
}

// Result is the outcome of analysing one frame.
type Result struct {
	// PersonDetected is true iff Detections contains a "person".
	PersonDetected bool `json:"personDetected"`
	// Detections holds the kept detections in model order.
	Detections []Detection `json:"detections"`
	// Frame is the analysed frame as a data URL; empty when not attached.
	Frame string `json:"frame,omitempty"`
}

// MarshalJSON encodes a nil Detections slice as [].
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	if r.Detections == nil {
		r.Detections = []Detection{}
	}
	return json.Marshal(plain(r))
}

// Verdict returns the human-readable outcome.
func (r Result) Verdict() string {
	if r.PersonDetected {
		return VerdictPerson
	}
	return VerdictSafe
}

// Options is the request sent to a backend with every frame.
type Options struct {
	// Threshold is the minimum score the backend should report.
	Threshold float64 `json:"threshold"`
	// Percentage requests boxes as fractions of the frame instead of pixels.
	Percentage bool `json:"percentage"`
}

// Backend is a loaded object-detection model.
//
// Detect returns loosely typed payloads, normally map[string]any objects with
// "label", "score" and "box" keys, which are coerced by this package. Detect
// is never called concurrently.
type Backend interface {
	Detect(ctx context.Context, img image.Image, opts Options) ([]any, error)
	Close() error
}

// Loader initializes a Backend. It runs at most once at a time.
type Loader func(ctx context.Context) (Backend, error)
