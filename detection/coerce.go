package detection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nvr-ai/forklift-safety/common"
)

// Coerce converts one backend payload into a RawDetection.
//
// Missing fields default to zero values: label "", score 0, coordinates 0.
// Numbers may be any Go numeric type, json.Number or a numeric string.
//
// Arguments:
//   - payload: A map[string]any object or a RawDetection.
//
// Returns:
//   - RawDetection: The coerced detection.
//   - error: An error when the payload is not an object.
//
// @example
// raw, err := detection.Coerce(map[string]any{"label": "person", "score": 0.9})
// fmt.Println(raw.Box) // (0.0, 0.0)-(0.0, 0.0)
func Coerce(payload any) (RawDetection, error) {
	switch p := payload.(type) {
	case RawDetection:
		return p, nil
	case *RawDetection:
		if p == nil {
			return RawDetection{}, fmt.Errorf("payload is a nil detection")
		}
		return *p, nil
	case map[string]any:
		return RawDetection{
			Label: label(p["label"]),
			Score: number(p["score"]),
			Box:   box(p["box"]),
		}, nil
	default:
		return RawDetection{}, fmt.Errorf("payload is %T, not an object", payload)
	}
}

// Normalize coerces every payload, failing on the first contract violation.
//
// Returns:
//   - []RawDetection: The coerced detections in payload order.
//   - error: A common.KindInference error naming the offending index.
func Normalize(payloads []any) ([]RawDetection, error) {
	raw := make([]RawDetection, 0, len(payloads))
	for i, p := range payloads {
		d, err := Coerce(p)
		if err != nil {
			return nil, common.InferenceError("normalize detections", fmt.Errorf("detection %d: %w", i, err))
		}
		raw = append(raw, d)
	}
	return raw, nil
}

// Filter keeps detections whose score exceeds ConfidenceThreshold.
//
// Order is preserved and nothing is merged or suppressed. Inverted boxes are
// clamped to zero size. The returned slice is never nil.
func Filter(raw []RawDetection) []Detection {
	kept := make([]Detection, 0, len(raw))
	for _, r := range raw {
		if !(r.Score > ConfidenceThreshold) {
			continue
		}
		kept = append(kept, Detection{Label: r.Label, Score: r.Score, Box: r.Box.Clamped()})
	}
	return kept
}

// PersonPresent reports whether any detection is a person above the threshold.
func PersonPresent(detections []Detection) bool {
	for _, d := range detections {
		if d.Label == PersonLabel && d.Score > ConfidenceThreshold {
			return true
		}
	}
	return false
}

func label(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func box(v any) common.Box {
	var m map[string]any
	switch b := v.(type) {
	case map[string]any:
		m = b
	case map[string]float64:
		m = make(map[string]any, len(b))
		for k, f := range b {
			m[k] = f
		}
	case common.Box:
		return b
	default:
		return common.Box{}
	}
	return common.Box{
		XMin: number(m["xmin"]),
		YMin: number(m["ymin"]),
		XMax: number(m["xmax"]),
		YMax: number(m["ymax"]),
	}
}

// number converts v to a finite float64, or 0.
func number(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		f, _ = n.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
