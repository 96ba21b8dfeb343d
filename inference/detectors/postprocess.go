package detectors

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/models"
)

// DecodeDETR turns DETR logits and boxes into detection payloads.
//
// Each query's logits are softmaxed over all classes. Queries whose best class
// is the trailing no-object class are dropped, as are queries whose score does
// not exceed opts.Threshold. Boxes arrive as normalized (cx, cy, w, h) and are
// converted to corners, scaled to pixels unless opts.Percentage is set.
// Output keeps query order.
//
// Arguments:
//   - logits: Flattened [queries, classes] logits, classes including no-object.
//   - boxes: Flattened [queries, 4] boxes.
//   - queries: The number of object queries.
//   - classes: The number of logits per query.
//   - labels: The class id to label table.
//   - width: The frame width used for pixel scaling.
//   - height: The frame height used for pixel scaling.
//   - opts: The request options.
//
// Returns:
//   - []any: map[string]any payloads with label, score and box keys.
func DecodeDETR(
	logits, boxes []float32,
	queries, classes int,
	labels models.LabelSet,
	width, height int,
	opts detection.Options,
) []any {
	if queries <= 0 || classes < 2 || len(logits) < queries*classes || len(boxes) < queries*4 {
		return []any{}
	}

	noObject := classes - 1
	out := make([]any, 0, queries)
	probs := make([]float32, classes)

	for q := 0; q < queries; q++ {
		softmax(logits[q*classes:(q+1)*classes], probs)

		best := 0
		for c := 1; c < classes; c++ {
			if probs[c] > probs[best] {
				best = c
			}
		}
		if best == noObject {
			continue
		}
		score := float64(probs[best])
		if !(score > opts.Threshold) {
			continue
		}

		b := boxes[q*4 : q*4+4]
		cx, cy, w, h := b[0], b[1], b[2], b[3]
		xmin, ymin := cx-w/2, cy-h/2
		xmax, ymax := cx+w/2, cy+h/2
		if !opts.Percentage {
			fw, fh := float32(width), float32(height)
			xmin, xmax = xmin*fw, xmax*fw
			ymin, ymax = ymin*fh, ymax*fh
		}

		out = append(out, map[string]any{
			"label": labels.Label(best),
			"score": score,
			"box": map[string]any{
				"xmin": float64(xmin),
				"ymin": float64(ymin),
				"xmax": float64(xmax),
				"ymax": float64(ymax),
			},
		})
	}
	return out
}

// softmax writes the softmax of in into out.
func softmax(in, out []float32) {
	maxLogit := in[0]
	for _, v := range in[1:] {
		maxLogit = math32.Max(maxLogit, v)
	}
	var sum float32
	for i, v := range in {
		out[i] = math32.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
