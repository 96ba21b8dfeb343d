package detection

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/metrics"
)

// Engine runs frames through the shared model and applies the confidence policy.
type Engine struct {
	model   *Model
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an engine over model.
//
// Arguments:
//   - model: The shared model handle.
//   - config: InferenceTimeout bounds each Detect.
//   - logger: The logger; nil disables logging.
//   - m: The collectors; nil disables metrics.
//
// Returns:
//   - *Engine: The engine.
func NewEngine(model *Model, config Config, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		model:   model,
		config:  config.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// Detect runs one frame through the model.
//
// The backend is asked for scores above ConfidenceThreshold with pixel boxes;
// the response is coerced, filtered with the same threshold and scanned for a
// person. Result.Frame is left empty.
//
// Arguments:
//   - ctx: The context for the request.
//   - img: The frame pixels.
//
// Returns:
//   - Result: The kept detections and the person flag.
//   - error: A common.KindModelLoad or common.KindInference error.
//
// @example
// res, err := engine.Detect(ctx, frame.Image)
// if res.PersonDetected { brakes.Engage() }
func (e *Engine) Detect(ctx context.Context, img image.Image) (Result, error) {
	backend, err := e.model.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}

	payloads, err := e.infer(ctx, backend, img)
	if err != nil {
		return Result{}, err
	}

	raw, err := Normalize(payloads)
	if err != nil {
		return Result{}, err
	}

	kept := Filter(raw)
	for _, d := range kept {
		e.metrics.RecordDetection(d.Label)
	}
	person := PersonPresent(kept)

	e.logger.Debug("frame analysed",
		zap.Int("raw", len(raw)),
		zap.Int("kept", len(kept)),
		zap.Bool("person_detected", person),
	)

	return Result{PersonDetected: person, Detections: kept}, nil
}

func (e *Engine) infer(ctx context.Context, backend Backend, img image.Image) ([]any, error) {
	const op = "run inference"

	if img == nil {
		return nil, common.InferenceError(op, errors.New("frame is nil"))
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.InferenceTimeout)
	defer cancel()

	select {
	case e.model.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, common.InferenceError(op, errors.Wrap(ctx.Err(), "waiting for model"))
	}

	type inferred struct {
		payloads []any
		err      error
	}
	ch := make(chan inferred, 1)
	opts := Options{Threshold: ConfidenceThreshold, Percentage: false}
	start := time.Now()
	go func() {
		defer func() { <-e.model.slot }()
		p, err := backend.Detect(ctx, img, opts)
		ch <- inferred{payloads: p, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, common.InferenceError(op, r.err)
		}
		return r.payloads, nil
	case <-ctx.Done():
		e.logger.Warn("inference timed out", zap.Duration("elapsed", time.Since(start)))
		return nil, common.InferenceError(op, errors.Wrapf(ctx.Err(), "no response within %s", e.config.InferenceTimeout))
	}
}
