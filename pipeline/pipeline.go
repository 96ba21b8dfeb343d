// Package pipeline - End-to-end first-frame safety analysis.
package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/frames"
	"github.com/nvr-ai/forklift-safety/images"
	"github.com/nvr-ai/forklift-safety/metrics"
	"github.com/nvr-ai/forklift-safety/render/raster"
)

// FrameExtractor produces the first frame of a video.
type FrameExtractor interface {
	ExtractFirstFrame(ctx context.Context, path string) (*frames.Frame, error)
}

// Detector analyses one frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (detection.Result, error)
}

// Renderer draws the overlay for a frame and returns it as JPEG.
type Renderer func(base image.Image, detections []detection.Detection, personDetected bool) ([]byte, error)

// RasterRenderer renders with the pure-Go rasterizer.
func RasterRenderer(base image.Image, detections []detection.Detection, personDetected bool) ([]byte, error) {
	out, err := images.Encode(raster.Annotate(base, detections, personDetected), images.FormatJPEG, 0)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Pipeline runs extraction then detection for one video at a time per call.
type Pipeline struct {
	Extractor FrameExtractor
	Detector  Detector
	// Renderer draws Visualize output; nil uses RasterRenderer.
	Renderer Renderer

	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	closers []func() error
}

// New creates a pipeline.
//
// Arguments:
//   - extractor: The frame source.
//   - detector: The frame analyser.
//   - logger: The logger; nil disables logging.
//   - m: The collectors; nil disables metrics.
//
// Returns:
//   - *Pipeline: The pipeline.
func New(extractor FrameExtractor, detector Detector, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Extractor: extractor,
		Detector:  detector,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("pipeline"),
	}
}

// AnalyzeVideo extracts the first frame of the video at path, runs detection
// on it and attaches the encoded frame to the result.
//
// Once started the analysis runs to completion or to a stage timeout;
// cancelling ctx does not interrupt it. Errors from either stage are returned
// unchanged, so common.KindOf tells the caller which stage failed.
//
// Arguments:
//   - ctx: Carries trace and request values.
//   - path: The video file.
//
// Returns:
//   - *detection.Result: The detections, person flag and frame data URL.
//   - error: A common.KindDecode, KindTimeout, KindModelLoad or KindInference error.
//
// @example
// res, err := p.AnalyzeVideo(ctx, "/tmp/upload.mp4")
// if err == nil && res.PersonDetected { fmt.Println(res.Verdict()) }
func (p *Pipeline) AnalyzeVideo(ctx context.Context, path string) (*detection.Result, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "Pipeline.AnalyzeVideo",
		trace.WithAttributes(attribute.String("video.path", path)))
	defer span.End()

	start := time.Now()

	frame, err := p.extract(ctx, path)
	if err != nil {
		return nil, p.fail(span, path, err)
	}

	result, err := p.detect(ctx, frame.Image)
	if err != nil {
		return nil, p.fail(span, path, err)
	}
	result.Frame = frame.DataURL()

	span.SetAttributes(
		attribute.Bool("person_detected", result.PersonDetected),
		attribute.Int("detections", len(result.Detections)),
	)
	span.SetStatus(codes.Ok, "")
	p.metrics.RecordAnalysis("ok", result.PersonDetected)

	p.logger.Info("video analysed",
		zap.String("path", path),
		zap.Int("width", frame.Width()),
		zap.Int("height", frame.Height()),
		zap.Int("detections", len(result.Detections)),
		zap.Bool("person_detected", result.PersonDetected),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &result, nil
}

func (p *Pipeline) extract(ctx context.Context, path string) (*frames.Frame, error) {
	ctx, span := p.tracer.Start(ctx, "extract_first_frame")
	defer span.End()

	start := time.Now()
	frame, err := p.Extractor.ExtractFirstFrame(ctx, path)
	p.metrics.ObserveStage(metrics.StageExtract, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("frame.width", frame.Width()), attribute.Int("frame.height", frame.Height()))
	return frame, nil
}

func (p *Pipeline) detect(ctx context.Context, img image.Image) (detection.Result, error) {
	ctx, span := p.tracer.Start(ctx, "detect")
	defer span.End()

	start := time.Now()
	result, err := p.Detector.Detect(ctx, img)
	p.metrics.ObserveStage(metrics.StageDetect, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return detection.Result{}, err
	}
	return result, nil
}

func (p *Pipeline) fail(span trace.Span, path string, err error) error {
	kind := common.KindOf(err)
	outcome := string(kind)
	if outcome == "" {
		outcome = "error"
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	p.metrics.RecordAnalysis(outcome, false)
	p.logger.Warn("video analysis failed",
		zap.String("path", path),
		zap.String("kind", outcome),
		zap.Error(err),
	)
	return err
}

// Visualize draws the result's detections and alert onto its frame.
//
// Arguments:
//   - result: A result from AnalyzeVideo with Frame set.
//
// Returns:
//   - []byte: The annotated frame as JPEG.
//   - error: An error if the result carries no decodable frame.
func (p *Pipeline) Visualize(result *detection.Result) ([]byte, error) {
	if result == nil || result.Frame == "" {
		return nil, errors.New("result has no frame")
	}
	start := time.Now()

	encoded, err := images.ParseDataURL(result.Frame)
	if err != nil {
		return nil, errors.Wrap(err, "parse result frame")
	}
	base, err := encoded.Decode()
	if err != nil {
		return nil, err
	}

	renderer := p.Renderer
	if renderer == nil {
		renderer = RasterRenderer
	}
	out, err := renderer(base, result.Detections, result.PersonDetected)
	if err != nil {
		return nil, errors.Wrap(err, "render overlay")
	}
	p.metrics.ObserveStage(metrics.StageRender, time.Since(start))
	return out, nil
}

// OnClose registers a teardown hook run by Close in reverse order.
func (p *Pipeline) OnClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

// Close runs the teardown hooks and returns the first error.
func (p *Pipeline) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
