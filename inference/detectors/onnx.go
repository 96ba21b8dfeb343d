// Package detectors - ONNX model inference.
package detectors

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/inference"
	"github.com/nvr-ai/forklift-safety/inference/providers"
	"github.com/nvr-ai/forklift-safety/models"
)

// Config describes a DETR-style ONNX export.
type Config struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath is the onnxruntime shared library; empty uses the platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputSize is the square model input edge in pixels.
	InputSize int `json:"input_size" yaml:"input_size"`
	// Queries is the number of object queries the model emits.
	Queries int `json:"queries" yaml:"queries"`
	// Labels names the class table, e.g. "coco91".
	Labels string `json:"labels" yaml:"labels"`
	// InputName, MaskName, LogitsName and BoxesName are the graph tensor names.
	// MaskName may be empty for exports without a pixel mask.
	InputName  string `json:"input_name" yaml:"input_name"`
	MaskName   string `json:"mask_name" yaml:"mask_name"`
	LogitsName string `json:"logits_name" yaml:"logits_name"`
	BoxesName  string `json:"boxes_name" yaml:"boxes_name"`
	// Provider selects the execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// DefaultConfig returns the layout of a detr-resnet-50 export.
//
// Returns:
//   - Config: 800x800 input, 100 queries, COCO-91 labels, CPU provider.
//
// @example
// config := DefaultConfig()
// config.ModelPath = "models/detr-resnet-50.onnx"
// backend, err := NewONNXBackend(config, logger)
func DefaultConfig() Config {
	return Config{
		InputSize:  800,
		Queries:    100,
		Labels:     models.COCO91.Name,
		InputName:  "pixel_values",
		MaskName:   "pixel_mask",
		LogitsName: "logits",
		BoxesName:  "pred_boxes",
		Provider:   providers.DefaultConfig(),
	}
}

// ONNXBackend runs a DETR export in-process. It implements detection.Backend.
type ONNXBackend struct {
	config      Config
	labels      models.LabelSet
	classes     int
	session     *inference.Session
	logger      *zap.Logger
	initialized bool
	mu          sync.Mutex
}

// NewONNXBackend initializes the runtime and creates the session.
//
// Arguments:
//   - config: The model layout.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *ONNXBackend: The ready backend.
//   - error: An error if the runtime, model or labels cannot be loaded.
func NewONNXBackend(config Config, logger *zap.Logger) (*ONNXBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	labels, err := models.Lookup(config.Labels)
	if err != nil {
		return nil, err
	}
	if config.InputSize <= 0 || config.Queries <= 0 {
		return nil, fmt.Errorf("invalid model layout: input %d, queries %d", config.InputSize, config.Queries)
	}

	if err := inference.InitializeRuntime(config.LibraryPath); err != nil {
		return nil, err
	}

	classes := labels.Len() + 1
	session, err := inference.NewSession(inference.SessionConfig{
		ModelPath:   config.ModelPath,
		InputName:   config.InputName,
		MaskName:    config.MaskName,
		Width:       config.InputSize,
		Height:      config.InputSize,
		OutputNames: []string{config.LogitsName, config.BoxesName},
		OutputShapes: []ort.Shape{
			ort.NewShape(1, int64(config.Queries), int64(classes)),
			ort.NewShape(1, int64(config.Queries), 4),
		},
		Provider: config.Provider,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("ONNX detector ready",
		zap.String("model", config.ModelPath),
		zap.String("provider", string(config.Provider.Backend)),
		zap.Int("input_size", config.InputSize),
	)

	return &ONNXBackend{
		config:      config,
		labels:      labels,
		classes:     classes,
		session:     session,
		logger:      logger,
		initialized: true,
	}, nil
}

// Loader returns a detection.Loader that builds an ONNXBackend.
func Loader(config Config, logger *zap.Logger) detection.Loader {
	return func(ctx context.Context) (detection.Backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := NewONNXBackend(config, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Detect runs inference on one frame.
//
// Arguments:
//   - ctx: Checked before the run; ORT runs are not interruptible.
//   - img: The frame.
//   - opts: Threshold and box units.
//
// Returns:
//   - []any: Detection payloads in query order.
//   - error: An error if preparation or the run fails.
func (b *ONNXBackend) Detect(ctx context.Context, img image.Image, opts detection.Options) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil, fmt.Errorf("detector not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := b.config.InputSize
	if err := inference.PrepareInput(img, b.session.Input, size, size, inference.ImageNet); err != nil {
		return nil, fmt.Errorf("failed to prepare input: %w", err)
	}

	elapsed, err := b.session.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	bounds := img.Bounds()
	payloads := DecodeDETR(
		b.session.Outputs[0].GetData(),
		b.session.Outputs[1].GetData(),
		b.config.Queries,
		b.classes,
		b.labels,
		bounds.Dx(),
		bounds.Dy(),
		opts,
	)

	b.logger.Debug("ONNX inference complete",
		zap.Duration("elapsed", elapsed),
		zap.Int("detections", len(payloads)),
	)
	return payloads, nil
}

// Close releases the session.
func (b *ONNXBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
	b.initialized = false
	b.logger.Info("ONNX detector closed")
	return nil
}
