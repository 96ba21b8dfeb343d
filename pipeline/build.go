package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/capture"
	"github.com/nvr-ai/forklift-safety/config"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/frames"
	"github.com/nvr-ai/forklift-safety/inference"
	"github.com/nvr-ai/forklift-safety/inference/detectors"
	"github.com/nvr-ai/forklift-safety/inference/providers"
	"github.com/nvr-ai/forklift-safety/inference/remote"
	"github.com/nvr-ai/forklift-safety/metrics"
	"github.com/nvr-ai/forklift-safety/render/cvsurface"
)

// NewFromConfig assembles a pipeline from the service configuration. The
// model is not loaded until the first analysis.
//
// Arguments:
//   - cfg: The validated configuration.
//   - logger: The logger; nil disables logging.
//   - m: The collectors; nil disables metrics.
//
// Returns:
//   - *Pipeline: The pipeline; Close releases the model.
//   - error: An error if the decoder or engine is unknown.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	open, err := Opener(cfg)
	if err != nil {
		return nil, err
	}
	extractor := frames.NewExtractor(open, frames.Config{
		SeekTimeout: cfg.SeekTimeout,
		JPEGQuality: cfg.JPEGQuality,
	}, logger.Named("frames"))

	load, err := Loader(cfg, logger.Named("backend"))
	if err != nil {
		return nil, err
	}
	detConfig := detection.Config{
		LoadTimeout:      cfg.LoadTimeout,
		InferenceTimeout: cfg.InferenceTimeout,
	}
	model := detection.NewModel(load, detConfig, logger.Named("model"), m)
	engine := detection.NewEngine(model, detConfig, logger.Named("detection"), m)

	p := New(extractor, engine, logger.Named("pipeline"), m)
	if p.Renderer, err = Render(cfg); err != nil {
		return nil, err
	}
	p.OnClose(model.Close)

	logger.Info("pipeline configured",
		zap.String("decoder", cfg.Decoder),
		zap.String("engine", cfg.Engine),
	)
	return p, nil
}

// Opener returns the video decoder selected by cfg.Decoder.
func Opener(cfg *config.Config) (frames.Opener, error) {
	switch cfg.Decoder {
	case config.DecoderFFmpeg, "":
		return frames.NewFFmpegOpener(cfg.FFmpegPath, cfg.FFprobePath), nil
	case config.DecoderGoCV:
		return capture.Open, nil
	default:
		return nil, fmt.Errorf("unsupported decoder %q", cfg.Decoder)
	}
}

// Render returns the overlay renderer selected by cfg.Renderer.
func Render(cfg *config.Config) (Renderer, error) {
	switch cfg.Renderer {
	case config.RendererRaster, "":
		return RasterRenderer, nil
	case config.RendererGoCV:
		return cvsurface.Annotate, nil
	default:
		return nil, fmt.Errorf("unsupported renderer %q", cfg.Renderer)
	}
}

// Loader returns the model loader selected by cfg.Engine.
func Loader(cfg *config.Config, logger *zap.Logger) (detection.Loader, error) {
	engine, err := inference.ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	switch engine {
	case inference.EngineRemote:
		return remote.Loader(remote.Config{
			URL:         cfg.Remote.URL,
			HealthURL:   cfg.Remote.HealthURL,
			Timeout:     cfg.Remote.Timeout,
			JPEGQuality: cfg.JPEGQuality,
		}, logger), nil
	default:
		return detectors.Loader(ONNXConfig(cfg), logger), nil
	}
}

// ONNXConfig maps the service configuration onto the ONNX backend layout.
func ONNXConfig(cfg *config.Config) detectors.Config {
	dc := detectors.DefaultConfig()
	dc.ModelPath = cfg.ONNX.ModelPath
	dc.LibraryPath = cfg.ONNX.LibraryPath
	if cfg.ONNX.InputSize > 0 {
		dc.InputSize = cfg.ONNX.InputSize
	}
	if cfg.ONNX.Queries > 0 {
		dc.Queries = cfg.ONNX.Queries
	}
	if cfg.ONNX.Labels != "" {
		dc.Labels = cfg.ONNX.Labels
	}
	if !cfg.ONNX.MaskInput {
		dc.MaskName = ""
	}
	if cfg.ONNX.Provider != "" {
		dc.Provider.Backend = providers.Backend(cfg.ONNX.Provider)
	}
	if cfg.ONNX.Threads > 0 {
		dc.Provider.IntraOpThreads = cfg.ONNX.Threads
	}
	return dc
}
