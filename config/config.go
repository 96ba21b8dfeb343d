// Package config - Service configuration from defaults, a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/forklift-safety/inference"
	"github.com/nvr-ai/forklift-safety/inference/providers"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FORKLIFT_"

// Decoder names a video decoding backend.
const (
	DecoderFFmpeg = "ffmpeg"
	DecoderGoCV   = "gocv"
)

// Renderer names an overlay drawing backend.
const (
	RendererRaster = "raster"
	RendererGoCV   = "gocv"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR"        yaml:"http_addr"`
	LogLevel       string `env:"LOG_LEVEL"        yaml:"log_level"`
	JaegerEndpoint string `env:"JAEGER_ENDPOINT"  yaml:"jaeger_endpoint"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" yaml:"max_upload_bytes"`
	TempDir        string `env:"TEMP_DIR"         yaml:"temp_dir"`

	Decoder     string        `env:"DECODER"      yaml:"decoder"`
	FFmpegPath  string        `env:"FFMPEG_PATH"  yaml:"ffmpeg_path"`
	FFprobePath string        `env:"FFPROBE_PATH" yaml:"ffprobe_path"`
	SeekTimeout time.Duration `env:"SEEK_TIMEOUT" yaml:"seek_timeout"`
	JPEGQuality int           `env:"JPEG_QUALITY" yaml:"jpeg_quality"`
	Renderer    string        `env:"RENDERER"     yaml:"renderer"`

	Engine           string        `env:"ENGINE"            yaml:"engine"`
	LoadTimeout      time.Duration `env:"LOAD_TIMEOUT"      yaml:"load_timeout"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" yaml:"inference_timeout"`

	ONNX   ONNX   `envPrefix:"ONNX_"   yaml:"onnx"`
	Remote Remote `envPrefix:"REMOTE_" yaml:"remote"`
}

// ONNX configures the in-process ONNX Runtime backend.
type ONNX struct {
	ModelPath   string `env:"MODEL_PATH"   yaml:"model_path"`
	LibraryPath string `env:"LIBRARY_PATH" yaml:"library_path"`
	Provider    string `env:"PROVIDER"     yaml:"provider"`
	InputSize   int    `env:"INPUT_SIZE"   yaml:"input_size"`
	Queries     int    `env:"QUERIES"      yaml:"queries"`
	Labels      string `env:"LABELS"       yaml:"labels"`
	MaskInput   bool   `env:"MASK_INPUT"   yaml:"mask_input"`
	Threads     int    `env:"THREADS"      yaml:"threads"`
}

// Remote configures the HTTP inference backend.
type Remote struct {
	URL       string        `env:"URL"        yaml:"url"`
	HealthURL string        `env:"HEALTH_URL" yaml:"health_url"`
	Timeout   time.Duration `env:"TIMEOUT"    yaml:"timeout"`
}

// DefaultConfig returns the built-in defaults.
//
// Returns:
//   - Config: ffmpeg decoding with a 10s bound, ONNX DETR on CPU, HTTP on :8080.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		MaxUploadBytes: 256 << 20,
		TempDir:        os.TempDir(),

		Decoder:     DecoderFFmpeg,
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		SeekTimeout: 10 * time.Second,
		JPEGQuality: 92,
		Renderer:    RendererRaster,

		Engine:           string(inference.EngineONNX),
		LoadTimeout:      2 * time.Minute,
		InferenceTimeout: time.Minute,

		ONNX: ONNX{
			ModelPath: "models/detr-resnet-50.onnx",
			Provider:  string(providers.CPU),
			InputSize: 800,
			Queries:   100,
			Labels:    "coco91",
			MaskInput: true,
			Threads:   4,
		},
		Remote: Remote{
			Timeout: 30 * time.Second,
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path if
// non-empty, then FORKLIFT_* environment variables.
//
// Arguments:
//   - path: Optional YAML file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file or environment cannot be parsed or the
//     result is invalid.
//
// @example
// cfg, err := config.Load(os.Getenv("FORKLIFT_CONFIG"))
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	switch c.Decoder {
	case DecoderFFmpeg, DecoderGoCV:
	default:
		return fmt.Errorf("unsupported decoder %q", c.Decoder)
	}

	switch c.Renderer {
	case RendererRaster, RendererGoCV:
	default:
		return fmt.Errorf("unsupported renderer %q", c.Renderer)
	}

	engine, err := inference.ParseEngine(c.Engine)
	if err != nil {
		return err
	}
	switch engine {
	case inference.EngineONNX:
		if c.ONNX.ModelPath == "" {
			return fmt.Errorf("onnx engine requires a model path")
		}
		if _, err := providers.Parse(c.ONNX.Provider); err != nil {
			return err
		}
		if c.ONNX.InputSize <= 0 || c.ONNX.Queries <= 0 {
			return fmt.Errorf("onnx input size and queries must be positive")
		}
	case inference.EngineRemote:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote engine requires a url")
		}
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality %d outside [1, 100]", c.JPEGQuality)
	}
	if c.SeekTimeout <= 0 || c.LoadTimeout <= 0 || c.InferenceTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	return nil
}
