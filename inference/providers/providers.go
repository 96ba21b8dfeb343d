// Package providers - ONNX Runtime execution provider selection.
package providers

import (
	"fmt"
	"runtime"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// CPU runs on the default CPU provider.
	CPU Backend = "cpu"
	// CoreML uses Apple CoreML for macOS acceleration.
	CoreML Backend = "coreml"
	// OpenVINO uses Intel OpenVINO.
	OpenVINO Backend = "openvino"
	// CUDA uses NVIDIA CUDA.
	CUDA Backend = "cuda"
)

// Config selects and tunes the execution provider.
type Config struct {
	// Backend is the execution provider.
	Backend Backend `json:"backend" yaml:"backend"`
	// IntraOpThreads parallelizes work inside graph nodes; 0 uses the runtime default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads parallelizes work across graph nodes; 0 uses the runtime default.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// DeviceType is the OpenVINO device, e.g. "CPU" or "GPU".
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Precision is the OpenVINO inference precision, e.g. "FP32".
	Precision string `json:"precision" yaml:"precision"`
	// DeviceID is the CUDA device ordinal.
	DeviceID int `json:"device_id" yaml:"device_id"`
}

// DefaultConfig returns a CPU configuration.
//
// Returns:
//   - Config: The CPU provider with 4 intra-op and 2 inter-op threads.
func DefaultConfig() Config {
	return Config{
		Backend:        CPU,
		IntraOpThreads: 4,
		InterOpThreads: 2,
		DeviceType:     "CPU",
		Precision:      "FP32",
	}
}

// Parse converts a name to a Backend.
func Parse(name string) (Backend, error) {
	switch b := Backend(name); b {
	case CPU, CoreML, OpenVINO, CUDA:
		return b, nil
	case "":
		return CPU, nil
	default:
		return "", fmt.Errorf("unsupported execution provider: %q", name)
	}
}

// NewSessionOptions builds ORT session options for the config.
//
// The caller owns the returned options and must Destroy them once the session
// has been created.
//
// Arguments:
//   - config: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if the provider cannot be enabled.
//
// @example
// opts, err := providers.NewSessionOptions(providers.DefaultConfig())
// defer opts.Destroy()
func NewSessionOptions(config Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}
	if err := apply(options, config); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func apply(options *ort.SessionOptions, config Config) error {
	if config.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			return fmt.Errorf("error setting intra-op threads: %w", err)
		}
	}
	if config.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(config.InterOpThreads); err != nil {
			return fmt.Errorf("error setting inter-op threads: %w", err)
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch config.Backend {
	case CPU, "":
		return nil
	case CoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINO:
		threads := config.IntraOpThreads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type":    orDefault(config.DeviceType, "CPU"),
			"precision":      orDefault(config.Precision, "FP32"),
			"num_of_threads": strconv.Itoa(threads),
		}); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("error creating CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(config.DeviceID)}); err != nil {
			return fmt.Errorf("error configuring CUDA: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	default:
		return fmt.Errorf("unsupported execution provider: %q", config.Backend)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SharedLibPath returns the conventional onnxruntime library location for
// this platform, relative to the working directory.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
