package inference

import (
	"fmt"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/forklift-safety/inference/providers"
)

var runtimeMu sync.Mutex

// InitializeRuntime loads the onnxruntime shared library once per process.
//
// Arguments:
//   - libPath: Path to the onnxruntime shared library; empty uses providers.SharedLibPath.
//
// Returns:
//   - error: An error if the library is missing or the environment fails to start.
func InitializeRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = providers.SharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}
	return nil
}

// SessionConfig describes the tensors of a single-image model.
type SessionConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string
	// InputName is the image input, shaped [1, 3, Height, Width].
	InputName string
	// MaskName is an optional int64 pixel mask input, shaped [1, Height, Width].
	MaskName string
	// Width and Height are the model input size.
	Width, Height int
	// OutputNames and OutputShapes describe the float32 outputs, in order.
	OutputNames  []string
	OutputShapes []ort.Shape
	// Provider selects the execution provider.
	Provider providers.Config
}

// Session represents a model session from the onnxruntime with its bound tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Mask    *ort.Tensor[int64]
	Outputs []*ort.Tensor[float32]
}

// NewSession allocates the tensors and creates the session. The runtime must
// already be initialized.
//
// Arguments:
//   - config: The tensor layout and provider.
//
// Returns:
//   - *Session: The session.
//   - error: An error if any tensor or the session cannot be created.
func NewSession(config SessionConfig) (*Session, error) {
	if len(config.OutputNames) != len(config.OutputShapes) {
		return nil, fmt.Errorf("%d output names for %d output shapes", len(config.OutputNames), len(config.OutputShapes))
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %w", err)
	}

	s := &Session{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var err error
	s.Input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(config.Height), int64(config.Width)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	inputNames := []string{config.InputName}
	inputs := []ort.Value{s.Input}

	if config.MaskName != "" {
		mask := make([]int64, config.Width*config.Height)
		for i := range mask {
			mask[i] = 1
		}
		s.Mask, err = ort.NewTensor(ort.NewShape(1, int64(config.Height), int64(config.Width)), mask)
		if err != nil {
			return nil, fmt.Errorf("error creating mask tensor: %w", err)
		}
		inputNames = append(inputNames, config.MaskName)
		inputs = append(inputs, s.Mask)
	}

	outputs := make([]ort.Value, 0, len(config.OutputShapes))
	for i, shape := range config.OutputShapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, fmt.Errorf("error creating output tensor %s: %w", config.OutputNames[i], err)
		}
		s.Outputs = append(s.Outputs, t)
		outputs = append(outputs, t)
	}

	options, err := providers.NewSessionOptions(config.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	s.Session, err = ort.NewAdvancedSession(
		config.ModelPath,
		inputNames,
		config.OutputNames,
		inputs,
		outputs,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}

	ok = true
	return s, nil
}

// Run executes the model once and reports how long it took.
func (s *Session) Run() (time.Duration, error) {
	start := time.Now()
	err := s.Session.Run()
	return time.Since(start), err
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	for _, t := range s.Outputs {
		t.Destroy()
	}
	s.Outputs = nil
	if s.Mask != nil {
		s.Mask.Destroy()
		s.Mask = nil
	}
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Session != nil {
		s.Session.Destroy()
		s.Session = nil
	}
}
