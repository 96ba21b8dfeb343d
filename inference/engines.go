// Package inference - Tensor preparation and ONNX Runtime sessions.
package inference

import "fmt"

// EngineType is the detection backend family.
type EngineType string

const (
	// EngineONNX runs the model in-process with the onnxruntime library.
	EngineONNX EngineType = "onnx"
	// EngineRemote sends frames to an inference server over HTTP.
	EngineRemote EngineType = "remote"
)

// Engines is a list of all supported engines.
var Engines = []EngineType{EngineONNX, EngineRemote}

// ParseEngine converts a name to an EngineType.
func ParseEngine(name string) (EngineType, error) {
	for _, e := range Engines {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unsupported engine %q, want one of %v", name, Engines)
}
