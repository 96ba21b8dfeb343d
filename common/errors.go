// Package common - Error kinds and geometry shared by the frame, detection and render layers.
package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure so the presentation layer can tell causes apart.
type Kind string

const (
	// KindDecode means the video could not be opened or no frame could be decoded.
	KindDecode Kind = "decode_error"
	// KindTimeout means frame decoding or seeking exceeded its bounded wait.
	KindTimeout Kind = "timeout_error"
	// KindModelLoad means the detection backend could not be initialized.
	KindModelLoad Kind = "model_load_error"
	// KindInference means the detection backend failed while running a frame.
	KindInference Kind = "inference_error"
)

// Sentinel errors for use with errors.Is.
var (
	ErrDecode    = &Error{Kind: KindDecode}
	ErrTimeout   = &Error{Kind: KindTimeout}
	ErrModelLoad = &Error{Kind: KindModelLoad}
	ErrInference = &Error{Kind: KindInference}
)

// Error is a classified failure raised by the analysis core.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Op names the operation that failed, e.g. "extract first frame".
	Op string
	// Err is the underlying cause, if any.
	Err error
}

// Error formats the failure as "<op>: <kind>: <cause>".
//
// Returns:
//   - The formatted error message.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind. This lets the
// package sentinels match any error of their class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// DecodeError wraps err as a decode failure of op.
func DecodeError(op string, err error) error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// TimeoutError wraps err as a timeout of op.
func TimeoutError(op string, err error) error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// ModelLoadError wraps err as a backend initialization failure of op.
func ModelLoadError(op string, err error) error {
	return &Error{Kind: KindModelLoad, Op: op, Err: err}
}

// InferenceError wraps err as an inference failure of op.
func InferenceError(op string, err error) error {
	return &Error{Kind: KindInference, Op: op, Err: err}
}

// KindOf returns the Kind of the first classified error in err's chain.
//
// Arguments:
//   - err: The error to inspect.
//
// Returns:
//   - The Kind, or "" when err carries no classification.
//
// @example
// if common.KindOf(err) == common.KindTimeout { retryLater() }
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
