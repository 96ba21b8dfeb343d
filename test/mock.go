// Package test - Shared fakes and fixtures for end-to-end pipeline tests.
package test

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/frames"
)

// MockFrameGenerator creates deterministic test frames.
//
// Arguments:
// - None.
//
// Returns:
// - A generator for creating frames with controlled content.
//
// @example
// gen := NewMockFrameGenerator(640, 480)
// frame := gen.GenerateStaticFrame()
type MockFrameGenerator struct {
	width  int
	height int
}

// NewMockFrameGenerator creates a new frame generator with specified dimensions.
//
// Arguments:
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - A configured MockFrameGenerator instance.
//
// @example
// gen := NewMockFrameGenerator(1920, 1080)
func NewMockFrameGenerator(width, height int) *MockFrameGenerator {
	return &MockFrameGenerator{width: width, height: height}
}

// GenerateStaticFrame creates a mid-grey frame.
func (g *MockFrameGenerator) GenerateStaticFrame() *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2], frame.Pix[i+3] = 128, 128, 128, 255
	}
	return frame
}

// GenerateObjectFrame creates a grey frame with a white block standing in for
// an object.
//
// Arguments:
// - rect: The block position.
//
// Returns:
// - The frame.
func (g *MockFrameGenerator) GenerateObjectFrame(rect image.Rectangle) *image.RGBA {
	frame := g.GenerateStaticFrame()
	white := color.RGBA{255, 255, 255, 255}
	r := rect.Intersect(frame.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			frame.SetRGBA(x, y, white)
		}
	}
	return frame
}

// WriteVideo encodes the frames as an MJPG AVI at path.
//
// Arguments:
// - path: The output file; should end in .avi.
// - fps: The frame rate.
// - images: The frames, all the same size.
//
// Returns:
// - bool: false if no MJPG writer is available in this OpenCV build.
// - error: An error if a frame cannot be converted.
func WriteVideo(path string, fps float64, images ...image.Image) (bool, error) {
	if len(images) == 0 {
		return false, nil
	}
	b := images[0].Bounds()
	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, b.Dx(), b.Dy(), true)
	if err != nil {
		return false, nil
	}
	defer writer.Close()
	if !writer.IsOpened() {
		return false, nil
	}

	for _, img := range images {
		mat, err := gocv.ImageToMatRGB(img)
		if err != nil {
			return false, err
		}
		err = writer.Write(mat)
		mat.Close()
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// MockSource is a frames.Source that serves a fixed image.
type MockSource struct {
	Frame  image.Image
	Err    error
	Closed atomic.Int32
}

// Dimensions returns the frame size.
func (s *MockSource) Dimensions() (int, int, error) {
	if s.Err != nil {
		return 0, 0, s.Err
	}
	b := s.Frame.Bounds()
	return b.Dx(), b.Dy(), nil
}

// SeekStart always succeeds.
func (s *MockSource) SeekStart() error { return nil }

// ReadFrame returns the frame.
func (s *MockSource) ReadFrame() (image.Image, error) { return s.Frame, nil }

// Close counts releases.
func (s *MockSource) Close() error {
	s.Closed.Add(1)
	return nil
}

// Opener opens every path as s.
func (s *MockSource) Opener() frames.Opener {
	return func(context.Context, string) (frames.Source, error) { return s, nil }
}

// MockBackend is a scripted detection.Backend.
type MockBackend struct {
	// Payloads is returned from every Detect call.
	Payloads []any
	// Err fails every Detect call.
	Err error
	// Delay is slept before answering.
	Delay time.Duration

	mu      sync.Mutex
	calls   int
	closed  int
	options []detection.Options
}

// Detect returns the scripted payloads.
func (b *MockBackend) Detect(ctx context.Context, _ image.Image, opts detection.Options) ([]any, error) {
	b.mu.Lock()
	b.calls++
	b.options = append(b.options, opts)
	b.mu.Unlock()
	if b.Delay > 0 {
		time.Sleep(b.Delay)
	}
	return b.Payloads, b.Err
}

// Close counts releases.
func (b *MockBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

// Calls returns how many times Detect ran.
func (b *MockBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Options returns the options of every Detect call.
func (b *MockBackend) Options() []detection.Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]detection.Options(nil), b.options...)
}

// CountingLoader wraps a backend in a Loader that counts load sequences and
// waits for delay before returning.
//
// Arguments:
// - backend: The backend handed out.
// - delay: Simulated load time.
// - loads: Incremented once per load sequence.
//
// Returns:
// - detection.Loader: The loader.
func CountingLoader(backend detection.Backend, delay time.Duration, loads *atomic.Int32) detection.Loader {
	return func(ctx context.Context) (detection.Backend, error) {
		loads.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return backend, nil
	}
}

// Payload builds a raw model output object.
//
// Arguments:
// - label: The class label.
// - score: The confidence.
// - xmin, ymin, xmax, ymax: The box in pixels.
//
// Returns:
// - map[string]any: The payload as a JSON-decoded detector would produce it.
func Payload(label string, score, xmin, ymin, xmax, ymax float64) map[string]any {
	return map[string]any{
		"label": label,
		"score": score,
		"box": map[string]any{
			"xmin": xmin,
			"ymin": ymin,
			"xmax": xmax,
			"ymax": ymax,
		},
	}
}
