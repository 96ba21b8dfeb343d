// Package capture - OpenCV-backed video sources.
package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/forklift-safety/frames"
)

// Source reads frames from a video file through gocv.VideoCapture.
type Source struct {
	path  string
	video *gocv.VideoCapture
	mat   gocv.Mat
}

// Open opens path with OpenCV. It satisfies frames.Opener.
//
// OpenCV decoding is not interruptible, so ctx is only checked before the
// file is opened; the extractor's bounded wait covers the rest.
//
// Arguments:
//   - ctx: The extraction context.
//   - path: The video file.
//
// Returns:
//   - frames.Source: The opened source.
//   - error: An error if OpenCV cannot open the file.
//
// @example
// ex := frames.NewExtractor(capture.Open, frames.DefaultConfig(), logger)
func Open(ctx context.Context, path string) (frames.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	video, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if !video.IsOpened() {
		_ = video.Close()
		return nil, fmt.Errorf("open %s: no decoder for file", path)
	}
	return &Source{path: path, video: video, mat: gocv.NewMat()}, nil
}

// Dimensions returns the frame size reported by the container.
func (s *Source) Dimensions() (int, int, error) {
	w := int(s.video.Get(gocv.VideoCaptureFrameWidth))
	h := int(s.video.Get(gocv.VideoCaptureFrameHeight))
	return w, h, nil
}

// SeekStart rewinds to the first frame.
func (s *Source) SeekStart() error {
	s.video.Set(gocv.VideoCapturePosFrames, 0)
	if pos := s.video.Get(gocv.VideoCapturePosFrames); pos > 0 {
		return fmt.Errorf("seek to start settled at frame %.0f", pos)
	}
	return nil
}

// ReadFrame decodes the next frame into an RGBA image.
func (s *Source) ReadFrame() (image.Image, error) {
	if ok := s.video.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, fmt.Errorf("no frame decoded from %s", s.path)
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}
	return img, nil
}

// Close releases the frame buffer and the capture device.
func (s *Source) Close() error {
	matErr := s.mat.Close()
	if err := s.video.Close(); err != nil {
		return err
	}
	return matErr
}
