package frames

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/images"
)

// Source is an opened video that can yield its first frame.
//
// A Source is used by exactly one goroutine and is always closed by the
// Extractor, on success and on every failure path.
type Source interface {
	// Dimensions returns the intrinsic width and height from the container metadata.
	Dimensions() (width, height int, err error)
	// SeekStart seeks to timestamp 0 and returns once the seek has settled.
	SeekStart() error
	// ReadFrame decodes the frame at the current position.
	ReadFrame() (image.Image, error)
	// Close releases the decoder and any underlying stream.
	Close() error
}

// Opener opens a video file as a Source. The context bounds any external work
// the Source performs, such as decoder subprocesses.
type Opener func(ctx context.Context, path string) (Source, error)

// Config holds the extractor settings.
type Config struct {
	// SeekTimeout bounds the whole open/metadata/seek/read sequence.
	SeekTimeout time.Duration `json:"seek_timeout" yaml:"seek_timeout"`
	// JPEGQuality is the quality of the encoded frame.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// DefaultConfig returns the extractor defaults.
//
// Returns:
//   - Config: A 10s bounded wait and browser-equivalent JPEG quality.
func DefaultConfig() Config {
	return Config{
		SeekTimeout: 10 * time.Second,
		JPEGQuality: images.DefaultJPEGQuality,
	}
}

// Extractor takes the first frame out of a video file.
type Extractor struct {
	open   Opener
	config Config
	logger *zap.Logger
}

// NewExtractor creates an extractor that decodes through open.
//
// Arguments:
//   - open: The video decoder backend.
//   - config: Timeout and encoding settings; zero values fall back to DefaultConfig.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Extractor: The extractor.
func NewExtractor(open Opener, config Config, logger *zap.Logger) *Extractor {
	defaults := DefaultConfig()
	if config.SeekTimeout <= 0 {
		config.SeekTimeout = defaults.SeekTimeout
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = defaults.JPEGQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{open: open, config: config, logger: logger}
}

type extraction struct {
	frame *Frame
	err   error
}

// ExtractFirstFrame decodes the first frame of the video at path.
//
// The decode runs in its own goroutine which owns the Source and closes it on
// exit. The caller waits at most SeekTimeout; a late decode is discarded after
// its resources are released. No partial frame is ever returned and nothing is
// retried.
//
// Arguments:
//   - ctx: The context for the extraction.
//   - path: The video file.
//
// Returns:
//   - *Frame: The first frame at native resolution with its JPEG encoding.
//   - error: A common.KindDecode error when the file is unreadable or yields no
//     frame, a common.KindTimeout error when the bounded wait expires or ctx is
//     cancelled first.
//
// @example
// ex := frames.NewExtractor(frames.OpenFFmpeg, frames.DefaultConfig(), logger)
// frame, err := ex.ExtractFirstFrame(ctx, "clip.mp4")
func (e *Extractor) ExtractFirstFrame(ctx context.Context, path string) (*Frame, error) {
	const op = "extract first frame"

	info, err := os.Stat(path)
	if err != nil {
		return nil, common.DecodeError(op, err)
	}
	if info.IsDir() {
		return nil, common.DecodeError(op, fmt.Errorf("%s is a directory", path))
	}
	if info.Size() == 0 {
		return nil, common.DecodeError(op, fmt.Errorf("%s is a zero-byte file", path))
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.SeekTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan extraction, 1)
	go func() {
		frame, err := e.decode(ctx, path)
		done <- extraction{frame: frame, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if ce := e.logger.Check(zap.DebugLevel, "first frame extracted"); ce != nil {
			ce.Write(
				zap.String("path", path),
				zap.Int("width", r.frame.Width()),
				zap.Int("height", r.frame.Height()),
				zap.Int("encoded_bytes", len(r.frame.Encoded.Data)),
				zap.String("checksum", images.Checksum(r.frame.Image)),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
		return r.frame, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("first frame extraction timed out",
				zap.String("path", path),
				zap.Duration("timeout", e.config.SeekTimeout),
			)
			return nil, common.TimeoutError(op, fmt.Errorf("no frame within %s", e.config.SeekTimeout))
		}
		e.logger.Warn("first frame extraction cancelled", zap.String("path", path), zap.Error(ctx.Err()))
		return nil, common.TimeoutError(op, errors.Wrap(ctx.Err(), "extraction cancelled"))
	}
}

// decode runs the open/metadata/seek/read sequence and owns the Source.
func (e *Extractor) decode(ctx context.Context, path string) (*Frame, error) {
	src, err := e.open(ctx, path)
	if err != nil {
		return nil, common.DecodeError("open video", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			e.logger.Warn("failed to release video source", zap.String("path", path), zap.Error(cerr))
		}
	}()

	width, height, err := src.Dimensions()
	if err != nil {
		return nil, common.DecodeError("read metadata", err)
	}
	if width <= 0 || height <= 0 {
		return nil, common.DecodeError("read metadata", fmt.Errorf("invalid dimensions %dx%d", width, height))
	}

	if err := src.SeekStart(); err != nil {
		return nil, common.DecodeError("seek to start", err)
	}

	img, err := src.ReadFrame()
	if err != nil {
		return nil, common.DecodeError("read first frame", err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, common.DecodeError("read first frame", errors.New("no frame decoded"))
	}

	pixels := toSurface(img, width, height)

	encoded, err := images.Encode(pixels, images.FormatJPEG, e.config.JPEGQuality)
	if err != nil {
		return nil, common.DecodeError("encode frame", err)
	}

	return &Frame{Image: pixels, Encoded: encoded}, nil
}

// toSurface copies img into an RGBA buffer of exactly width x height, scaling
// when the decoded size disagrees with the metadata.
func toSurface(img image.Image, width, height int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = imaging.Resize(img, width, height, imaging.Linear)
		b = img.Bounds()
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
