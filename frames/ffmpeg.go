package frames

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// FFmpegSource decodes the first frame with the ffmpeg and ffprobe binaries.
//
// Every call runs a short-lived subprocess bound to the open context, so a
// timed-out extraction kills its decoder.
type FFmpegSource struct {
	ctx     context.Context
	path    string
	ffmpeg  string
	ffprobe string
	seeked  bool
}

// NewFFmpegOpener returns an Opener that uses the given binaries.
//
// Arguments:
//   - ffmpegPath: Path or name of the ffmpeg binary.
//   - ffprobePath: Path or name of the ffprobe binary.
//
// Returns:
//   - Opener: The opener.
func NewFFmpegOpener(ffmpegPath, ffprobePath string) Opener {
	return func(ctx context.Context, path string) (Source, error) {
		if _, err := exec.LookPath(ffmpegPath); err != nil {
			return nil, errors.Wrap(err, "ffmpeg not available")
		}
		if _, err := exec.LookPath(ffprobePath); err != nil {
			return nil, errors.Wrap(err, "ffprobe not available")
		}
		return &FFmpegSource{ctx: ctx, path: path, ffmpeg: ffmpegPath, ffprobe: ffprobePath}, nil
	}
}

// OpenFFmpeg opens path with ffmpeg and ffprobe from PATH.
func OpenFFmpeg(ctx context.Context, path string) (Source, error) {
	return NewFFmpegOpener("ffmpeg", "ffprobe")(ctx, path)
}

// Dimensions probes the first video stream for its width and height.
func (s *FFmpegSource) Dimensions() (int, int, error) {
	cmd := exec.CommandContext(s.ctx, s.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		s.path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseDimensions(string(out))
}

// SeekStart positions the decoder at timestamp 0. The seek is applied by the
// next ReadFrame, which starts its decode at -ss 0.
func (s *FFmpegSource) SeekStart() error {
	s.seeked = true
	return nil
}

// ReadFrame decodes a single frame as PNG through a pipe.
func (s *FFmpegSource) ReadFrame() (image.Image, error) {
	args := []string{"-v", "error"}
	if s.seeked {
		args = append(args, "-ss", "0")
	}
	args = append(args,
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	cmd := exec.CommandContext(s.ctx, s.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}

	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, errors.Wrap(err, "decode ffmpeg frame")
	}
	return img, nil
}

// Close is a no-op; subprocesses are reaped by each call.
func (s *FFmpegSource) Close() error {
	return nil
}

// parseDimensions parses ffprobe "WIDTHxHEIGHT" output.
func parseDimensions(out string) (int, int, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "x")
		if line == "" {
			continue
		}
		w, h, ok := strings.Cut(line, "x")
		if !ok {
			return 0, 0, fmt.Errorf("unexpected ffprobe output %q", line)
		}
		width, err := strconv.Atoi(w)
		if err != nil {
			return 0, 0, errors.Wrap(err, "parse width")
		}
		height, err := strconv.Atoi(h)
		if err != nil {
			return 0, 0, errors.Wrap(err, "parse height")
		}
		return width, height, nil
	}
	return 0, 0, errors.New("no video stream")
}
