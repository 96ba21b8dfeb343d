package main

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/config"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/frames"
	"github.com/nvr-ai/forklift-safety/images"
	"github.com/nvr-ai/forklift-safety/pipeline"
)

type stubExtractor struct{ frame *frames.Frame }

func (s stubExtractor) ExtractFirstFrame(ctx context.Context, path string) (*frames.Frame, error) {
	return s.frame, nil
}

type stubDetector struct{ result detection.Result }

func (s stubDetector) Detect(ctx context.Context, img image.Image) (detection.Result, error) {
	return s.result, nil
}

// countingBuild wraps a builder so the test can see whether the pipeline was released.
func countingBuild(build builder, closed *int) builder {
	return func(cfg *config.Config, log *zap.Logger) (*pipeline.Pipeline, error) {
		p, err := build(cfg, log)
		if err != nil {
			return nil, err
		}
		p.OnClose(func() error { *closed++; return nil })
		return p, nil
	}
}

func remoteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FORKLIFT_CONFIG", "")
	t.Setenv("FORKLIFT_ENGINE", "remote")
	t.Setenv("FORKLIFT_REMOTE_URL", "http://127.0.0.1:1/detect")
}

func fromConfig(cfg *config.Config, log *zap.Logger) (*pipeline.Pipeline, error) {
	return pipeline.NewFromConfig(cfg, log, nil)
}

func TestRunUsageErrors(t *testing.T) {
	remoteEnv(t)
	closed := 0
	var stderr bytes.Buffer

	assert.Equal(t, 2, run(nil, &bytes.Buffer{}, &stderr, countingBuild(fromConfig, &closed)))
	assert.Contains(t, stderr.String(), "exactly one of -video or -dir")
	assert.Equal(t, 2, run([]string{"-video", "a.mp4", "-dir", "."}, &bytes.Buffer{}, &stderr, countingBuild(fromConfig, &closed)))
	assert.Equal(t, 2, run([]string{"-bogus"}, &bytes.Buffer{}, &stderr, countingBuild(fromConfig, &closed)))
	assert.Equal(t, 0, closed, "no pipeline is built for usage errors")
}

func TestRunReleasesPipelineOnEveryExit(t *testing.T) {
	remoteEnv(t)
	dir := t.TempDir()

	closed := 0
	assert.Equal(t, 0, run([]string{"-dir", dir}, &bytes.Buffer{}, &bytes.Buffer{}, countingBuild(fromConfig, &closed)))
	assert.Equal(t, 1, closed)

	still := filepath.Join(dir, "still.png")
	require.NoError(t, os.WriteFile(still, []byte("png"), 0o600))
	closed = 0
	assert.Equal(t, 2, run([]string{"-video", still}, &bytes.Buffer{}, &bytes.Buffer{}, countingBuild(fromConfig, &closed)))
	assert.Equal(t, 1, closed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.mp4"), nil, 0o600))
	closed = 0
	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-dir", dir}, &bytes.Buffer{}, &stderr, countingBuild(fromConfig, &closed)))
	assert.Contains(t, stderr.String(), string(common.KindDecode))
	assert.Equal(t, 1, closed)
}

func TestRunWritesResultAndOverlay(t *testing.T) {
	remoteEnv(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "dock.mp4")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o600))
	out := filepath.Join(dir, "dock.jpg")

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	encoded, err := images.Encode(img, images.FormatJPEG, 0)
	require.NoError(t, err)
	person := detection.Result{
		PersonDetected: true,
		Detections:     []detection.Detection{{Label: "person", Score: 0.9, Box: common.Box{XMin: 1, YMin: 1, XMax: 20, YMax: 20}}},
	}
	build := func(cfg *config.Config, log *zap.Logger) (*pipeline.Pipeline, error) {
		return pipeline.New(stubExtractor{&frames.Frame{Image: img, Encoded: encoded}}, stubDetector{person}, log, nil), nil
	}

	closed := 0
	var stdout bytes.Buffer
	code := run([]string{"-video", video, "-out", out}, &stdout, &bytes.Buffer{}, countingBuild(build, &closed))
	require.Equal(t, 0, code)
	assert.Equal(t, 1, closed)

	assert.Contains(t, stdout.String(), `"personDetected": true`)
	assert.NotContains(t, stdout.String(), "data:image/jpeg")
	assert.Contains(t, stdout.String(), "dock.mp4: "+detection.VerdictPerson)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8)
}
