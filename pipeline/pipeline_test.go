package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/config"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/frames"
	"github.com/nvr-ai/forklift-safety/images"
	"github.com/nvr-ai/forklift-safety/inference/providers"
	"github.com/nvr-ai/forklift-safety/metrics"
)

type fakeExtractor struct {
	frame *frames.Frame
	err   error
	calls int
}

func (f *fakeExtractor) ExtractFirstFrame(ctx context.Context, path string) (*frames.Frame, error) {
	f.calls++
	return f.frame, f.err
}

type fakeDetector struct {
	result detection.Result
	err    error
	calls  int
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) (detection.Result, error) {
	f.calls++
	return f.result, f.err
}

func testFrame(t *testing.T, w, h int) *frames.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{100, 100, 100, 255})
		}
	}
	encoded, err := images.Encode(img, images.FormatJPEG, images.DefaultJPEGQuality)
	require.NoError(t, err)
	return &frames.Frame{Image: img, Encoded: encoded}
}

func TestAnalyzeVideoNoPerson(t *testing.T) {
	frame := testFrame(t, 320, 240)
	pallet := detection.Detection{Label: "pallet", Score: 0.77, Box: common.Box{XMin: 10, YMin: 10, XMax: 90, YMax: 80}}
	det := &fakeDetector{result: detection.Result{Detections: []detection.Detection{pallet}}}
	m := metrics.New()
	p := New(&fakeExtractor{frame: frame}, det, zap.NewNop(), m)

	result, err := p.AnalyzeVideo(context.Background(), "clip.mp4")
	require.NoError(t, err)

	assert.False(t, result.PersonDetected)
	assert.Equal(t, []detection.Detection{pallet}, result.Detections)
	assert.Equal(t, frame.DataURL(), result.Frame)
	assert.Equal(t, detection.VerdictSafe, result.Verdict())
}

func TestAnalyzeVideoPropagatesDecodeError(t *testing.T) {
	ex := &fakeExtractor{err: common.DecodeError("open video", errors.New("moov atom not found"))}
	det := &fakeDetector{}
	p := New(ex, det, nil, nil)

	result, err := p.AnalyzeVideo(context.Background(), "broken.mp4")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, common.ErrDecode)
	assert.Equal(t, 0, det.calls, "detection must not run without a frame")
}

func TestAnalyzeVideoPropagatesErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		extractor *fakeExtractor
		detector  *fakeDetector
		kind      common.Kind
	}{
		{
			name:      "timeout",
			extractor: &fakeExtractor{err: common.TimeoutError("extract first frame", errors.New("no frame within 10s"))},
			detector:  &fakeDetector{},
			kind:      common.KindTimeout,
		},
		{
			name:      "model load",
			extractor: &fakeExtractor{frame: testFrame(t, 16, 16)},
			detector:  &fakeDetector{err: common.ModelLoadError("load model", errors.New("no such file"))},
			kind:      common.KindModelLoad,
		},
		{
			name:      "inference",
			extractor: &fakeExtractor{frame: testFrame(t, 16, 16)},
			detector:  &fakeDetector{err: common.InferenceError("run model", errors.New("bad shape"))},
			kind:      common.KindInference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.extractor, tt.detector, nil, metrics.New())
			result, err := p.AnalyzeVideo(context.Background(), "clip.mp4")
			assert.Nil(t, result)
			assert.Equal(t, tt.kind, common.KindOf(err))
		})
	}
}

func TestAnalyzeVideoIgnoresCallerCancellation(t *testing.T) {
	frame := testFrame(t, 32, 32)
	p := New(&fakeExtractor{frame: frame}, &fakeDetector{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.AnalyzeVideo(ctx, "clip.mp4")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Frame)
}

func TestVisualizePersonWash(t *testing.T) {
	frame := testFrame(t, 640, 480)
	result := &detection.Result{
		PersonDetected: true,
		Detections: []detection.Detection{
			{Label: "person", Score: 0.91, Box: common.Box{XMin: 100, YMin: 150, XMax: 300, YMax: 400}},
		},
		Frame: frame.DataURL(),
	}
	p := New(&fakeExtractor{}, &fakeDetector{}, nil, nil)

	out, err := p.Visualize(result)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())

	r, g, b, _ := img.At(600, 460).RGBA()
	assert.Greater(t, r>>8, g>>8+60, "wash must tint the frame red")
	assert.InDelta(t, g>>8, b>>8, 10)
}

func TestVisualizeRequiresFrame(t *testing.T) {
	p := New(&fakeExtractor{}, &fakeDetector{}, nil, nil)

	_, err := p.Visualize(nil)
	assert.Error(t, err)

	_, err = p.Visualize(&detection.Result{})
	assert.Error(t, err)

	_, err = p.Visualize(&detection.Result{Frame: "data:text/plain;base64,aGk="})
	assert.Error(t, err)
}

func TestCloseRunsHooksInReverse(t *testing.T) {
	p := New(&fakeExtractor{}, &fakeDetector{}, nil, nil)
	var order []int
	p.OnClose(func() error { order = append(order, 1); return nil })
	p.OnClose(func() error { order = append(order, 2); return errors.New("busy") })

	assert.EqualError(t, p.Close(), "busy")
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, p.Close())
}

func TestNewFromConfigDefersModelLoad(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine = "remote"
	cfg.Remote.URL = "http://127.0.0.1:1/detect"

	p, err := NewFromConfig(&cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNewFromConfigRejectsUnknownParts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Decoder = "quicktime"
	_, err := NewFromConfig(&cfg, nil, nil)
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.Engine = "tensorrt"
	_, err = NewFromConfig(&cfg, nil, nil)
	assert.Error(t, err)
}

func TestRenderSelection(t *testing.T) {
	cfg := config.DefaultConfig()
	r, err := Render(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, r)

	cfg.Renderer = config.RendererGoCV
	r, err = Render(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, r)

	cfg.Renderer = "svg"
	_, err = Render(&cfg)
	assert.Error(t, err)
}

func TestVisualizeUsesRenderer(t *testing.T) {
	p := New(&fakeExtractor{}, &fakeDetector{}, nil, nil)
	var got []detection.Detection
	p.Renderer = func(base image.Image, dets []detection.Detection, person bool) ([]byte, error) {
		got = dets
		assert.True(t, person)
		assert.Equal(t, image.Rect(0, 0, 16, 16), base.Bounds())
		return []byte("jpeg"), nil
	}

	dets := []detection.Detection{{Label: "person", Score: 0.5}}
	out, err := p.Visualize(&detection.Result{PersonDetected: true, Detections: dets, Frame: testFrame(t, 16, 16).DataURL()})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), out)
	assert.Equal(t, dets, got)
}

func TestONNXConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ONNX.ModelPath = "/models/detr.onnx"
	cfg.ONNX.Provider = "cuda"
	cfg.ONNX.Threads = 8
	cfg.ONNX.MaskInput = false
	cfg.ONNX.Queries = 300

	dc := ONNXConfig(&cfg)
	assert.Equal(t, "/models/detr.onnx", dc.ModelPath)
	assert.Equal(t, providers.CUDA, dc.Provider.Backend)
	assert.Equal(t, 8, dc.Provider.IntraOpThreads)
	assert.Empty(t, dc.MaskName)
	assert.Equal(t, 300, dc.Queries)
	assert.Equal(t, 800, dc.InputSize)
	assert.Equal(t, "pixel_values", dc.InputName)
}
