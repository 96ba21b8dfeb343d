package detection

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/forklift-safety/common"
)

type stubBackend struct {
	payloads []any
	err      error
	delay    time.Duration
	calls    atomic.Int32
	closed   atomic.Int32
	lastOpts Options
	mu       sync.Mutex
}

func (s *stubBackend) Detect(ctx context.Context, _ image.Image, opts Options) ([]any, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastOpts = opts
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.payloads, s.err
}

func (s *stubBackend) Close() error {
	s.closed.Add(1)
	return nil
}

func loaderFor(b Backend) Loader {
	return func(context.Context) (Backend, error) { return b, nil }
}

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func payload(label string, score float64, box [4]float64) map[string]any {
	return map[string]any{
		"label": label,
		"score": score,
		"box":   map[string]any{"xmin": box[0], "ymin": box[1], "xmax": box[2], "ymax": box[3]},
	}
}

func newEngine(b Backend) *Engine {
	return NewEngine(NewModel(loaderFor(b), DefaultConfig(), nil, nil), DefaultConfig(), nil, nil)
}

func TestDetectPersonAboveThreshold(t *testing.T) {
	backend := &stubBackend{payloads: []any{
		payload("person", 0.95, [4]float64{100, 50, 300, 400}),
		payload("chair", 0.30, [4]float64{10, 10, 50, 50}),
	}}

	res, err := newEngine(backend).Detect(context.Background(), frame())
	require.NoError(t, err)

	assert.True(t, res.PersonDetected)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, Detection{
		Label: "person",
		Score: 0.95,
		Box:   common.Box{XMin: 100, YMin: 50, XMax: 300, YMax: 400},
	}, res.Detections[0])
	assert.Equal(t, Options{Threshold: ConfidenceThreshold, Percentage: false}, backend.lastOpts)
	assert.Equal(t, VerdictPerson, res.Verdict())
}

func TestDetectThresholdIsExclusive(t *testing.T) {
	backend := &stubBackend{payloads: []any{
		payload("person", 0.40, [4]float64{1, 1, 2, 2}),
	}}

	res, err := newEngine(backend).Detect(context.Background(), frame())
	require.NoError(t, err)

	assert.False(t, res.PersonDetected)
	assert.Empty(t, res.Detections)
	assert.NotNil(t, res.Detections)
	assert.Equal(t, VerdictSafe, res.Verdict())
}

func TestDetectPreservesModelOrder(t *testing.T) {
	backend := &stubBackend{payloads: []any{
		payload("forklift", 0.6, [4]float64{}),
		payload("person", 0.9, [4]float64{}),
		payload("person", 0.9, [4]float64{}),
		payload("pallet", 0.41, [4]float64{}),
	}}

	res, err := newEngine(backend).Detect(context.Background(), frame())
	require.NoError(t, err)

	var labels []string
	for _, d := range res.Detections {
		labels = append(labels, d.Label)
		assert.Greater(t, d.Score, ConfidenceThreshold)
	}
	assert.Equal(t, []string{"forklift", "person", "person", "pallet"}, labels)
}

func TestDetectIsIdempotent(t *testing.T) {
	backend := &stubBackend{payloads: []any{
		payload("person", 0.77, [4]float64{5, 6, 7, 8}),
		payload("box", 0.5, [4]float64{1, 2, 3, 4}),
	}}
	engine := newEngine(backend)

	first, err := engine.Detect(context.Background(), frame())
	require.NoError(t, err)
	second, err := engine.Detect(context.Background(), frame())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDetectRejectsNonObjectPayload(t *testing.T) {
	backend := &stubBackend{payloads: []any{payload("person", 0.9, [4]float64{}), "garbage"}}

	_, err := newEngine(backend).Detect(context.Background(), frame())
	assert.ErrorIs(t, err, common.ErrInference)
	assert.Contains(t, err.Error(), "detection 1")
}

func TestDetectBackendFailure(t *testing.T) {
	backend := &stubBackend{err: errors.New("tensor shape mismatch")}

	_, err := newEngine(backend).Detect(context.Background(), frame())
	assert.ErrorIs(t, err, common.ErrInference)
	assert.Contains(t, err.Error(), "tensor shape mismatch")
}

func TestDetectInferenceTimeout(t *testing.T) {
	backend := &stubBackend{delay: 200 * time.Millisecond}
	cfg := Config{InferenceTimeout: 20 * time.Millisecond}
	engine := NewEngine(NewModel(loaderFor(backend), cfg, nil, nil), cfg, nil, nil)

	_, err := engine.Detect(context.Background(), frame())
	assert.ErrorIs(t, err, common.ErrInference)
}

func TestDetectClampsInvertedBoxes(t *testing.T) {
	backend := &stubBackend{payloads: []any{payload("person", 0.8, [4]float64{50, 60, 20, 10})}}

	res, err := newEngine(backend).Detect(context.Background(), frame())
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)

	b := res.Detections[0].Box
	assert.Equal(t, common.Box{XMin: 50, YMin: 60, XMax: 50, YMax: 60}, b)
}

func TestModelLoadFailureResetsState(t *testing.T) {
	backend := &stubBackend{}
	var attempts atomic.Int32
	load := func(context.Context) (Backend, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("weights unreachable")
		}
		return backend, nil
	}
	model := NewModel(load, DefaultConfig(), nil, nil)
	engine := NewEngine(model, DefaultConfig(), nil, nil)

	_, err := engine.Detect(context.Background(), frame())
	assert.ErrorIs(t, err, common.ErrModelLoad)
	assert.False(t, model.Loaded())

	_, err = engine.Detect(context.Background(), frame())
	require.NoError(t, err)
	assert.True(t, model.Loaded())
	assert.Equal(t, int32(2), attempts.Load())
}

func TestModelConcurrentAcquireSharesOneLoad(t *testing.T) {
	backend := &stubBackend{}
	var attempts atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (Backend, error) {
		attempts.Add(1)
		<-release
		return backend, nil
	}
	model := NewModel(load, DefaultConfig(), nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	got := make([]Backend, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := model.Acquire(context.Background())
			assert.NoError(t, err)
			got[i] = b
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), attempts.Load())
	for _, b := range got {
		assert.Same(t, backend, b)
	}
}

func TestModelConcurrentAcquireSharesFailure(t *testing.T) {
	release := make(chan struct{})
	var attempts atomic.Int32
	load := func(context.Context) (Backend, error) {
		attempts.Add(1)
		<-release
		return nil, errors.New("out of memory")
	}
	model := NewModel(load, DefaultConfig(), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := model.Acquire(context.Background())
			assert.ErrorIs(t, err, common.ErrModelLoad)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), attempts.Load())
	assert.False(t, model.Loaded())
}

func TestModelLoadTimeout(t *testing.T) {
	backend := &stubBackend{}
	load := func(context.Context) (Backend, error) {
		time.Sleep(100 * time.Millisecond)
		return backend, nil
	}
	model := NewModel(load, Config{LoadTimeout: 10 * time.Millisecond}, nil, nil)

	_, err := model.Acquire(context.Background())
	assert.ErrorIs(t, err, common.ErrModelLoad)
	assert.False(t, model.Loaded())
	assert.Eventually(t, func() bool { return backend.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestModelClose(t *testing.T) {
	backend := &stubBackend{}
	model := NewModel(loaderFor(backend), DefaultConfig(), nil, nil)

	require.NoError(t, model.Close())

	_, err := model.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, model.Close())
	assert.Equal(t, int32(1), backend.closed.Load())
	assert.False(t, model.Loaded())
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Result{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"personDetected":false,"detections":[]}`, string(data))

	data, err = json.Marshal(Result{
		PersonDetected: true,
		Detections:     []Detection{{Label: "person", Score: 0.5, Box: common.Box{XMin: 1, YMin: 2, XMax: 3, YMax: 4}}},
		Frame:          "data:image/jpeg;base64,AA==",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"personDetected": true,
		"detections": [{"label":"person","score":0.5,"box":{"xmin":1,"ymin":2,"xmax":3,"ymax":4}}],
		"frame": "data:image/jpeg;base64,AA=="
	}`, string(data))
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "person 87%", Detection{Label: "person", Score: 0.874}.Caption())
	assert.Equal(t, "chair 41%", Detection{Label: "chair", Score: 0.406}.Caption())
	assert.Equal(t, " 100%", Detection{Score: 1}.Caption())
}

// overlapBackend records the peak number of concurrent Detect calls.
type overlapBackend struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (o *overlapBackend) Detect(ctx context.Context, _ image.Image, _ Options) ([]any, error) {
	n := o.active.Add(1)
	defer o.active.Add(-1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return []any{payload("person", 0.9, [4]float64{1, 1, 10, 10})}, nil
}

func (o *overlapBackend) Close() error { return nil }

func TestDetectSerializesInferenceAcrossEngines(t *testing.T) {
	backend := &overlapBackend{}
	model := NewModel(loaderFor(backend), DefaultConfig(), nil, nil)
	engines := []*Engine{
		NewEngine(model, DefaultConfig(), nil, nil),
		NewEngine(model, DefaultConfig(), nil, nil),
	}

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engines[i%len(engines)].Detect(context.Background(), frame())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), backend.peak.Load(), "backend calls must never overlap")
}

func TestModelLoadErrorWithTypedNilBackend(t *testing.T) {
	model := NewModel(func(context.Context) (Backend, error) {
		var b *stubBackend
		return b, errors.New("model file missing")
	}, DefaultConfig(), nil, nil)

	assert.NotPanics(t, func() {
		_, err := model.Acquire(context.Background())
		assert.ErrorIs(t, err, common.ErrModelLoad)
	})
	assert.False(t, model.Loaded())
}
