package detection

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/metrics"
)

// Config holds the engine timeouts.
type Config struct {
	// LoadTimeout bounds model initialization.
	LoadTimeout time.Duration `json:"load_timeout" yaml:"load_timeout"`
	// InferenceTimeout bounds one Detect call, including the wait for the model.
	InferenceTimeout time.Duration `json:"inference_timeout" yaml:"inference_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		LoadTimeout:      2 * time.Minute,
		InferenceTimeout: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = d.InferenceTimeout
	}
	return c
}

// Model is the process-wide handle to a lazily loaded Backend.
//
// The first Acquire starts the load. Callers arriving while it runs wait for
// the same attempt and share its outcome. A failed attempt leaves the handle
// unloaded so the next Acquire starts over.
type Model struct {
	load    Loader
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	backend  Backend
	inflight *loadCall

	// slot serializes Backend.Detect across every Engine sharing the model.
	// It is released by the call itself, so a timed-out inference still
	// blocks the next one until the backend returns.
	slot chan struct{}
}

type loadCall struct {
	done    chan struct{}
	backend Backend
	err     error
}

// NewModel creates an unloaded handle around load.
//
// Arguments:
//   - load: The backend initializer.
//   - config: LoadTimeout bounds each attempt.
//   - logger: The logger; nil disables logging.
//   - m: The collectors; nil disables metrics.
//
// Returns:
//   - *Model: The handle. Nothing is loaded until the first Acquire.
func NewModel(load Loader, config Config, logger *zap.Logger, m *metrics.Metrics) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		load:    load,
		config:  config.withDefaults(),
		logger:  logger,
		metrics: m,
		slot:    make(chan struct{}, 1),
	}
}

// Acquire returns the loaded backend, loading it on first use.
//
// Arguments:
//   - ctx: Bounds how long this caller waits; it does not cancel a shared load.
//
// Returns:
//   - Backend: The ready backend.
//   - error: A common.KindModelLoad error when loading fails or times out.
func (m *Model) Acquire(ctx context.Context) (Backend, error) {
	m.mu.Lock()
	if m.backend != nil {
		b := m.backend
		m.mu.Unlock()
		return b, nil
	}
	call := m.inflight
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		m.inflight = call
		go m.run(call)
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.backend, call.err
	case <-ctx.Done():
		return nil, common.ModelLoadError("load model", ctx.Err())
	}
}

// Loaded reports whether a backend is ready.
func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend != nil
}

// Close tears down the loaded backend and returns the handle to unloaded.
// A load already in flight is not cancelled.
func (m *Model) Close() error {
	m.mu.Lock()
	b := m.backend
	m.backend = nil
	m.mu.Unlock()

	if b == nil {
		return nil
	}
	m.logger.Info("detection model released")
	return b.Close()
}

func (m *Model) run(call *loadCall) {
	start := time.Now()
	backend, err := m.invoke()
	elapsed := time.Since(start)

	m.mu.Lock()
	m.inflight = nil
	if err != nil {
		call.err = common.ModelLoadError("load model", err)
	} else {
		m.backend = backend
		call.backend = backend
	}
	m.mu.Unlock()
	close(call.done)

	m.metrics.RecordModelLoad(elapsed, err)
	if err != nil {
		m.logger.Error("detection model failed to load", zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	m.logger.Info("detection model loaded", zap.Duration("elapsed", elapsed))
}

// invoke runs the loader under LoadTimeout. A backend that arrives after the
// deadline is closed.
func (m *Model) invoke() (Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.LoadTimeout)
	defer cancel()

	type loaded struct {
		backend Backend
		err     error
	}
	ch := make(chan loaded, 1)
	go func() {
		b, err := m.load(ctx)
		ch <- loaded{backend: b, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.backend == nil {
			return nil, errors.New("loader returned no backend")
		}
		return r.backend, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.backend != nil {
				_ = r.backend.Close()
			}
		}()
		return nil, errors.Errorf("model load exceeded %s", m.config.LoadTimeout)
	}
}
