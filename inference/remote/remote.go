// Package remote - Detection backend served by an HTTP inference server.
//
// The server receives the frame as a JPEG body and answers with a JSON array
// of {"label", "score", "box": {"xmin", "ymin", "xmax", "ymax"}} objects.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/images"
)

// MaxResponseBytes caps the detect response body read into memory.
const MaxResponseBytes = 8 << 20

// Config configures the remote backend.
type Config struct {
	// URL is the detect endpoint.
	URL string `json:"url" yaml:"url"`
	// HealthURL is probed when the backend loads; empty skips the probe.
	HealthURL string `json:"health_url" yaml:"health_url"`
	// Timeout bounds each HTTP request.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// JPEGQuality is the quality of the uploaded frame.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// Backend calls a remote detector. It implements detection.Backend.
type Backend struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// New creates a backend and probes HealthURL if set.
//
// Arguments:
//   - ctx: Bounds the health probe.
//   - config: The endpoint configuration.
//   - logger: The logger; nil disables logging.
//
// Returns:
//   - *Backend: The backend.
//   - error: An error if the URL is invalid or the server is not healthy.
func New(ctx context.Context, config Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := url.ParseRequestURI(config.URL); err != nil {
		return nil, errors.Wrap(err, "invalid detector url")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = images.DefaultJPEGQuality
	}

	b := &Backend{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}

	if config.HealthURL != "" {
		if err := b.probe(ctx); err != nil {
			return nil, err
		}
	}
	logger.Info("remote detector ready", zap.String("url", config.URL))
	return b, nil
}

// Loader returns a detection.Loader that builds a remote Backend.
func Loader(config Config, logger *zap.Logger) detection.Loader {
	return func(ctx context.Context) (detection.Backend, error) {
		b, err := New(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (b *Backend) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.HealthURL, nil)
	if err != nil {
		return errors.Wrap(err, "build health request")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "detector health probe")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector unhealthy: %s", resp.Status)
	}
	return nil
}

// Detect uploads the frame and decodes the server's detections.
//
// Arguments:
//   - ctx: Cancels the request.
//   - img: The frame.
//   - opts: Sent as the threshold and percentage query parameters.
//
// Returns:
//   - []any: The decoded JSON array elements, numbers as json.Number.
//   - error: An error on transport failure, non-200 status, a non-array body
//     or a body larger than MaxResponseBytes.
func (b *Backend) Detect(ctx context.Context, img image.Image, opts detection.Options) ([]any, error) {
	var body bytes.Buffer
	if err := imaging.Encode(&body, img, imaging.JPEG, imaging.JPEGQuality(b.config.JPEGQuality)); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}

	u, err := url.Parse(b.config.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse detector url")
	}
	q := u.Query()
	q.Set("threshold", strconv.FormatFloat(opts.Threshold, 'f', -1, 64))
	q.Set("percentage", strconv.FormatBool(opts.Percentage))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, errors.Wrap(err, "build detect request")
	}
	req.Header.Set("Content-Type", images.FormatJPEG.MIMEType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "detect request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseBytes))
	dec.UseNumber()
	var payloads []any
	if err := dec.Decode(&payloads); err != nil {
		return nil, errors.Wrap(err, "decode detector response")
	}
	if payloads == nil {
		payloads = []any{}
	}

	b.logger.Debug("remote inference complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("detections", len(payloads)),
	)
	return payloads, nil
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
