// Package server - HTTP surface for first-frame forklift safety analysis.
package server

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/common"
	"github.com/nvr-ai/forklift-safety/detection"
	"github.com/nvr-ai/forklift-safety/metrics"
	"github.com/nvr-ai/forklift-safety/util"
)

// Header names set on responses.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderPersonDetected = "X-Person-Detected"
	HeaderDetectionCount = "X-Detection-Count"
)

// uploadField is the multipart field carrying the video.
const uploadField = "video"

// Analyzer runs the safety pipeline.
type Analyzer interface {
	AnalyzeVideo(ctx context.Context, path string) (*detection.Result, error)
	Visualize(result *detection.Result) ([]byte, error)
}

// Config configures the HTTP handlers.
type Config struct {
	// MaxUploadBytes caps the accepted video size.
	MaxUploadBytes int64
	// TempDir receives spooled uploads; empty uses os.TempDir.
	TempDir string
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Server routes analysis requests to an Analyzer.
type Server struct {
	analyzer Analyzer
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	router   *mux.Router
}

// New creates a server and registers its routes.
//
// Arguments:
//   - analyzer: The pipeline.
//   - config: Upload limits.
//   - logger: The logger; nil disables logging.
//   - m: The collectors served on /metrics; nil serves no metrics route.
//
// Returns:
//   - *Server: The server; use Handler to mount it.
//
// @example
// srv := server.New(p, server.Config{MaxUploadBytes: 256 << 20}, logger, m)
// http.ListenAndServe(":8080", srv.Handler())
func New(analyzer Analyzer, config Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 256 << 20
	}
	s := &Server{
		analyzer: analyzer,
		config:   config,
		logger:   logger,
		metrics:  m,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID)

	s.router.HandleFunc("/v1/analyze", s.handleAnalyze).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/analyze/render", s.handleRender).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type requestIDKey struct{}

// requestID tags each request with an id, reusing a client-supplied one.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	result, ok := s.analyze(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warn("failed to write response", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
	}
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	result, ok := s.analyze(w, r)
	if !ok {
		return
	}
	jpeg, err := s.analyzer.Visualize(result)
	if err != nil {
		s.sendError(w, r, "render_error", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set(HeaderPersonDetected, strconv.FormatBool(result.PersonDetected))
	w.Header().Set(HeaderDetectionCount, strconv.Itoa(len(result.Detections)))
	_, _ = w.Write(jpeg)
}

// analyze spools the uploaded video and runs the pipeline on it. It writes the
// error response itself and reports false on failure.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) (*detection.Result, bool) {
	start := time.Now()
	id := requestIDFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, r, "upload_too_large", err.Error(), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		s.sendError(w, r, "invalid_request", "multipart field \"video\" is required", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	if !isVideo(header.Header.Get("Content-Type"), header.Filename) {
		s.sendError(w, r, "unsupported_media_type", "upload is not a video", http.StatusUnsupportedMediaType)
		return nil, false
	}

	path, cleanup, err := util.SpoolUpload(file, s.config.TempDir, header.Filename, s.config.MaxUploadBytes)
	if err != nil {
		s.sendError(w, r, "invalid_request", err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer cleanup()

	result, err := s.analyzer.AnalyzeVideo(r.Context(), path)
	if err != nil {
		code, status := classify(err)
		s.sendError(w, r, code, err.Error(), status)
		return nil, false
	}

	s.logger.Info("analysis served",
		zap.String("request_id", id),
		zap.String("filename", header.Filename),
		zap.Int64("bytes", header.Size),
		zap.Bool("person_detected", result.PersonDetected),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, true
}

// isVideo accepts a video/* content type, falling back to the file extension
// when the client sent a generic type.
func isVideo(contentType, filename string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "video/") {
		return true
	}
	if contentType == "" || mediaType == "application/octet-stream" {
		return util.IsVideoFile(filename)
	}
	return false
}

// classify maps a pipeline error to its response code and HTTP status.
func classify(err error) (string, int) {
	switch kind := common.KindOf(err); kind {
	case common.KindDecode:
		return string(kind), http.StatusUnprocessableEntity
	case common.KindTimeout:
		return string(kind), http.StatusGatewayTimeout
	case common.KindModelLoad:
		return string(kind), http.StatusServiceUnavailable
	case common.KindInference:
		return string(kind), http.StatusInternalServerError
	default:
		return "internal_error", http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	id := requestIDFrom(r.Context())
	s.logger.Warn("request failed",
		zap.String("request_id", id),
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.Int("status", status),
		zap.String("message", message),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message, RequestID: id})
}
