// Package server exposes the audio service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/markers"
	"github.com/book-expert/audio-service/internal/metrics"
	"github.com/book-expert/audio-service/internal/service"
)

// Response header names.
const (
	HeaderContentType = "Content-Type"
	HeaderDurationMs  = "X-Duration-Ms"
	HeaderProvider    = "X-Provider"
	HeaderRequestID   = "X-Request-Id"
	HeaderSpeaker     = "X-Speaker"
	HeaderVoiceMode   = "X-Voice-Mode"

	contentTypeJSON = "application/json"
	contentTypeWAV  = "audio/wav"
)

// Defaults for Options.
const (
	DefaultAddr           = ":8100"
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 300 * time.Second
	DefaultIdleTimeout    = 120 * time.Second
	DefaultMaxUploadBytes = 64 << 20
)

const (
	logFmtRequestFailed  = "%s %s failed (%d): %v"
	logFmtListening      = "HTTP server listening on %s"
	logFmtEncodeResponse = "Failed to encode %s response: %v"
	detailFmtSynthesis   = "TTS synthesis failed: %v"
	detailFmtTranscribe  = "Transcription failed: %v"
)

// ErrServerClosed is returned by Run after a graceful shutdown.
var ErrServerClosed = http.ErrServerClosed

// Orchestrator is the part of service.Service the handlers call.
type Orchestrator interface {
	Health() service.Health
	Speakers() []string
	Transcribe(ctx context.Context, req service.TranscribeRequest) (*service.Transcription, error)
	Synthesize(ctx context.Context, req service.SynthesizeRequest) (*service.Synthesis, error)
	Analyze(message, sender string) service.MessageAnalysis
	AnalyzeConversation(messages []markers.Message) service.ConversationAnalysis
}

// Options configure the listener.
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
}

func (o *Options) applyDefaults() {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}

	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
}

// Server is the HTTP front end.
type Server struct {
	svc        Orchestrator
	log        *logger.Logger
	opts       Options
	handler    http.Handler
	httpServer *http.Server
}

// New wires the routes.
func New(svc Orchestrator, log *logger.Logger, opts Options) *Server {
	opts.applyDefaults()

	s := &Server{svc: svc, log: log, opts: opts}

	mux := http.NewServeMux()
	s.route(mux, http.MethodGet, "/health", s.handleHealth)
	s.route(mux, http.MethodGet, "/speakers", s.handleSpeakers)
	s.route(mux, http.MethodPost, "/transcribe", s.handleTranscribe)
	s.route(mux, http.MethodPost, "/synthesize", s.handleSynthesize)
	s.route(mux, http.MethodPost, "/analyze", s.handleAnalyze)
	s.route(mux, http.MethodPost, "/analyze/conversation", s.handleAnalyzeConversation)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = mux
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.log.System(logFmtListening, s.opts.Addr)

	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// route registers handler behind request-id and metrics instrumentation.
func (s *Server) route(mux *http.ServeMux, method, path string, handler http.HandlerFunc) {
	mux.HandleFunc(method+" "+path, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		recorder.Header().Set(HeaderRequestID, uuid.NewString())
		handler(recorder, r)

		metrics.RequestCount.WithLabelValues(method, path, strconv.Itoa(recorder.status)).Inc()
		metrics.RequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	if core.IsClientFault(err) {
		return http.StatusBadRequest
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// fail writes err as {"detail": ...}. Server-side failures use detailFmt.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, detailFmt string) {
	status := statusFor(err)

	detail := err.Error()
	if status != http.StatusBadRequest && detailFmt != "" {
		detail = fmt.Sprintf(detailFmt, err)
	}

	if status == http.StatusBadRequest {
		s.log.Warn(logFmtRequestFailed, r.Method, r.URL.Path, status, err)
	} else {
		s.log.Error(logFmtRequestFailed, r.Method, r.URL.Path, status, err)
	}

	s.writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(HeaderContentType, contentTypeJSON)
	w.WriteHeader(status)

	encodeErr := json.NewEncoder(w).Encode(body)
	if encodeErr != nil {
		s.log.Error(logFmtEncodeResponse, http.StatusText(status), encodeErr)
	}
}
