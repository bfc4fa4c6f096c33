// Package service binds requests to models: it validates input, picks the
// model key, serializes inference and shapes the results returned by the HTTP
// server and the NATS worker.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/markers"
	"github.com/book-expert/audio-service/internal/metrics"
	"github.com/book-expert/audio-service/internal/models"
	"github.com/book-expert/audio-service/internal/tts/text"
	"github.com/book-expert/audio-service/internal/voices"
)

// Defaults for recognition and synthesis.
const (
	DefaultLanguage             = "de"
	DefaultBeamSize             = 5
	DefaultMinSilenceDurationMs = 500
	DefaultSpeed                = 1.0
	MinSpeed                    = 0.25
	MaxSpeed                    = 4.0
	DefaultSteps                = 32
	MinSteps                    = 1
	MaxSteps                    = 128

	DefaultRecognitionProvider = "faster-whisper-german-v3-turbo"
	DefaultPresetProvider      = "qwen3-tts"
	DefaultCloneProvider       = "f5-tts"

	// VariantPreset keys the preset-speaker synthesis model.
	VariantPreset = "preset"

	languageProbabilityPrecision = 1000
)

// Static errors.
var (
	ErrMissingDependency = errors.New("service dependency is nil")
	ErrWrongModelRole    = errors.New("model handle does not implement the requested role")
)

// ModelManager is the part of models.Manager the service depends on.
type ModelManager interface {
	Acquire(ctx context.Context, key models.Key) (core.Model, error)
	Reserve(ctx context.Context, role models.Role) (func(), error)
	Registered(key models.Key) bool
	Status() map[string]bool
}

// MarkerAnalyzer is the marker pipeline, including conversation scope.
type MarkerAnalyzer interface {
	markers.Source
	AnalyzeConversation(messages []markers.Message) markers.ConversationMarkers
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Models     ModelManager
	Markers    MarkerAnalyzer
	Speakers   *voices.Catalog
	References *voices.Library
	Normalizer *text.Normalizer
	Log        *logger.Logger
}

// Options tune recognition and synthesis.
type Options struct {
	DefaultLanguage      string
	BeamSize             int
	VADFilter            bool
	MinSilenceDurationMs int

	// PresetEnabled routes requests without cloning inputs to the preset model.
	PresetEnabled bool

	RecognitionProvider string
	PresetProvider      string
	CloneProvider       string
}

// DefaultOptions mirrors the decoding parameters the service has always used.
func DefaultOptions() Options {
	return Options{
		DefaultLanguage:      DefaultLanguage,
		BeamSize:             DefaultBeamSize,
		VADFilter:            true,
		MinSilenceDurationMs: DefaultMinSilenceDurationMs,
		PresetEnabled:        true,
		RecognitionProvider:  DefaultRecognitionProvider,
		PresetProvider:       DefaultPresetProvider,
		CloneProvider:        DefaultCloneProvider,
	}
}

// Service orchestrates transcription, synthesis and marker analysis.
type Service struct {
	models     ModelManager
	markers    MarkerAnalyzer
	speakers   *voices.Catalog
	references *voices.Library
	normalizer *text.Normalizer
	log        *logger.Logger
	opts       Options
}

// New validates the dependencies and returns a Service.
func New(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Models == nil:
		return nil, fmt.Errorf("%w: models", ErrMissingDependency)
	case deps.Markers == nil:
		return nil, fmt.Errorf("%w: markers", ErrMissingDependency)
	case deps.Speakers == nil:
		return nil, fmt.Errorf("%w: speakers", ErrMissingDependency)
	case deps.References == nil:
		return nil, fmt.Errorf("%w: references", ErrMissingDependency)
	case deps.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	if deps.Normalizer == nil {
		deps.Normalizer = text.NewNormalizer()
	}

	defaults := DefaultOptions()
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = defaults.DefaultLanguage
	}

	if opts.RecognitionProvider == "" {
		opts.RecognitionProvider = defaults.RecognitionProvider
	}

	if opts.PresetProvider == "" {
		opts.PresetProvider = defaults.PresetProvider
	}

	if opts.CloneProvider == "" {
		opts.CloneProvider = defaults.CloneProvider
	}

	return &Service{
		models:     deps.Models,
		markers:    deps.Markers,
		speakers:   deps.Speakers,
		references: deps.References,
		normalizer: deps.Normalizer,
		log:        deps.Log,
		opts:       opts,
	}, nil
}

// Health reports which models currently hold a handle. It never loads anything.
type Health struct {
	Status string          `json:"status"`
	Models map[string]bool `json:"models"`
}

// Health returns the service status.
func (s *Service) Health() Health {
	return Health{Status: "healthy", Models: s.models.Status()}
}

// Speakers lists the preset speakers.
func (s *Service) Speakers() []string {
	return s.speakers.Speakers()
}

// invoke reserves an inference slot for role, runs call and records its latency.
func (s *Service) invoke(ctx context.Context, role models.Role, call func() error) error {
	release, err := s.models.Reserve(ctx, role)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	callErr := call()
	metrics.InferenceLatency.WithLabelValues(string(role)).Observe(time.Since(start).Seconds())

	return callErr
}
