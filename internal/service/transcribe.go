package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/book-expert/audio-service/internal/audio"
	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/models"
)

const (
	errEmptyAudio            = "empty audio file"
	logFmtUnknownAudioFormat = "Unrecognized audio container (%d bytes, filename %q); forwarding unchanged."
)

// TranscribeRequest is one recognition call.
type TranscribeRequest struct {
	Audio    []byte
	Filename string
	// Language is an optional hint; empty lets the model detect it.
	Language string
}

// Transcription is the result of a recognition call.
type Transcription struct {
	Text                string         `json:"text"`
	Language            string         `json:"language"`
	LanguageProbability float64        `json:"language_probability"`
	Segments            []core.Segment `json:"segments,omitempty"`
	Format              audio.Format   `json:"format,omitempty"`
	Duration            time.Duration  `json:"-"`
	Provider            string         `json:"provider"`
}

// Transcribe turns audio into text. Empty audio is rejected before any model
// is acquired.
func (s *Service) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error) {
	if len(req.Audio) == 0 {
		return nil, core.ClientInputError(errEmptyAudio)
	}

	format := audio.Detect(req.Audio)
	if format == audio.FormatUnknown {
		s.log.Warn(logFmtUnknownAudioFormat, len(req.Audio), req.Filename)
	}

	start := time.Now()

	handle, err := s.models.Acquire(ctx, models.Key{Role: models.RoleRecognition})
	if err != nil {
		return nil, err
	}

	recognizer, ok := handle.(core.Recognizer)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a recognizer", ErrWrongModelRole, handle.Name())
	}

	opts := core.RecognitionOptions{
		Language:             req.Language,
		BeamSize:             s.opts.BeamSize,
		VADFilter:            s.opts.VADFilter,
		MinSilenceDurationMs: s.opts.MinSilenceDurationMs,
	}

	var recognition *core.Recognition

	err = s.invoke(ctx, models.RoleRecognition, func() error {
		var recognizeErr error

		recognition, recognizeErr = recognizer.Recognize(ctx, req.Audio, req.Filename, opts)

		return recognizeErr
	})
	if err != nil {
		return nil, err
	}

	return &Transcription{
		Text:                JoinSegments(recognition.Segments),
		Language:            recognition.Language,
		LanguageProbability: roundProbability(recognition.LanguageProbability),
		Segments:            recognition.Segments,
		Format:              format,
		Duration:            time.Since(start),
		Provider:            s.opts.RecognitionProvider,
	}, nil
}

// JoinSegments trims every segment and joins the non-empty ones with single spaces.
func JoinSegments(segments []core.Segment) string {
	parts := make([]string, 0, len(segments))

	for _, segment := range segments {
		trimmed := strings.TrimSpace(segment.Text)
		if trimmed == "" {
			continue
		}

		parts = append(parts, trimmed)
	}

	return strings.Join(parts, " ")
}

func roundProbability(probability float64) float64 {
	return math.Round(probability*languageProbabilityPrecision) / languageProbabilityPrecision
}
