// Package tts binds the service to an F5-TTS / Qwen3-TTS compatible synthesis
// server. The server returns raw little-endian PCM16; callers wrap it into a
// container with internal/audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/book-expert/audio-service/internal/audio"
	"github.com/book-expert/audio-service/internal/backend"
	"github.com/book-expert/audio-service/internal/core"
)

// API endpoints and paths.
const (
	apiSpeech = "/v1/audio/speech"
)

// Response headers describing the PCM stream.
const (
	HeaderSampleRate = "X-Sample-Rate"
	HeaderChannels   = "X-Channels"
	contentTypePCM   = "audio/pcm"
	responseFormat   = "pcm"
)

// Error messages.
const (
	errTextCannotBeEmpty    = "text cannot be empty"
	errReceivedEmptyAudio   = "received empty audio data"
	errFmtSynthesisFailed   = "%w: synthesis with %s: %w"
	errFmtLoadFailed        = "failed to load synthesis model %s: %w"
	errFmtInvalidStreamInfo = "invalid %s header %q: %w"
)

// Static errors.
var (
	ErrTextEmpty  = errors.New(errTextCannotBeEmpty)
	ErrEmptyAudio = errors.New(errReceivedEmptyAudio)
)

// LoadOptions selects the checkpoint the server should load. CkptFile and
// VocabFile are only set for fine-tuned variants.
type LoadOptions struct {
	Model     string `json:"model"`
	CkptFile  string `json:"ckpt_file,omitempty"`
	VocabFile string `json:"vocab_file,omitempty"`
	Device    string `json:"device,omitempty"`
}

// SpeechRequest is the JSON payload of a synthesis call.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Language       string  `json:"language,omitempty"`
	Speaker        string  `json:"speaker,omitempty"`
	Instruct       string  `json:"instruct,omitempty"`
	RefAudio       []byte  `json:"ref_audio,omitempty"`
	RefText        string  `json:"ref_text,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	NFEStep        int     `json:"nfe_step,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// Model is a synthesis model resident on the server.
type Model struct {
	client *backend.Client
	id     string
}

var _ core.Synthesizer = (*Model)(nil)

// Load asks the server to load opts.Model and returns a handle to it.
func Load(ctx context.Context, client *backend.Client, opts LoadOptions) (*Model, error) {
	modelID, err := client.LoadModel(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf(errFmtLoadFailed, opts.Model, err)
	}

	return &Model{client: client, id: modelID}, nil
}

// Name returns the id the server assigned to the model.
func (m *Model) Name() string {
	return m.id
}

// Synthesize renders input.Text and returns the PCM stream.
func (m *Model) Synthesize(ctx context.Context, input core.SynthesisInput) (*core.PCM, error) {
	if input.Text == "" {
		return nil, ErrTextEmpty
	}

	request := SpeechRequest{
		Model:          m.id,
		Input:          input.Text,
		Language:       input.Language,
		Speaker:        input.Speaker,
		Instruct:       input.Instruct,
		RefAudio:       input.RefAudio,
		RefText:        input.RefText,
		Speed:          input.Speed,
		NFEStep:        input.Steps,
		ResponseFormat: responseFormat,
	}

	resp, err := m.client.PostJSON(ctx, apiSpeech, request, contentTypePCM)
	if err != nil {
		return nil, fmt.Errorf(errFmtSynthesisFailed, core.ErrInference, m.id, err)
	}
	defer resp.Body.Close()

	quality, err := streamQuality(resp.Header.Get(HeaderSampleRate), resp.Header.Get(HeaderChannels))
	if err != nil {
		return nil, fmt.Errorf(errFmtSynthesisFailed, core.ErrInference, m.id, err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtSynthesisFailed, core.ErrInference, m.id, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf(errFmtSynthesisFailed, core.ErrInference, m.id, ErrEmptyAudio)
	}

	return &core.PCM{Data: data, SampleRate: quality.SampleRate, Channels: quality.Channels}, nil
}

// streamQuality reads the stream headers, defaulting absent values.
func streamQuality(sampleRate, channels string) (audio.Quality, error) {
	quality := audio.NewDefaultQuality()

	if sampleRate != "" {
		parsed, err := strconv.Atoi(sampleRate)
		if err != nil {
			return quality, fmt.Errorf(errFmtInvalidStreamInfo, HeaderSampleRate, sampleRate, err)
		}

		quality.SampleRate = parsed
	}

	if channels != "" {
		parsed, err := strconv.Atoi(channels)
		if err != nil {
			return quality, fmt.Errorf(errFmtInvalidStreamInfo, HeaderChannels, channels, err)
		}

		quality.Channels = parsed
	}

	return quality, quality.Validate()
}
