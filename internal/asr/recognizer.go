// Package asr binds the service to a faster-whisper compatible recognition server.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/book-expert/audio-service/internal/audio"
	"github.com/book-expert/audio-service/internal/backend"
	"github.com/book-expert/audio-service/internal/core"
)

const apiTranscriptions = "/v1/audio/transcriptions"

// Form field names.
const (
	formFieldFile                 = "file"
	formFieldModel                = "model"
	formFieldLanguage             = "language"
	formFieldResponseFormat       = "response_format"
	formFieldBeamSize             = "beam_size"
	formFieldVADFilter            = "vad_filter"
	formFieldMinSilenceDurationMs = "min_silence_duration_ms"

	responseFormatVerbose = "verbose_json"
	defaultFilename       = "audio"
)

// Error messages.
const (
	errFailedToCreateFormFile = "failed to create form file: %w"
	errFailedToCopyFileData   = "failed to copy file data: %w"
	errFailedToWriteField     = "failed to write %s field: %w"
	errFailedToCloseWriter    = "failed to close multipart writer: %w"
	errFailedToDecodeResponse = "failed to decode response: %w"
	errFmtRecognitionFailed   = "%w: recognition with %s: %w"
	errFmtLoadFailed          = "failed to load recognition model %s: %w"
)

// LoadOptions selects the checkpoint and device the server should load.
type LoadOptions struct {
	Model       string `json:"model"`
	Device      string `json:"device,omitempty"`
	DeviceIndex int    `json:"device_index"`
	ComputeType string `json:"compute_type,omitempty"`
}

type verboseResponse struct {
	Text                string         `json:"text"`
	Language            string         `json:"language"`
	LanguageProbability float64        `json:"language_probability"`
	Segments            []core.Segment `json:"segments"`
}

// Model is a recognition model resident on the server.
type Model struct {
	client *backend.Client
	id     string
}

var _ core.Recognizer = (*Model)(nil)

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

// Recognize uploads audio and returns the decoded segments.
func (m *Model) Recognize(
	ctx context.Context,
	audioData []byte,
	filename string,
	opts core.RecognitionOptions,
) (*core.Recognition, error) {
	body, contentType, err := m.buildForm(audioData, filename, opts)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Post(ctx, apiTranscriptions, contentType, body)
	if err != nil {
		return nil, fmt.Errorf(errFmtRecognitionFailed, core.ErrInference, m.id, err)
	}
	defer resp.Body.Close()

	var decoded verboseResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
	if decodeErr != nil {
		return nil, fmt.Errorf(errFmtRecognitionFailed, core.ErrInference, m.id, fmt.Errorf(errFailedToDecodeResponse, decodeErr))
	}

	// Servers that omit segments still return the full text.
	if len(decoded.Segments) == 0 && strings.TrimSpace(decoded.Text) != "" {
		decoded.Segments = []core.Segment{{Text: decoded.Text}}
	}

	return &core.Recognition{
		Segments:            decoded.Segments,
		Language:            decoded.Language,
		LanguageProbability: decoded.LanguageProbability,
	}, nil
}

func (m *Model) buildForm(audioData []byte, filename string, opts core.RecognitionOptions) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	if filename == "" {
		filename = defaultFilename + audio.Detect(audioData).Extension()
	}

	part, err := writer.CreateFormFile(formFieldFile, filename)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = part.Write(audioData)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCopyFileData, err)
	}

	fields := [][2]string{
		{formFieldModel, m.id},
		{formFieldResponseFormat, responseFormatVerbose},
		{formFieldVADFilter, strconv.FormatBool(opts.VADFilter)},
	}

	if opts.Language != "" {
		fields = append(fields, [2]string{formFieldLanguage, opts.Language})
	}

	if opts.BeamSize > 0 {
		fields = append(fields, [2]string{formFieldBeamSize, strconv.Itoa(opts.BeamSize)})
	}

	if opts.VADFilter && opts.MinSilenceDurationMs > 0 {
		fields = append(fields, [2]string{formFieldMinSilenceDurationMs, strconv.Itoa(opts.MinSilenceDurationMs)})
	}

	for _, field := range fields {
		writeErr := writer.WriteField(field[0], field[1])
		if writeErr != nil {
			return nil, "", fmt.Errorf(errFailedToWriteField, field[0], writeErr)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}
