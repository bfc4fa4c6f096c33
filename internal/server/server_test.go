package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/emotion"
	"github.com/book-expert/audio-service/internal/markers"
	"github.com/book-expert/audio-service/internal/server"
	"github.com/book-expert/audio-service/internal/service"
)

var errMockBackend = errors.New("backend exploded")

type mockOrchestrator struct {
	lastTranscribe service.TranscribeRequest
	lastSynthesize service.SynthesizeRequest
	lastMessages   []markers.Message
	synthesizeErr  error
	transcribeErr  error
}

func (m *mockOrchestrator) Health() service.Health {
	return service.Health{Status: "healthy", Models: map[string]bool{"asr": true, "tts": false}}
}

func (m *mockOrchestrator) Speakers() []string { return []string{"Serena", "Ryan"} }

func (m *mockOrchestrator) Transcribe(_ context.Context, req service.TranscribeRequest) (*service.Transcription, error) {
	m.lastTranscribe = req

	if m.transcribeErr != nil {
		return nil, m.transcribeErr
	}

	if len(req.Audio) == 0 {
		return nil, core.ClientInputError("empty audio file")
	}

	return &service.Transcription{
		Text: "Hallo Welt", Language: "de", LanguageProbability: 0.987,
		Duration: 1500 * time.Millisecond, Provider: "whisper",
	}, nil
}

func (m *mockOrchestrator) Synthesize(_ context.Context, req service.SynthesizeRequest) (*service.Synthesis, error) {
	m.lastSynthesize = req

	if m.synthesizeErr != nil {
		return nil, m.synthesizeErr
	}

	return &service.Synthesis{
		Audio: []byte("RIFFwav"), Duration: 250 * time.Millisecond, Provider: "qwen3-tts",
		Mode: service.ModePreset, Speaker: "Serena",
	}, nil
}

func (m *mockOrchestrator) Analyze(message, sender string) service.MessageAnalysis {
	return service.MessageAnalysis{From: sender, Result: emotion.ResolveNames([]string{"ATO_POSITIVE"}, nil)}
}

func (m *mockOrchestrator) AnalyzeConversation(messages []markers.Message) service.ConversationAnalysis {
	m.lastMessages = messages

	analysis := service.ConversationAnalysis{Clusters: []markers.Cluster{}}
	for i, message := range messages {
		analysis.Messages = append(analysis.Messages, service.MessageAnalysis{
			Index: i, From: message.From, Result: emotion.ResolveNames(nil, nil),
		})
	}

	return analysis
}

func newServer(t *testing.T) (*server.Server, *mockOrchestrator) {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	orchestrator := &mockOrchestrator{}

	return server.New(orchestrator, testLogger, server.Options{}), orchestrator
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}

	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, filename)
		require.NoError(t, err)

		_, err = part.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func serve(srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)

	return recorder
}

func decodeDetail(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Detail string `json:"detail"`
	}

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	return body.Detail
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	recorder := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"healthy","models":{"asr":true,"tts":false}}`, recorder.Body.String())
	assert.NotEmpty(t, recorder.Header().Get(server.HeaderRequestID))
}

func TestHealth_RejectsWrongMethod(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	recorder := serve(srv, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestSpeakers(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	recorder := serve(srv, httptest.NewRequest(http.MethodGet, "/speakers", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"speakers":["Serena","Ryan"]}`, recorder.Body.String())
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	srv, orchestrator := newServer(t)

	body, contentType := multipartBody(t, map[string]string{"language": "de"}, "file", "clip.wav", []byte("RIFF"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	recorder := serve(srv, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t,
		`{"text":"Hallo Welt","language":"de","language_probability":0.987,"duration_ms":1500,"provider":"whisper"}`,
		recorder.Body.String())
	assert.Equal(t, "clip.wav", orchestrator.lastTranscribe.Filename)
	assert.Equal(t, "de", orchestrator.lastTranscribe.Language)
}

func TestTranscribe_EmptyUploadIsBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	body, contentType := multipartBody(t, nil, "file", "empty.wav", nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	recorder := serve(srv, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, decodeDetail(t, recorder), "empty audio file")
}

func TestTranscribe_MissingUploadIsBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	body, contentType := multipartBody(t, map[string]string{"language": "de"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	recorder := serve(srv, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, decodeDetail(t, recorder), `missing "file" upload`)
}

func TestSynthesize_URLEncoded(t *testing.T) {
	t.Parallel()

	srv, orchestrator := newServer(t)

	form := url.Values{
		"text": {"Hallo"}, "speaker": {"Ryan"}, "language": {"de"},
		"emotion": {"happy"}, "speed": {"1.5"}, "nfe_step": {"16"},
	}
	req := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	recorder := serve(srv, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "audio/wav", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "250", recorder.Header().Get(server.HeaderDurationMs))
	assert.Equal(t, "qwen3-tts", recorder.Header().Get(server.HeaderProvider))
	assert.Equal(t, "Serena", recorder.Header().Get(server.HeaderSpeaker))
	assert.Equal(t, "RIFFwav", recorder.Body.String())

	got := orchestrator.lastSynthesize
	assert.Equal(t, "Ryan", got.Speaker)
	assert.Equal(t, "happy", got.Emotion)
	assert.InDelta(t, 1.5, got.Speed, 1e-9)
	assert.Equal(t, 16, got.Steps)
	assert.Nil(t, got.RefAudio)
}

func TestSynthesize_MultipartReferenceUpload(t *testing.T) {
	t.Parallel()

	srv, orchestrator := newServer(t)

	body, contentType := multipartBody(t,
		map[string]string{"text": "Hallo", "clone": "true", "ref_text": "Referenz"},
		"ref_audio", "me.wav", []byte("voice"))
	req := httptest.NewRequest(http.MethodPost, "/synthesize", body)
	req.Header.Set("Content-Type", contentType)

	recorder := serve(srv, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	got := orchestrator.lastSynthesize
	assert.True(t, got.Clone)
	assert.Equal(t, []byte("voice"), got.RefAudio)
	assert.Equal(t, "me.wav", got.RefFilename)
	assert.Equal(t, "Referenz", got.RefText)
}

func TestSynthesize_BadKnobIsBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	form := url.Values{"text": {"Hallo"}, "speed": {"fast"}}
	req := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	recorder := serve(srv, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, decodeDetail(t, recorder), `invalid speed "fast"`)
}

func TestSynthesize_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		detail string
	}{
		{core.ResourceUnavailableError("no reference audio available"), http.StatusBadRequest, "no reference audio available"},
		{fmt.Errorf("%w: %w", core.ErrModelLoad, errMockBackend), http.StatusInternalServerError, "TTS synthesis failed: "},
		{fmt.Errorf("%w: %w", core.ErrInference, errMockBackend), http.StatusInternalServerError, "backend exploded"},
	}

	for _, tc := range cases {
		srv, orchestrator := newServer(t)
		orchestrator.synthesizeErr = tc.err

		form := url.Values{"text": {"Hallo"}}
		req := httptest.NewRequest(http.MethodPost, "/synthesize", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		recorder := serve(srv, req)
		assert.Equal(t, tc.status, recorder.Code, tc.err.Error())
		assert.Contains(t, decodeDetail(t, recorder), tc.detail)
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"text":"great","sender":"bob"}`))
	recorder := serve(srv, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.Equal(t, "happy", result["emotion"])
	assert.Equal(t, "bob", result["from"])
	assert.Equal(t, []any{"ATO_POSITIVE"}, result["atos"])
	assert.Contains(t, result, "tts_instruct")
	assert.Contains(t, result, "avatar")
}

func TestAnalyze_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	recorder := serve(srv, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAnalyzeConversation(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	payload := `{"messages":[{"text":"hi","from":"a","timestamp":"2025-01-01T10:00:00Z"},{"text":"yo","from":"b","timestamp":"2025-01-01T10:00:05Z"}]}`
	recorder := serve(srv, httptest.NewRequest(http.MethodPost, "/analyze/conversation", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, recorder.Code)

	var result service.ConversationAnalysis
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "b", result.Messages[1].From)
	assert.Equal(t, emotion.Neutral, result.Messages[1].Emotion)
}

func TestAnalyzeConversation_AcceptsAnyTimestamp(t *testing.T) {
	t.Parallel()

	srv, orchestrator := newServer(t)

	payload := `{"messages":[{"text":"hi","from":"a","timestamp":"gestern 10:00"},{"text":"yo","from":"b","timestamp":""},{"text":"ok","from":"c"}]}`
	recorder := serve(srv, httptest.NewRequest(http.MethodPost, "/analyze/conversation", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, recorder.Code)

	require.Len(t, orchestrator.lastMessages, 3)
	assert.Equal(t, "gestern 10:00", orchestrator.lastMessages[0].Timestamp)
	assert.Empty(t, orchestrator.lastMessages[1].Timestamp)
	assert.Empty(t, orchestrator.lastMessages[2].Timestamp)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	recorder := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "audio_service_requests_total")
}
