package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/markers"
	"github.com/book-expert/audio-service/internal/service"
)

// Form fields.
const (
	fieldFile     = "file"
	fieldLanguage = "language"
	fieldText     = "text"
	fieldSpeaker  = "speaker"
	fieldInstruct = "instruct"
	fieldEmotion  = "emotion"
	fieldClone    = "clone"
	fieldRefAudio = "ref_audio"
	fieldRefText  = "ref_text"
	fieldSpeed    = "speed"
	fieldNFEStep  = "nfe_step"
)

const (
	errFmtParseForm   = "invalid form: %v"
	errFmtMissingFile = "missing %q upload"
	errFmtReadUpload  = "failed to read %q upload: %v"
	errFmtBadField    = "invalid %s %q"
	errFmtDecodeJSON  = "invalid JSON body: %v"
)

type transcribeResponse struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	DurationMs          int64   `json:"duration_ms"`
	Provider            string  `json:"provider"`
}

type speakersResponse struct {
	Speakers []string `json:"speakers"`
}

type analyzeRequest struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type conversationRequest struct {
	Messages []markers.Message `json:"messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, speakersResponse{Speakers: s.svc.Speakers()})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	parseErr := s.parseForm(w, r)
	if parseErr != nil {
		s.fail(w, r, parseErr, "")

		return
	}

	data, filename, err := readUpload(r, fieldFile)
	if err != nil {
		s.fail(w, r, err, "")

		return
	}

	if data == nil {
		s.fail(w, r, core.ClientInputError(fmt.Sprintf(errFmtMissingFile, fieldFile)), "")

		return
	}

	result, err := s.svc.Transcribe(r.Context(), service.TranscribeRequest{
		Audio:    data,
		Filename: filename,
		Language: strings.TrimSpace(r.FormValue(fieldLanguage)),
	})
	if err != nil {
		s.fail(w, r, err, detailFmtTranscribe)

		return
	}

	s.writeJSON(w, http.StatusOK, transcribeResponse{
		Text:                result.Text,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		DurationMs:          result.Duration.Milliseconds(),
		Provider:            result.Provider,
	})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	parseErr := s.parseForm(w, r)
	if parseErr != nil {
		s.fail(w, r, parseErr, "")

		return
	}

	req, err := synthesizeRequestFrom(r)
	if err != nil {
		s.fail(w, r, err, "")

		return
	}

	result, err := s.svc.Synthesize(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, detailFmtSynthesis)

		return
	}

	header := w.Header()
	header.Set(HeaderContentType, contentTypeWAV)
	header.Set(HeaderDurationMs, strconv.FormatInt(result.Duration.Milliseconds(), 10))
	header.Set(HeaderProvider, result.Provider)
	header.Set(HeaderVoiceMode, result.Mode)

	if result.Speaker != "" {
		header.Set(HeaderSpeaker, result.Speaker)
	}

	w.WriteHeader(http.StatusOK)

	_, writeErr := w.Write(result.Audio)
	if writeErr != nil {
		s.log.Warn("Failed to write synthesized audio: %v", writeErr)
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest

	decodeErr := s.decodeJSON(w, r, &req)
	if decodeErr != nil {
		s.fail(w, r, decodeErr, "")

		return
	}

	s.writeJSON(w, http.StatusOK, s.svc.Analyze(req.Text, req.Sender))
}

func (s *Server) handleAnalyzeConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest

	decodeErr := s.decodeJSON(w, r, &req)
	if decodeErr != nil {
		s.fail(w, r, decodeErr, "")

		return
	}

	s.writeJSON(w, http.StatusOK, s.svc.AnalyzeConversation(req.Messages))
}

// parseForm accepts multipart and urlencoded bodies up to MaxUploadBytes.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	err := r.ParseMultipartForm(s.opts.MaxUploadBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return core.ClientInputError(fmt.Sprintf(errFmtParseForm, err))
	}

	return nil
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil {
		return core.ClientInputError(fmt.Sprintf(errFmtDecodeJSON, err))
	}

	return nil
}

// readUpload returns the named upload, or nil data when the field is absent.
func readUpload(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, "", nil
	}

	if err != nil {
		return nil, "", core.ClientInputError(fmt.Sprintf(errFmtReadUpload, field, err))
	}

	defer func(f multipart.File) { _ = f.Close() }(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", core.ClientInputError(fmt.Sprintf(errFmtReadUpload, field, err))
	}

	if data == nil {
		data = []byte{}
	}

	return data, header.Filename, nil
}

func synthesizeRequestFrom(r *http.Request) (service.SynthesizeRequest, error) {
	req := service.SynthesizeRequest{
		Text:     r.FormValue(fieldText),
		Speaker:  strings.TrimSpace(r.FormValue(fieldSpeaker)),
		Language: strings.TrimSpace(r.FormValue(fieldLanguage)),
		Instruct: r.FormValue(fieldInstruct),
		Emotion:  strings.TrimSpace(r.FormValue(fieldEmotion)),
		RefText:  r.FormValue(fieldRefText),
	}

	if raw := strings.TrimSpace(r.FormValue(fieldClone)); raw != "" {
		clone, err := strconv.ParseBool(raw)
		if err != nil {
			return req, core.ClientInputError(fmt.Sprintf(errFmtBadField, fieldClone, raw))
		}

		req.Clone = clone
	}

	if raw := strings.TrimSpace(r.FormValue(fieldSpeed)); raw != "" {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, core.ClientInputError(fmt.Sprintf(errFmtBadField, fieldSpeed, raw))
		}

		req.Speed = speed
	}

	if raw := strings.TrimSpace(r.FormValue(fieldNFEStep)); raw != "" {
		steps, err := strconv.Atoi(raw)
		if err != nil {
			return req, core.ClientInputError(fmt.Sprintf(errFmtBadField, fieldNFEStep, raw))
		}

		req.Steps = steps
	}

	refAudio, refFilename, err := readUpload(r, fieldRefAudio)
	if err != nil {
		return req, err
	}

	if len(refAudio) > 0 {
		req.RefAudio = refAudio
		req.RefFilename = refFilename
	}

	return req, nil
}
