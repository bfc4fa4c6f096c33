package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/book-expert/audio-service/internal/audio"
	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/emotion"
	"github.com/book-expert/audio-service/internal/models"
	"github.com/book-expert/audio-service/internal/tts/text"
	"github.com/book-expert/audio-service/internal/voices"
)

// Synthesis modes.
const (
	ModePreset = "preset"
	ModeClone  = "clone"
)

const (
	errEmptyText          = "empty text"
	errFmtSpeedRange      = "speed must be between %.2f and %.2f, got %.2f"
	errFmtStepsRange      = "nfe_step must be between %d and %d, got %d"
	errFmtUnknownEmotion  = "unknown emotion %q"
	errFmtInvalidLanguage = "invalid language %q"
	errFmtRefAudioType    = "unsupported ref_audio file %q"
	logFmtSpeakerCoerced  = "Unknown speaker %q, using %s."
	logFmtTranscribingRef = "Reference transcript missing, transcribing %d bytes of reference audio."
	errFmtEncodeAudio     = "%w: failed to encode audio: %w"
)

// languageCodePattern matches a base ISO 639 language code.
var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}$`)

// SynthesizeRequest is one synthesis call.
type SynthesizeRequest struct {
	Text     string
	Speaker  string
	Language string
	Instruct string
	// Emotion, when Instruct is empty, selects the voice instruction.
	Emotion string
	// Clone selects reference-voice cloning even without uploaded reference audio.
	Clone    bool
	RefAudio []byte
	// RefFilename is the client-side name of RefAudio, when known.
	RefFilename string
	RefText     string
	Speed       float64
	Steps       int
}

// Synthesis is the result of a synthesis call.
type Synthesis struct {
	Audio         []byte
	Duration      time.Duration
	AudioDuration time.Duration
	Provider      string
	Mode          string
	Speaker       string
	Variant       string
	Instruct      string
	Model         string
}

type synthesisPlan struct {
	key      models.Key
	mode     string
	provider string
	input    core.SynthesisInput
}

// Synthesize renders text to WAV. All validation and reference resolution
// happens before a synthesis model is acquired.
func (s *Service) Synthesize(ctx context.Context, req SynthesizeRequest) (*Synthesis, error) {
	start := time.Now()

	plan, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	handle, err := s.models.Acquire(ctx, plan.key)
	if err != nil {
		return nil, err
	}

	synthesizer, ok := handle.(core.Synthesizer)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a synthesizer", ErrWrongModelRole, handle.Name())
	}

	var pcm *core.PCM

	err = s.invoke(ctx, models.RoleSynthesis, func() error {
		var synthErr error

		pcm, synthErr = synthesizer.Synthesize(ctx, plan.input)

		return synthErr
	})
	if err != nil {
		return nil, err
	}

	quality := audio.Quality{SampleRate: pcm.SampleRate, BitDepth: audio.DefaultBitDepth, Channels: pcm.Channels}

	wav, err := audio.EncodeWAV(pcm.Data, quality)
	if err != nil {
		return nil, fmt.Errorf(errFmtEncodeAudio, core.ErrInference, err)
	}

	return &Synthesis{
		Audio:         wav,
		Duration:      time.Since(start),
		AudioDuration: quality.Duration(len(pcm.Data)),
		Provider:      plan.provider,
		Mode:          plan.mode,
		Speaker:       plan.input.Speaker,
		Variant:       plan.key.Variant,
		Instruct:      plan.input.Instruct,
		Model:         handle.Name(),
	}, nil
}

// plan validates req and decides which model serves it and with which input.
func (s *Service) plan(ctx context.Context, req SynthesizeRequest) (synthesisPlan, error) {
	if strings.TrimSpace(req.Text) == "" {
		return synthesisPlan{}, core.ClientInputError(errEmptyText)
	}

	speed, steps, err := knobs(req.Speed, req.Steps)
	if err != nil {
		return synthesisPlan{}, err
	}

	instruct, err := instruction(req.Instruct, req.Emotion)
	if err != nil {
		return synthesisPlan{}, err
	}

	language := text.BaseLanguage(req.Language)
	if language == "" {
		language = text.BaseLanguage(s.opts.DefaultLanguage)
	}

	if !languageCodePattern.MatchString(language) {
		return synthesisPlan{}, core.ClientInputError(fmt.Sprintf(errFmtInvalidLanguage, req.Language))
	}

	normalized := s.normalizer.Normalize(req.Text, language)
	if normalized == "" {
		return synthesisPlan{}, core.ClientInputError(errEmptyText)
	}

	input := core.SynthesisInput{
		Text:     normalized,
		Language: language,
		Instruct: instruct,
		Speed:    speed,
		Steps:    steps,
	}

	if s.presetMode(req) {
		speaker, coerced := s.speakers.Resolve(req.Speaker)
		if coerced && req.Speaker != "" {
			s.log.Warn(logFmtSpeakerCoerced, req.Speaker, speaker)
		}

		input.Speaker = speaker

		return synthesisPlan{
			key:      models.Key{Role: models.RoleSynthesis, Variant: VariantPreset},
			mode:     ModePreset,
			provider: s.opts.PresetProvider,
			input:    input,
		}, nil
	}

	refAudio, refText, err := s.reference(ctx, req, language)
	if err != nil {
		return synthesisPlan{}, err
	}

	input.RefAudio = refAudio
	input.RefText = refText

	return synthesisPlan{
		key:      s.cloneKey(language),
		mode:     ModeClone,
		provider: s.opts.CloneProvider,
		input:    input,
	}, nil
}

func (s *Service) presetMode(req SynthesizeRequest) bool {
	if req.Clone || len(req.RefAudio) > 0 {
		return false
	}

	return s.opts.PresetEnabled
}

// cloneKey selects the language variant when one is registered, else the base model.
func (s *Service) cloneKey(language string) models.Key {
	variant := models.Key{Role: models.RoleSynthesis, Variant: language}
	if s.models.Registered(variant) {
		return variant
	}

	return models.Key{Role: models.RoleSynthesis}
}

// reference resolves the cloning reference: uploaded audio first, then the
// default recording for language. A missing transcript is produced by the
// recognition model.
func (s *Service) reference(ctx context.Context, req SynthesizeRequest, language string) ([]byte, string, error) {
	refAudio := req.RefAudio
	refText := strings.TrimSpace(req.RefText)

	if len(refAudio) > 0 && req.RefFilename != "" && !voices.IsValidAudioFile(req.RefFilename) {
		return nil, "", core.ClientInputError(fmt.Sprintf(errFmtRefAudioType, req.RefFilename))
	}

	if len(refAudio) == 0 {
		assetAudio, assetText, err := s.references.Load(language)
		if err != nil {
			return nil, "", err
		}

		refAudio = assetAudio

		if refText == "" {
			refText = assetText
		}
	}

	if refText != "" {
		return refAudio, refText, nil
	}

	s.log.Info(logFmtTranscribingRef, len(refAudio))

	transcription, err := s.Transcribe(ctx, TranscribeRequest{Audio: refAudio, Language: language})
	if err != nil {
		return nil, "", fmt.Errorf("failed to transcribe reference audio: %w", err)
	}

	return refAudio, transcription.Text, nil
}

func knobs(speed float64, steps int) (float64, int, error) {
	if speed == 0 {
		speed = DefaultSpeed
	}

	if speed < MinSpeed || speed > MaxSpeed {
		return 0, 0, core.ClientInputError(fmt.Sprintf(errFmtSpeedRange, MinSpeed, MaxSpeed, speed))
	}

	if steps == 0 {
		steps = DefaultSteps
	}

	if steps < MinSteps || steps > MaxSteps {
		return 0, 0, core.ClientInputError(fmt.Sprintf(errFmtStepsRange, MinSteps, MaxSteps, steps))
	}

	return speed, steps, nil
}

func instruction(instruct, label string) (string, error) {
	instruct = strings.TrimSpace(instruct)
	if instruct != "" || strings.TrimSpace(label) == "" {
		return instruct, nil
	}

	parsed, ok := emotion.Parse(label)
	if !ok {
		return "", core.ClientInputError(fmt.Sprintf(errFmtUnknownEmotion, label))
	}

	return emotion.VoiceInstructionFor(parsed), nil
}
