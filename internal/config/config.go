// Package config provides the configuration structure for the audio-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/audio-service/internal/models"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr                 = ":8100"
	DefaultReadTimeoutSeconds   = 60
	DefaultWriteTimeoutSeconds  = 300
	DefaultMaxUploadMB          = 64
	DefaultInferenceSlots       = 1
	DefaultBackendTimeoutSecs   = 600
	DefaultASRModel             = "cstr/whisper-large-v3-turbo-german-int8_float32"
	DefaultASRDevice            = "cuda"
	DefaultASRComputeType       = "int8"
	DefaultBeamSize             = 5
	DefaultMinSilenceDurationMs = 500
	DefaultTTSModel             = "F5TTS_v1_Base"
	DefaultTTSDevice            = "cuda"
	DefaultLanguage             = "de"
	DefaultPresetModel          = "Qwen/Qwen3-TTS-12Hz-1.7B-CustomVoice"
	DefaultVoicesDir            = "voices"
	DefaultVoicesPrefix         = "selina"
	DefaultTextSubject          = "text.processed"
	DefaultAudioSubject         = "audio.chunk.created"
	DefaultTextBucket           = "TEXT_FILES"
	DefaultAudioBucket          = "AUDIO_FILES"
	DefaultJobTimeoutSeconds    = 300
)

// Validation errors.
var (
	ErrMissingBaseURL   = errors.New("base_url is required")
	ErrMissingModel     = errors.New("model is required")
	ErrInvalidPolicy    = errors.New("policy must be \"eager\" or \"lazy\"")
	ErrMissingLanguage  = errors.New("variant language is required")
	ErrDuplicateVariant = errors.New("duplicate variant language")
	ErrReservedVariant  = errors.New("variant language is reserved")
	ErrInvalidRange     = errors.New("value out of range")
	ErrMissingNATSURL   = errors.New("nats.url is required when nats is enabled")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr                string `toml:"addr"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
	MaxUploadMB         int    `toml:"max_upload_mb"`
	InferenceSlots      int    `toml:"inference_slots"`
}

// ASRConfig holds the recognition backend and decoding settings.
type ASRConfig struct {
	BaseURL              string `toml:"base_url"`
	Model                string `toml:"model"`
	Device               string `toml:"device"`
	DeviceIndex          int    `toml:"device_index"`
	ComputeType          string `toml:"compute_type"`
	Policy               string `toml:"policy"`
	Language             string `toml:"language"`
	BeamSize             int    `toml:"beam_size"`
	VADFilter            *bool  `toml:"vad_filter"`
	MinSilenceDurationMs int    `toml:"min_silence_duration_ms"`
	Provider             string `toml:"provider"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
}

// VariantConfig is a language-specialized cloning checkpoint.
type VariantConfig struct {
	Language  string `toml:"language"`
	Model     string `toml:"model"`
	CkptFile  string `toml:"ckpt_file"`
	VocabFile string `toml:"vocab_file"`
	Policy    string `toml:"policy"`
	// FallbackToBase aliases the variant to the base model when it fails to load.
	FallbackToBase *bool `toml:"fallback_to_base"`
}

// PresetConfig holds the preset-speaker synthesis model.
type PresetConfig struct {
	// Enabled defaults to true.
	Enabled        *bool    `toml:"enabled"`
	BaseURL        string   `toml:"base_url"`
	Model          string   `toml:"model"`
	Policy         string   `toml:"policy"`
	Provider       string   `toml:"provider"`
	Speakers       []string `toml:"speakers"`
	DefaultSpeaker string   `toml:"default_speaker"`
}

// TTSConfig holds the cloning synthesis backend and its variants.
type TTSConfig struct {
	BaseURL         string          `toml:"base_url"`
	Model           string          `toml:"model"`
	CkptFile        string          `toml:"ckpt_file"`
	VocabFile       string          `toml:"vocab_file"`
	Device          string          `toml:"device"`
	Policy          string          `toml:"policy"`
	DefaultLanguage string          `toml:"default_language"`
	Provider        string          `toml:"provider"`
	TimeoutSeconds  int             `toml:"timeout_seconds"`
	Variants        []VariantConfig `toml:"variants"`
	Preset          PresetConfig    `toml:"preset"`
}

// VoicesConfig locates default cloning references.
type VoicesConfig struct {
	Dir    string `toml:"dir"`
	Prefix string `toml:"prefix"`
}

// MarkersConfig locates marker definitions. An empty dir selects the built-in set.
type MarkersConfig struct {
	Dir string `toml:"dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	JobTimeoutSeconds        int    `toml:"job_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	ASR     ASRConfig     `toml:"asr"`
	TTS     TTSConfig     `toml:"tts"`
	Voices  VoicesConfig  `toml:"voices"`
	Markers MarkersConfig `toml:"markers"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the audio-service through the configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from an explicit TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	c.Server.Addr = orDefault(c.Server.Addr, DefaultAddr)
	c.Server.ReadTimeoutSeconds = orDefaultInt(c.Server.ReadTimeoutSeconds, DefaultReadTimeoutSeconds)
	c.Server.WriteTimeoutSeconds = orDefaultInt(c.Server.WriteTimeoutSeconds, DefaultWriteTimeoutSeconds)
	c.Server.MaxUploadMB = orDefaultInt(c.Server.MaxUploadMB, DefaultMaxUploadMB)
	c.Server.InferenceSlots = orDefaultInt(c.Server.InferenceSlots, DefaultInferenceSlots)

	c.ASR.Model = orDefault(c.ASR.Model, DefaultASRModel)
	c.ASR.Device = orDefault(c.ASR.Device, DefaultASRDevice)
	c.ASR.ComputeType = orDefault(c.ASR.ComputeType, DefaultASRComputeType)
	c.ASR.Policy = orDefault(c.ASR.Policy, models.Eager.String())
	c.ASR.BeamSize = orDefaultInt(c.ASR.BeamSize, DefaultBeamSize)
	c.ASR.MinSilenceDurationMs = orDefaultInt(c.ASR.MinSilenceDurationMs, DefaultMinSilenceDurationMs)
	c.ASR.TimeoutSeconds = orDefaultInt(c.ASR.TimeoutSeconds, DefaultBackendTimeoutSecs)

	if c.ASR.VADFilter == nil {
		enabled := true
		c.ASR.VADFilter = &enabled
	}

	c.TTS.Model = orDefault(c.TTS.Model, DefaultTTSModel)
	c.TTS.Device = orDefault(c.TTS.Device, DefaultTTSDevice)
	c.TTS.Policy = orDefault(c.TTS.Policy, models.Lazy.String())
	c.TTS.DefaultLanguage = orDefault(c.TTS.DefaultLanguage, DefaultLanguage)
	c.TTS.TimeoutSeconds = orDefaultInt(c.TTS.TimeoutSeconds, DefaultBackendTimeoutSecs)

	for i := range c.TTS.Variants {
		variant := &c.TTS.Variants[i]
		variant.Language = strings.ToLower(strings.TrimSpace(variant.Language))
		variant.Model = orDefault(variant.Model, c.TTS.Model)
		variant.Policy = orDefault(variant.Policy, models.Lazy.String())

		if variant.FallbackToBase == nil {
			fallback := true
			variant.FallbackToBase = &fallback
		}
	}

	if c.TTS.Preset.Enabled == nil {
		enabled := true
		c.TTS.Preset.Enabled = &enabled
	}

	c.TTS.Preset.BaseURL = orDefault(c.TTS.Preset.BaseURL, c.TTS.BaseURL)
	c.TTS.Preset.Model = orDefault(c.TTS.Preset.Model, DefaultPresetModel)
	c.TTS.Preset.Policy = orDefault(c.TTS.Preset.Policy, models.Lazy.String())

	c.Voices.Dir = orDefault(c.Voices.Dir, DefaultVoicesDir)
	c.Voices.Prefix = orDefault(c.Voices.Prefix, DefaultVoicesPrefix)

	c.NATS.TextProcessedSubject = orDefault(c.NATS.TextProcessedSubject, DefaultTextSubject)
	c.NATS.AudioChunkCreatedSubject = orDefault(c.NATS.AudioChunkCreatedSubject, DefaultAudioSubject)
	c.NATS.TextObjectStoreBucket = orDefault(c.NATS.TextObjectStoreBucket, DefaultTextBucket)
	c.NATS.AudioObjectStoreBucket = orDefault(c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	c.NATS.JobTimeoutSeconds = orDefaultInt(c.NATS.JobTimeoutSeconds, DefaultJobTimeoutSeconds)

	c.Paths.BaseLogsDir = orDefault(c.Paths.BaseLogsDir, os.TempDir())
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.ASR.BaseURL == "" {
		return fmt.Errorf("asr: %w", ErrMissingBaseURL)
	}

	if c.TTS.BaseURL == "" {
		return fmt.Errorf("tts: %w", ErrMissingBaseURL)
	}

	if c.Server.InferenceSlots < 1 {
		return fmt.Errorf("server.inference_slots: %w: %d", ErrInvalidRange, c.Server.InferenceSlots)
	}

	if c.ASR.BeamSize < 1 {
		return fmt.Errorf("asr.beam_size: %w: %d", ErrInvalidRange, c.ASR.BeamSize)
	}

	policies := map[string]string{
		"asr.policy":        c.ASR.Policy,
		"tts.policy":        c.TTS.Policy,
		"tts.preset.policy": c.TTS.Preset.Policy,
	}

	for field, value := range policies {
		_, policyErr := models.ParsePolicy(value)
		if policyErr != nil {
			return fmt.Errorf("%s: %w: %q", field, ErrInvalidPolicy, value)
		}
	}

	if c.TTS.Preset.IsEnabled() && c.TTS.Preset.Model == "" {
		return fmt.Errorf("tts.preset: %w", ErrMissingModel)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrMissingNATSURL
	}

	return c.validateVariants()
}

func (c *Config) validateVariants() error {
	seen := make(map[string]struct{}, len(c.TTS.Variants))

	for i, variant := range c.TTS.Variants {
		if variant.Language == "" {
			return fmt.Errorf("tts.variants[%d]: %w", i, ErrMissingLanguage)
		}

		if variant.Language == "preset" {
			return fmt.Errorf("tts.variants[%d]: %w: %s", i, ErrReservedVariant, variant.Language)
		}

		if _, dup := seen[variant.Language]; dup {
			return fmt.Errorf("tts.variants[%d]: %w: %s", i, ErrDuplicateVariant, variant.Language)
		}

		seen[variant.Language] = struct{}{}

		_, policyErr := models.ParsePolicy(variant.Policy)
		if policyErr != nil {
			return fmt.Errorf("tts.variants[%d].policy: %w: %q", i, ErrInvalidPolicy, variant.Policy)
		}
	}

	return nil
}

// ReadTimeout returns the HTTP read timeout.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// JobTimeout returns the per-job deadline for the NATS worker.
func (n NATSConfig) JobTimeout() time.Duration {
	return time.Duration(n.JobTimeoutSeconds) * time.Second
}

// IsEnabled reports whether preset-speaker synthesis is served. Unset means enabled.
func (p PresetConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func orDefaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}

	return value
}
