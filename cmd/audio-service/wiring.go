package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/audio-service/internal/asr"
	"github.com/book-expert/audio-service/internal/backend"
	"github.com/book-expert/audio-service/internal/config"
	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/models"
	"github.com/book-expert/audio-service/internal/objectstore"
	"github.com/book-expert/audio-service/internal/service"
	"github.com/book-expert/audio-service/internal/tts"
	"github.com/book-expert/audio-service/internal/worker"
)

// registerModels declares every model key with its load policy. The German
// and other language variants fall back to the base cloning model.
func registerModels(manager *models.Manager, cfg *config.Config) error {
	asrClient, err := backend.NewClient(cfg.ASR.BaseURL, seconds(cfg.ASR.TimeoutSeconds))
	if err != nil {
		return fmt.Errorf("asr backend: %w", err)
	}

	ttsClient, err := backend.NewClient(cfg.TTS.BaseURL, seconds(cfg.TTS.TimeoutSeconds))
	if err != nil {
		return fmt.Errorf("tts backend: %w", err)
	}

	asrOpts := asr.LoadOptions{
		Model:       cfg.ASR.Model,
		Device:      cfg.ASR.Device,
		DeviceIndex: cfg.ASR.DeviceIndex,
		ComputeType: cfg.ASR.ComputeType,
	}

	specs := []models.Spec{{
		Key:    models.Key{Role: models.RoleRecognition},
		Policy: policyOf(cfg.ASR.Policy),
		Construct: func(ctx context.Context) (core.Model, error) {
			model, loadErr := asr.Load(ctx, asrClient, asrOpts)
			if loadErr != nil {
				return nil, loadErr
			}

			return model, nil
		},
	}}

	baseKey := models.Key{Role: models.RoleSynthesis}
	specs = append(specs, models.Spec{
		Key:    baseKey,
		Policy: policyOf(cfg.TTS.Policy),
		Construct: synthesisConstructor(ttsClient, tts.LoadOptions{
			Model:     cfg.TTS.Model,
			CkptFile:  cfg.TTS.CkptFile,
			VocabFile: cfg.TTS.VocabFile,
			Device:    cfg.TTS.Device,
		}),
	})

	for _, variant := range cfg.TTS.Variants {
		spec := models.Spec{
			Key:    models.Key{Role: models.RoleSynthesis, Variant: variant.Language},
			Policy: policyOf(variant.Policy),
			Construct: synthesisConstructor(ttsClient, tts.LoadOptions{
				Model:     variant.Model,
				CkptFile:  variant.CkptFile,
				VocabFile: variant.VocabFile,
				Device:    cfg.TTS.Device,
			}),
		}

		if *variant.FallbackToBase {
			fallback := baseKey
			spec.Fallback = &fallback
		}

		specs = append(specs, spec)
	}

	if cfg.TTS.Preset.IsEnabled() {
		presetClient, presetErr := backend.NewClient(cfg.TTS.Preset.BaseURL, seconds(cfg.TTS.TimeoutSeconds))
		if presetErr != nil {
			return fmt.Errorf("preset backend: %w", presetErr)
		}

		specs = append(specs, models.Spec{
			Key:    models.Key{Role: models.RoleSynthesis, Variant: service.VariantPreset},
			Policy: policyOf(cfg.TTS.Preset.Policy),
			Construct: synthesisConstructor(presetClient, tts.LoadOptions{
				Model:  cfg.TTS.Preset.Model,
				Device: cfg.TTS.Device,
			}),
		})
	}

	for _, spec := range specs {
		registerErr := manager.Register(spec)
		if registerErr != nil {
			return fmt.Errorf("failed to register model %s: %w", spec.Key, registerErr)
		}
	}

	return nil
}

func synthesisConstructor(client *backend.Client, opts tts.LoadOptions) models.ConstructFunc {
	return func(ctx context.Context) (core.Model, error) {
		model, err := tts.Load(ctx, client, opts)
		if err != nil {
			return nil, err
		}

		return model, nil
	}
}

// policyOf parses a policy that config.Validate already checked. An invalid
// value yields the unset policy, which Register rejects.
func policyOf(value string) models.Policy {
	policy, _ := models.ParsePolicy(value)

	return policy
}

// startWorker connects to NATS and runs the job worker until ctx is done.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	svc *service.Service,
	log *logger.Logger,
	errChan chan<- error,
) (func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	textStore, err := objectstore.New(ctx, js, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	audioStore, err := objectstore.New(ctx, js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	jobWorker := worker.NewNatsWorker(natsConnection, worker.Config{
		Subject:      cfg.NATS.TextProcessedSubject,
		ReplySubject: cfg.NATS.AudioChunkCreatedSubject,
		Language:     cfg.TTS.DefaultLanguage,
		JobTimeout:   cfg.NATS.JobTimeout(),
	}, textStore, audioStore, svc, log)

	go func() {
		runErr := jobWorker.Run(ctx)
		if runErr != nil {
			errChan <- runErr
		}
	}()

	return natsConnection.Close, nil
}

// probeBackends checks that every configured inference backend answers its
// health endpoint. Unreachable backends are reported together.
func probeBackends(ctx context.Context, cfg *config.Config) error {
	baseURLs := []string{cfg.ASR.BaseURL, cfg.TTS.BaseURL}
	if cfg.TTS.Preset.IsEnabled() {
		baseURLs = append(baseURLs, cfg.TTS.Preset.BaseURL)
	}

	seen := make(map[string]struct{}, len(baseURLs))

	var probeErrs []error

	for _, baseURL := range baseURLs {
		if _, done := seen[baseURL]; done {
			continue
		}

		seen[baseURL] = struct{}{}

		client, err := backend.NewClient(baseURL, backendProbeTimeout)
		if err != nil {
			probeErrs = append(probeErrs, err)

			continue
		}

		healthErr := client.HealthCheck(ctx)
		if healthErr != nil {
			probeErrs = append(probeErrs, healthErr)
		}
	}

	return errors.Join(probeErrs...)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
