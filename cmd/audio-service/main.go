// main package for the audio-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audio-service/internal/config"
	"github.com/book-expert/audio-service/internal/markers"
	"github.com/book-expert/audio-service/internal/models"
	"github.com/book-expert/audio-service/internal/server"
	"github.com/book-expert/audio-service/internal/service"
	"github.com/book-expert/audio-service/internal/tts/text"
	"github.com/book-expert/audio-service/internal/voices"
)

const (
	bootstrapLogFile = "audio-service-bootstrap.log"
	serviceLogFile   = "audio-service.log"
	shutdownTimeout  = 30 * time.Second

	backendProbeTimeout = 5 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	pipeline, err := markers.Load(cfg.Markers.Dir)
	if err != nil {
		return fmt.Errorf("failed to load marker definitions: %w", err)
	}

	atomicCount, composedCount, clusterCount := pipeline.Counts()
	log.Info("Marker definitions loaded: %d atomic, %d composed, %d clusters.", atomicCount, composedCount, clusterCount)

	manager := models.NewManager(log, models.WithInferenceSlots(cfg.Server.InferenceSlots))

	err = registerModels(manager, cfg)
	if err != nil {
		return err
	}

	probeErr := probeBackends(ctx, cfg)
	if probeErr != nil {
		log.Warn("Inference backend check failed: %v", probeErr)
	}

	// Eager failures are retried on first use, so they do not stop startup.
	warmErr := manager.Warm(ctx)
	if warmErr != nil {
		log.Warn("Model warm-up incomplete: %v", warmErr)
	}

	svc, err := newService(cfg, manager, pipeline, log)
	if err != nil {
		return err
	}

	httpServer := server.New(svc, log, server.Options{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout(),
		WriteTimeout:   cfg.Server.WriteTimeout(),
		MaxUploadBytes: cfg.Server.MaxUploadBytes(),
	})

	errChan := make(chan error, 2)

	go func() {
		errChan <- httpServer.Run()
	}()

	if cfg.NATS.Enabled {
		closeWorker, workerErr := startWorker(ctx, cfg, svc, log, errChan)
		if workerErr != nil {
			shutdownServer(httpServer, log)

			return workerErr
		}
		defer closeWorker()
	}

	log.System("Audio-Service successfully initialized. Listening on %s.", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		log.System("Shutdown requested.")
	case runErr := <-errChan:
		if runErr != nil && !errors.Is(runErr, server.ErrServerClosed) {
			shutdownServer(httpServer, log)

			return fmt.Errorf("service stopped: %w", runErr)
		}
	}

	shutdownServer(httpServer, log)

	return nil
}

func newService(
	cfg *config.Config,
	manager *models.Manager,
	pipeline *markers.Pipeline,
	log *logger.Logger,
) (*service.Service, error) {
	catalog, err := voices.NewCatalog(cfg.TTS.Preset.Speakers, cfg.TTS.Preset.DefaultSpeaker)
	if err != nil {
		return nil, fmt.Errorf("invalid preset speakers: %w", err)
	}

	opts := service.DefaultOptions()
	opts.DefaultLanguage = cfg.TTS.DefaultLanguage
	opts.BeamSize = cfg.ASR.BeamSize
	opts.VADFilter = *cfg.ASR.VADFilter
	opts.MinSilenceDurationMs = cfg.ASR.MinSilenceDurationMs
	opts.PresetEnabled = cfg.TTS.Preset.IsEnabled()
	opts.RecognitionProvider = cfg.ASR.Provider
	opts.PresetProvider = cfg.TTS.Preset.Provider
	opts.CloneProvider = cfg.TTS.Provider

	svc, err := service.New(service.Dependencies{
		Models:     manager,
		Markers:    pipeline,
		Speakers:   catalog,
		References: voices.NewLibrary(cfg.Voices.Dir, cfg.Voices.Prefix),
		Normalizer: text.NewNormalizer(),
		Log:        log,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return svc, nil
}

func shutdownServer(httpServer *server.Server, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := httpServer.Shutdown(ctx)
	if shutdownErr != nil {
		log.Error("HTTP server shutdown failed: %v", shutdownErr)
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
