// Package worker provides a NATS worker that turns processed text pages into audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audio-service/internal/core"
	"github.com/book-expert/audio-service/internal/service"
)

const defaultJobTimeout = 5 * time.Minute

var (
	// ErrTextKeyEmpty indicates that the event names no text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrWorkflowIDEmpty indicates that the event header carries no workflow id.
	ErrWorkflowIDEmpty = errors.New("workflow id cannot be empty")
	// ErrPageRange indicates a page number outside [0, total].
	ErrPageRange = errors.New("page number out of range")
	// ErrDownloadedTextEmpty indicates that the text object holds no text.
	ErrDownloadedTextEmpty = errors.New("downloaded text is empty")
)

// Synthesizer is the part of service.Service the worker calls.
type Synthesizer interface {
	Synthesize(ctx context.Context, req service.SynthesizeRequest) (*service.Synthesis, error)
}

// Config names the subjects and tunes the worker.
type Config struct {
	Subject      string
	ReplySubject string
	Language     string
	JobTimeout   time.Duration
}

// NatsWorker listens for TextProcessedEvents and replies with AudioChunkCreatedEvents.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	synthesizer    Synthesizer
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	synthesizer Synthesizer,
	log *logger.Logger,
) *NatsWorker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		textStore:      textStore,
		audioStore:     audioStore,
		synthesizer:    synthesizer,
		log:            log,
	}
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.cfg.Subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.System("Worker listening on %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(parent context.Context, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.cfg.JobTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process job for workflow %s page %d: %v",
			event.Header.WorkflowID, event.PageNumber, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	w.log.Info("Workflow %s page %d/%d synthesized to %s",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages, audioKey)
}

// processJob downloads the text, synthesizes it and uploads the WAV.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text := strings.TrimSpace(string(textData))
	if text == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrDownloadedTextEmpty, event.TextKey)
	}

	result, err := w.synthesizer.Synthesize(ctx, service.SynthesizeRequest{
		Text:     text,
		Speaker:  event.Voice,
		Language: w.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text: %w", err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.audioStore.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

// publishReplyEvent responds to the request, or publishes on the reply subject
// when the message expects no response.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
	} else {
		err = w.natsConnection.Publish(w.cfg.ReplySubject, replyData)
	}

	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseAndValidateEvent(data []byte) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.Header.WorkflowID == "" {
		return nil, ErrWorkflowIDEmpty
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if event.PageNumber < 0 || (event.TotalPages > 0 && event.PageNumber > event.TotalPages) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageRange, event.PageNumber, event.TotalPages)
	}

	return &event, nil
}
