// Package worker_test tests the NATS worker for the audio service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-service/internal/service"
	"github.com/book-expert/audio-service/internal/worker"
)

const (
	testSubject      = "text.processed"
	testReplySubject = "audio.chunk.created"
)

var (
	errMockDownload   = errors.New("mock download error")
	errMockSynthesize = errors.New("mock synthesize error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	content            []byte
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return m.content, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

func (m *mockObjectStore) snapshot() (downloaded, uploaded string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey, m.uploadedKey, m.uploadedData
}

// mockSynthesizer records the last request.
type mockSynthesizer struct {
	mu         sync.Mutex
	shouldFail bool
	last       service.SynthesizeRequest
}

func (m *mockSynthesizer) Synthesize(_ context.Context, req service.SynthesizeRequest) (*service.Synthesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return nil, errMockSynthesize
	}

	m.last = req

	return &service.Synthesis{Audio: []byte("sample audio")}, nil
}

func (m *mockSynthesizer) lastRequest() service.SynthesizeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

type harness struct {
	textStore      *mockObjectStore
	audioStore     *mockObjectStore
	synthesizer    *mockSynthesizer
	natsConnection *nats.Conn
	cancel         context.CancelFunc
	errChan        chan error
}

func setupTest(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		textStore:      &mockObjectStore{content: []byte("  Seite eins.  ")},
		audioStore:     &mockObjectStore{},
		synthesizer:    &mockSynthesizer{},
		natsConnection: createTestNatsClient(t),
		errChan:        make(chan error, 1),
	}

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance := worker.NewNatsWorker(h.natsConnection, worker.Config{
		Subject:      testSubject,
		ReplySubject: testReplySubject,
		Language:     "de",
		JobTimeout:   5 * time.Second,
	}, h.textStore, h.audioStore, h.synthesizer, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		h.errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(cancel)

	return h
}

func newEvent() *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		TextKey:    "test-text-key",
		PageNumber: 3,
		TotalPages: 10,
		Voice:      "Ryan",
	}
}

// request retries until the worker's subscription is live.
func request(t *testing.T, natsConnection *nats.Conn, payload []byte) *nats.Msg {
	t.Helper()

	var reply *nats.Msg

	require.Eventually(t, func() bool {
		msg, err := natsConnection.Request(testSubject, payload, time.Second)
		if err != nil {
			return false
		}

		reply = msg

		return true
	}, 10*time.Second, 50*time.Millisecond)

	return reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	h := setupTest(t)

	testEvent := newEvent()
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg := request(t, h.natsConnection, eventData)

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	downloaded, _, _ := h.textStore.snapshot()
	_, uploadedKey, uploadedData := h.audioStore.snapshot()

	assert.Equal(t, "test-text-key", downloaded)
	assert.Equal(t, "Seite eins.", h.synthesizer.lastRequest().Text)
	assert.Equal(t, "Ryan", h.synthesizer.lastRequest().Speaker)
	assert.Equal(t, "de", h.synthesizer.lastRequest().Language)
	assert.NotEmpty(t, uploadedKey, "An audio key should have been generated and uploaded")
	assert.Equal(t, []byte("sample audio"), uploadedData)

	assert.Equal(t, uploadedKey, replyEvent.AudioKey)
	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.EqualValues(t, 3, replyEvent.PageNumber)
	assert.EqualValues(t, 10, replyEvent.TotalPages)

	h.cancel()

	shutdownErr := <-h.errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_PublishesWhenNoReplyInbox(t *testing.T) {
	t.Parallel()

	h := setupTest(t)

	sub, err := h.natsConnection.SubscribeSync(testReplySubject)
	require.NoError(t, err)

	eventData, err := json.Marshal(newEvent())
	require.NoError(t, err)

	// The first request confirms the worker is subscribed.
	request(t, h.natsConnection, eventData)

	_, err = sub.NextMsg(time.Second)
	require.ErrorIs(t, err, nats.ErrTimeout, "requests are answered on the inbox, not the reply subject")

	require.NoError(t, h.natsConnection.Publish(testSubject, eventData))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &replyEvent))
	assert.NotEmpty(t, replyEvent.AudioKey)
}

func TestMessageHandler_FailuresSendNoReply(t *testing.T) {
	t.Parallel()

	cases := map[string]func(h *harness, event *events.TextProcessedEvent){
		"download fails": func(h *harness, _ *events.TextProcessedEvent) {
			h.textStore.mu.Lock()
			h.textStore.downloadShouldFail = true
			h.textStore.mu.Unlock()
		},
		"synthesis fails": func(h *harness, _ *events.TextProcessedEvent) {
			h.synthesizer.mu.Lock()
			h.synthesizer.shouldFail = true
			h.synthesizer.mu.Unlock()
		},
		"empty text": func(h *harness, _ *events.TextProcessedEvent) {
			h.textStore.mu.Lock()
			h.textStore.content = []byte("   ")
			h.textStore.mu.Unlock()
		},
		"missing text key": func(_ *harness, event *events.TextProcessedEvent) { event.TextKey = "" },
		"bad page":         func(_ *harness, event *events.TextProcessedEvent) { event.PageNumber = 11 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := setupTest(t)

			// Wait for the subscription with a valid job before breaking the next one.
			okData, err := json.Marshal(newEvent())
			require.NoError(t, err)
			request(t, h.natsConnection, okData)

			event := newEvent()
			mutate(h, event)

			eventData, err := json.Marshal(event)
			require.NoError(t, err)

			_, err = h.natsConnection.Request(testSubject, eventData, 300*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout)
		})
	}
}
