// Package core defines the core business contracts shared by the audio service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Model is an opaque handle to a constructed, ready-to-use inference model.
type Model interface {
	// Name identifies the loaded model (backend model id or checkpoint name).
	Name() string
}

// Segment is one decoded span of a transcription.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RecognitionOptions carries decoding parameters for one recognition call.
type RecognitionOptions struct {
	Language             string
	BeamSize             int
	VADFilter            bool
	MinSilenceDurationMs int
}

// Recognition is the raw output of a recognition model.
type Recognition struct {
	Segments            []Segment
	Language            string
	LanguageProbability float64
}

// Recognizer is a model handle able to turn audio into text.
type Recognizer interface {
	Model
	Recognize(ctx context.Context, audio []byte, filename string, opts RecognitionOptions) (*Recognition, error)
}

// SynthesisInput holds everything a synthesis model needs for one call.
type SynthesisInput struct {
	Text     string
	Language string
	Speaker  string
	Instruct string
	RefAudio []byte
	RefText  string
	Speed    float64
	Steps    int
}

// PCM is raw little-endian 16-bit audio returned by a synthesis model.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Synthesizer is a model handle able to turn text into audio.
type Synthesizer interface {
	Model
	Synthesize(ctx context.Context, input SynthesisInput) (*PCM, error)
}
