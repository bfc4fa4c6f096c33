// Package audio sniffs uploaded audio containers and wraps raw PCM returned by
// synthesis backends into WAV files.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// Defaults for synthesized audio when a backend omits its stream parameters.
const (
	DefaultSampleRate = 24000
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// Quality validation limits.
const (
	maxSampleRate = 192000
	maxChannels   = 8
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtBitDepthValues  = "%w: only 16-bit PCM is supported, got %d"
	errFmtOddFrame        = "%w: %d bytes is not a whole number of %d-byte frames"
)

// Common errors for the audio package.
var (
	ErrInvalidQuality = errors.New("invalid quality settings")
	ErrEmptyAudio     = errors.New("audio payload is empty")
)

// Format represents a supported audio container.
type Format string

// Known containers. FormatUnknown is forwarded to backends unchanged.
const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatM4A     Format = "m4a"
	FormatWebM    Format = "webm"
)

// ContentType returns the MIME type of the container.
func (f Format) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatOGG:
		return "audio/ogg"
	case FormatM4A:
		return "audio/mp4"
	case FormatWebM:
		return "audio/webm"
	case FormatUnknown:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension with a leading dot, or "" when unknown.
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ""
	}

	return "." + string(f)
}

var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicFLAC = []byte("fLaC")
	magicOGG  = []byte("OggS")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicFTYP = []byte("ftyp")
)

const (
	ftypOffset    = 4
	riffTagOffset = 8
	mpegSyncMask  = 0xE0
)

// Detect sniffs the container format from the leading bytes of data.
func Detect(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], magicRIFF) && bytes.Equal(data[riffTagOffset:12], magicWAVE):
		return FormatWAV
	case bytes.HasPrefix(data, magicFLAC):
		return FormatFLAC
	case bytes.HasPrefix(data, magicOGG):
		return FormatOGG
	case bytes.HasPrefix(data, magicEBML):
		return FormatWebM
	case len(data) >= 8 && bytes.Equal(data[ftypOffset:8], magicFTYP):
		return FormatM4A
	case bytes.HasPrefix(data, magicID3):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&mpegSyncMask == mpegSyncMask:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Quality describes a PCM stream.
type Quality struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// NewDefaultQuality returns the parameters assumed for headerless backend output.
func NewDefaultQuality() Quality {
	return Quality{
		SampleRate: DefaultSampleRate,
		BitDepth:   DefaultBitDepth,
		Channels:   DefaultChannels,
	}
}

// Validate checks that the stream parameters can be written as 16-bit PCM WAV.
func (q Quality) Validate() error {
	if q.SampleRate <= 0 || q.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, maxSampleRate, q.SampleRate)
	}

	if q.Channels <= 0 || q.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, maxChannels, q.Channels)
	}

	if q.BitDepth != DefaultBitDepth {
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality, q.BitDepth)
	}

	return nil
}

func (q Quality) frameSize() int {
	return q.Channels * q.BitDepth / 8
}

// Duration reports how long pcmBytes of audio play at this quality.
func (q Quality) Duration(pcmBytes int) time.Duration {
	frame := q.frameSize()
	if frame == 0 || q.SampleRate == 0 {
		return 0
	}

	frames := pcmBytes / frame

	return time.Duration(frames) * time.Second / time.Duration(q.SampleRate)
}
