package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize = 44
	fmtChunkSize  = 16
	pcmFormatTag  = 1
)

// EncodeWAV wraps little-endian PCM16 samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, quality Quality) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	validateErr := quality.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	frame := quality.frameSize()
	if len(pcm)%frame != 0 {
		return nil, fmt.Errorf(errFmtOddFrame, ErrInvalidQuality, len(pcm), frame)
	}

	dataLen := uint32(len(pcm))
	byteRate := uint32(quality.SampleRate * frame)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	header := []any{
		magicRIFF,
		uint32(wavHeaderSize - 8 + len(pcm)),
		magicWAVE,
		[]byte("fmt "),
		uint32(fmtChunkSize),
		uint16(pcmFormatTag),
		uint16(quality.Channels),
		uint32(quality.SampleRate),
		byteRate,
		uint16(frame),
		uint16(quality.BitDepth),
		[]byte("data"),
		dataLen,
	}

	for _, field := range header {
		writeErr := binary.Write(buf, binary.LittleEndian, field)
		if writeErr != nil {
			return nil, fmt.Errorf("failed to write wav header: %w", writeErr)
		}
	}

	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV returns the PCM payload and stream parameters of a canonical
// 16-bit PCM WAV file produced by EncodeWAV or a compatible writer.
func DecodeWAV(data []byte) ([]byte, Quality, error) {
	if Detect(data) != FormatWAV || len(data) < wavHeaderSize {
		return nil, Quality{}, fmt.Errorf("%w: not a wav file", ErrInvalidQuality)
	}

	quality := Quality{
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		BitDepth:   int(binary.LittleEndian.Uint16(data[34:36])),
	}

	// Walk chunks after the RIFF header until "data".
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8

		if chunkID == "data" {
			end := min(offset+chunkLen, len(data))

			return data[offset:end], quality, quality.Validate()
		}

		offset += chunkLen + chunkLen%2
	}

	return nil, quality, fmt.Errorf("%w: missing data chunk", ErrInvalidQuality)
}
