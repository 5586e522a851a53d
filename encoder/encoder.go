package encoder

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
}

// Formats lists the upload formats accepted by New.
var Formats = []string{"wav", "flac"}

func New(format string) (Encoder, error) {
	switch format {
	case "wav":
		return NewWav(), nil
	case "flac":
		return newFlac()
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// ContentType returns the MIME type sent with an upload in format.
func ContentType(format string) string {
	switch format {
	case "flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

// Encode runs little-endian PCM16 through a fresh encoder in BlockSize
// blocks and returns the finished payload.
func Encode(format string, pcm []byte) ([]byte, Encoder, error) {
	enc, err := New(format)
	if err != nil {
		return nil, nil, err
	}
	samples := Samples(pcm)
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, nil, err
	}
	return enc.Bytes(), enc, nil
}

// Samples decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func Samples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
