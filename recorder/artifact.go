package recorder

import (
	"errors"
	"sync/atomic"
	"time"
)

var ErrConsumed = errors.New("audio artifact already consumed")

// Artifact is the finalized recording: chunks concatenated in arrival order.
type Artifact struct {
	pcm        []byte
	SampleRate int
	Channels   int
	Chunks     int
	Duration   time.Duration
	consumed   atomic.Bool
}

func newArtifact(chunks [][]byte, sampleRate, channels int, started time.Time, now time.Time) *Artifact {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	pcm := make([]byte, 0, n)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	var d time.Duration
	if !started.IsZero() {
		d = now.Sub(started)
	}
	return &Artifact{pcm: pcm, SampleRate: sampleRate, Channels: channels, Chunks: len(chunks), Duration: d}
}

// NewArtifact wraps raw PCM16 mono, for callers that already hold audio.
func NewArtifact(pcm []byte, sampleRate int) *Artifact {
	return &Artifact{pcm: pcm, SampleRate: sampleRate, Channels: 1, Chunks: 1}
}

// Len is the payload size in bytes.
func (a *Artifact) Len() int { return len(a.pcm) }

func (a *Artifact) Empty() bool { return len(a.pcm) == 0 }

// AudioDuration is the length of the captured audio itself.
func (a *Artifact) AudioDuration() time.Duration {
	if a.SampleRate == 0 || a.Channels == 0 {
		return 0
	}
	frames := len(a.pcm) / (2 * a.Channels)
	return time.Duration(frames) * time.Second / time.Duration(a.SampleRate)
}

// Consume hands out the PCM. An artifact is uploaded at most once.
func (a *Artifact) Consume() ([]byte, error) {
	if !a.consumed.CompareAndSwap(false, true) {
		return nil, ErrConsumed
	}
	return a.pcm, nil
}
