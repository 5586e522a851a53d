package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// flacEncoder emits one verbatim mono frame per block and lets the library
// pick fixed predictors where they shrink the frame.
type flacEncoder struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	enc     *flac.Encoder
	scratch []int32
	frames  uint64
	elapsed time.Duration
}

func newFlac() (*flacEncoder, error) {
	e := &flacEncoder{scratch: make([]int32, 0, BlockSize)}
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *flacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	if len(block) > BlockSize {
		return fmt.Errorf("flac block of %d samples exceeds %d", len(block), BlockSize)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.scratch = e.scratch[:0]
	for _, s := range block {
		e.scratch = append(e.scratch, int32(s))
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   e.scratch,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.frames += uint64(len(block))
	e.elapsed += time.Since(start)
	return nil
}

func (e *flacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Close()
}

func (e *flacEncoder) Bytes() []byte { return e.buf.Bytes() }

func (e *flacEncoder) TotalFrames() uint64 { return e.frames }

func (e *flacEncoder) EncodeTime() time.Duration { return e.elapsed }
