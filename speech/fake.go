package speech

import (
	"context"
	"sync"
)

// FakeSynth emits one chunk per call and records the texts it was given.
// With Block set, the chunk is held until ctx is cancelled.
type FakeSynth struct {
	Block bool
	Err   error

	mu    sync.Mutex
	texts []string
	sent  int
}

func (f *FakeSynth) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	pcm := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errs)
		if f.Err != nil {
			errs <- f.Err
			return
		}
		select {
		case pcm <- []byte(text):
			f.mu.Lock()
			f.sent++
			f.mu.Unlock()
		case <-ctx.Done():
			return
		}
		if f.Block {
			<-ctx.Done()
		}
	}()
	return pcm, errs
}

func (f *FakeSynth) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// Sent counts chunks taken by a player.
func (f *FakeSynth) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}
