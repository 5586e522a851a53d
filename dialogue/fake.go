package dialogue

import (
	"context"
	"sync"
)

// Fake answers with a fixed reply. Hold, when set, blocks every call until
// it is closed or ctx ends.
type Fake struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
	Hold  chan struct{}
}

func NewFake(text string, err error) *Fake {
	return &Fake{text: text, err: err}
}

func (f *Fake) Set(text string, err error) {
	f.mu.Lock()
	f.text, f.err = text, err
	f.mu.Unlock()
}

// Calls returns the utterances received so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Reply(ctx context.Context, utterance string) (*Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, utterance)
	text, err, hold := f.text, f.err, f.Hold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &Reply{Text: text}, nil
}
