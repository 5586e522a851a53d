package transcriber

import (
	"context"
	"fmt"
	"sync"

	"xinchao/recorder"
)

// Fake returns a canned result. Each call consumes the artifact like the
// real client does.
type Fake struct {
	mu     sync.Mutex
	result Result
	err    error
	calls  int
}

func NewFake(text string, accent Accent, err error) *Fake {
	return &Fake{result: Result{Transcript: text, Accent: accent}, err: err}
}

// Set replaces the canned response for subsequent calls.
func (f *Fake) Set(text string, accent Accent, err error) {
	f.mu.Lock()
	f.result = Result{Transcript: text, Accent: accent}
	f.err = err
	f.mu.Unlock()
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Transcribe(_ context.Context, art *recorder.Artifact) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, err := art.Consume(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber: %w", f.err)
	}
	r := f.result
	return &r, nil
}

// FakeScorer returns a canned assessment and records each target phrase.
type FakeScorer struct {
	mu      sync.Mutex
	score   float64
	err     error
	targets []string
}

func NewFakeScorer(score float64, err error) *FakeScorer {
	return &FakeScorer{score: score, err: err}
}

func (f *FakeScorer) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func (f *FakeScorer) Score(_ context.Context, art *recorder.Artifact, target string) (*Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if _, err := art.Consume(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, fmt.Errorf("fake scorer: %w", f.err)
	}
	return &Assessment{Target: target, Heard: target, Score: f.score, Feedback: "ok"}, nil
}
