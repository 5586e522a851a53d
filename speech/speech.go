// Package speech speaks assistant replies. A new reply supersedes whatever
// is playing; nothing is queued.
package speech

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"xinchao/audio"
	"xinchao/log"
)

// Synthesizer streams PCM16 mono for text. Both channels are closed when
// synthesis ends; the PCM channel must stop promptly once ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

type Playback struct {
	synth  Synthesizer
	player audio.Player
	muted  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
	wg     sync.WaitGroup
}

// New returns a Playback. A nil synth or player disables speech.
func New(synth Synthesizer, player audio.Player) *Playback {
	return &Playback{synth: synth, player: player}
}

func (p *Playback) Enabled() bool { return p.synth != nil && p.player != nil }

func (p *Playback) Muted() bool { return p.muted.Load() }

// SetMuted toggles the mute policy. Muting also silences the active reply.
func (p *Playback) SetMuted(muted bool) {
	p.muted.Store(muted)
	if muted {
		p.Stop()
	}
}

// Speak starts playback of text and returns immediately. Failures are
// logged, never returned.
func (p *Playback) Speak(text string) {
	if p.muted.Load() || !p.Enabled() || strings.TrimSpace(text) == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, cancel, gen, text)
}

func (p *Playback) run(ctx context.Context, cancel context.CancelFunc, gen uint64, text string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	pcm, errs := p.synth.Synthesize(ctx, text)
	playErr := p.player.Play(ctx, pcm)
	superseded := ctx.Err() != nil
	cancel()
	for range pcm {
	}
	for err := range errs {
		if err != nil && !superseded {
			log.Warnf("speech synthesis: %v", err)
		}
	}
	if playErr != nil && !superseded {
		log.Warnf("speech playback: %v", playErr)
	}
}

// Stop cancels the active playback, if any.
func (p *Playback) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

// Wait blocks until every started playback has returned.
func (p *Playback) Wait() { p.wg.Wait() }
