// Package beep plays short recording cues through an audio.Player.
package beep

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"xinchao/audio"
	"xinchao/log"
)

const (
	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	cueTimeout = 2 * time.Second
)

type Cues struct {
	player   audio.Player
	disabled atomic.Bool
	wg       sync.WaitGroup

	start, end, fail []byte
}

// New renders the cues at sampleRate. A nil player yields silent cues.
func New(player audio.Player, sampleRate int) *Cues {
	return &Cues{
		player: player,
		start:  pcm(generateTick(sampleRate, startFreq, 0.2, startVolume, startDecay)),
		end:    pcm(generateTick(sampleRate, endFreq, 0.2, endVolume, endDecay)),
		fail:   pcm(generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)),
	}
}

func (c *Cues) Disable() { c.disabled.Store(true) }

func (c *Cues) PlayStart() { c.play(c.start) }
func (c *Cues) PlayEnd()   { c.play(c.end) }
func (c *Cues) PlayError() { c.play(c.fail) }

// Wait blocks until queued cues have finished.
func (c *Cues) Wait() { c.wg.Wait() }

func (c *Cues) play(samples []byte) {
	if c.player == nil || c.disabled.Load() || len(samples) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cueTimeout)
		defer cancel()
		ch := make(chan []byte, 1)
		ch <- samples
		close(ch)
		if err := c.player.Play(ctx, ch); err != nil {
			log.Warnf("beep: %v", err)
		}
	}()
}

func generateTick(sampleRate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

func pcm(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
