// Package recorder owns the microphone and turns a recording session into a
// single audio artifact.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"xinchao/apperr"
	"xinchao/audio"
	"xinchao/log"
)

type Controller struct {
	capture    audio.CaptureDevice
	sampleRate int
	channels   int
	observer   func([]byte)
	now        func() time.Time

	mu   sync.Mutex
	sess Session
}

func New(capture audio.CaptureDevice, cfg audio.CaptureConfig) *Controller {
	return &Controller{
		capture:    capture,
		sampleRate: int(cfg.SampleRate),
		channels:   int(cfg.Channels),
		now:        time.Now,
	}
}

// SetObserver registers fn to receive every accepted segment. fn runs on the
// device callback goroutine and must not block.
func (c *Controller) SetObserver(fn func([]byte)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

func (c *Controller) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture.DeviceName()
}

// SetCapture swaps the input device. It fails while a session is active.
func (c *Controller) SetCapture(capture audio.CaptureDevice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.State != Idle {
		return fmt.Errorf("switch device while %s", c.sess.State)
	}
	c.capture = capture
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.State
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	s.Chunks = append([][]byte(nil), c.sess.Chunks...)
	return s
}

// Start acquires the device. Calling it while already recording does nothing.
func (c *Controller) Start() error {
	c.mu.Lock()
	next, ok := c.sess.Begin(c.now())
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.sess = next
	c.mu.Unlock()

	c.capture.SetCallback(c.onData)
	if err := c.capture.Start(); err != nil {
		c.capture.ClearCallback()
		c.mu.Lock()
		c.sess = c.sess.Reset()
		c.mu.Unlock()
		log.Errorf("capture start (%s): %v", c.capture.DeviceName(), err)
		return fmt.Errorf("start capture: %w", errors.Join(apperr.ErrDeviceUnavailable, err))
	}
	log.Info("recording started")
	return nil
}

func (c *Controller) onData(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	c.mu.Lock()
	next, ok := c.sess.Accept(chunk)
	if ok {
		c.sess = next
	}
	obs := c.observer
	c.mu.Unlock()

	if ok && obs != nil {
		obs(chunk)
	}
}

// Stop releases the device and returns the finalized artifact. The second
// result is false when nothing was recording.
func (c *Controller) Stop() (*Artifact, bool) {
	c.mu.Lock()
	next, ok := c.sess.Finish()
	if !ok {
		c.mu.Unlock()
		return newArtifact(nil, c.sampleRate, c.channels, time.Time{}, time.Time{}), false
	}
	c.sess = next
	c.mu.Unlock()

	c.release()

	c.mu.Lock()
	art := newArtifact(c.sess.Chunks, c.sampleRate, c.channels, c.sess.StartedAt, c.now())
	c.sess = c.sess.Reset()
	c.mu.Unlock()

	log.Infof("recording stopped: %d chunks, %d bytes, %s", art.Chunks, art.Len(), art.AudioDuration())
	return art, true
}

// Abort releases the device and drops whatever was captured.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.sess.State == Idle {
		c.mu.Unlock()
		return
	}
	c.sess = c.sess.Reset()
	c.mu.Unlock()
	c.release()
	log.Warn("recording aborted")
}

func (c *Controller) release() {
	c.capture.Stop()
	c.capture.ClearCallback()
}
