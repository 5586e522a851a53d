package hotkey

import (
	"sync/atomic"
	"time"
)

type Mode string

const (
	ModePTT    Mode = "ptt"
	ModeToggle Mode = "toggle"
)

// StartEvent indicates a new recording should start.
type StartEvent struct {
	Mode Mode
}

// Hybrid turns one key into tap-to-toggle and hold-to-talk. A press starts
// recording at once; holding past longPress makes the release stop it, a
// shorter tap keeps recording until the next press.
type Hybrid struct {
	startCh  chan StartEvent
	stopCh   chan struct{}
	cancelCh chan struct{}
	toggle   atomic.Bool
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		startCh:  make(chan StartEvent, 1),
		stopCh:   make(chan struct{}, 1),
		cancelCh: make(chan struct{}, 1),
	}
	go h.run(hk, longPress)
	return h
}

func (h *Hybrid) Start() <-chan StartEvent { return h.startCh }

// StopChan is signaled when the user ends a recording in either mode.
func (h *Hybrid) StopChan() <-chan struct{} { return h.stopCh }

// IsToggle reports whether the current recording was started by a tap.
func (h *Hybrid) IsToggle() bool { return h.toggle.Load() }

// Cancel ends a toggle recording from outside (e.g. auto-close on silence)
// without a StopChan signal.
func (h *Hybrid) Cancel() {
	select {
	case h.cancelCh <- struct{}{}:
	default:
	}
}

type hybridState int

const (
	stIdle hybridState = iota
	stToggleRecording
)

func (h *Hybrid) run(hk Hotkey, longPress time.Duration) {
	state := stIdle
	for {
		switch state {
		case stIdle:
			<-hk.Keydown()
			h.drainCancel()
			h.toggle.Store(false)
			h.startCh <- StartEvent{Mode: ModePTT}
			timer := time.NewTimer(longPress)
			select {
			case <-timer.C:
				<-hk.Keyup()
				h.signalStop()
			case <-hk.Keyup():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				h.toggle.Store(true)
				state = stToggleRecording
			}
		case stToggleRecording:
			select {
			case <-hk.Keydown():
				<-hk.Keyup()
				h.signalStop()
			case <-h.cancelCh:
			}
			h.toggle.Store(false)
			state = stIdle
		}
	}
}

func (h *Hybrid) signalStop() {
	select {
	case h.stopCh <- struct{}{}:
	default:
	}
}

func (h *Hybrid) drainCancel() {
	select {
	case <-h.cancelCh:
	default:
	}
}
