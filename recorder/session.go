package recorder

import (
	"time"
)

type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	}
	return "unknown"
}

// Session is the recording state. Transitions below return a new value and
// never touch devices, so the state machine can be checked on its own.
type Session struct {
	State     State
	Chunks    [][]byte
	StartedAt time.Time
}

// Begin moves Idle to Recording. Any other state is returned unchanged.
func (s Session) Begin(now time.Time) (Session, bool) {
	if s.State != Idle {
		return s, false
	}
	return Session{State: Recording, StartedAt: now}, true
}

// Accept appends a segment while Recording or Finalizing (late flush).
func (s Session) Accept(chunk []byte) (Session, bool) {
	if s.State != Recording && s.State != Finalizing {
		return s, false
	}
	s.Chunks = append(s.Chunks, chunk)
	return s, true
}

// Finish moves Recording to Finalizing.
func (s Session) Finish() (Session, bool) {
	if s.State != Recording {
		return s, false
	}
	s.State = Finalizing
	return s, true
}

// Reset returns to Idle with chunks cleared.
func (s Session) Reset() Session {
	return Session{State: Idle}
}
