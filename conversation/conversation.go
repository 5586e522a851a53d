// Package conversation keeps the ordered turns of one session in memory.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

type Turn struct {
	Seq             int
	ID              string
	Speaker         Speaker
	Text            string
	Accent          string   // voice turns only; "" when not classified
	Confidence      *float64 // voice turns only
	Corrections     []string
	CulturalContext string
	Fallback        bool
	Timestamp       time.Time
}

func (t Turn) clone() Turn {
	if t.Confidence != nil {
		c := *t.Confidence
		t.Confidence = &c
	}
	if t.Corrections != nil {
		t.Corrections = append([]string(nil), t.Corrections...)
	}
	return t
}

// Log is append-only. Seq starts at 1 and has no gaps.
type Log struct {
	mu       sync.Mutex
	turns    []Turn
	onAppend []func(Turn)
	now      func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// OnAppend registers fn to run after every append, outside the lock, on the
// appending goroutine.
func (l *Log) OnAppend(fn func(Turn)) {
	l.mu.Lock()
	l.onAppend = append(l.onAppend, fn)
	l.mu.Unlock()
}

// Append stamps t with the next Seq, a fresh ID and (if unset) the current
// time, and returns the stored copy. Caller-supplied Seq and ID are ignored.
func (l *Log) Append(t Turn) Turn {
	l.mu.Lock()
	t = t.clone()
	t.Seq = len(l.turns) + 1
	t.ID = uuid.NewString()
	if t.Timestamp.IsZero() {
		t.Timestamp = l.now()
	}
	l.turns = append(l.turns, t)
	subs := l.onAppend
	l.mu.Unlock()

	for _, fn := range subs {
		fn(t.clone())
	}
	return t.clone()
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Turns returns a copy of every turn in Seq order.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t.clone()
	}
	return out
}

func (l *Log) Last() (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1].clone(), true
}
