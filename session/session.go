// Package session sequences recording, transcription, dialogue and speech
// into turns. At most one turn is in flight at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"xinchao/apperr"
	"xinchao/conversation"
	"xinchao/dialogue"
	"xinchao/log"
	"xinchao/recorder"
	"xinchao/transcriber"
)

const (
	FallbackMessage = "Xin lỗi, có lỗi xảy ra. Vui lòng thử lại."
	NoSpeechMessage = "Xin lỗi, tôi không nghe rõ. Bạn nói lại được không?"
)

var (
	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrEmptyText    = errors.New("empty message")
	ErrNotRecording = errors.New("not recording")
)

type Recorder interface {
	Start() error
	Stop() (*recorder.Artifact, bool)
	Abort()
	State() recorder.State
}

type Speaker interface {
	Speak(text string)
	SetMuted(muted bool)
	Muted() bool
}

type Orchestrator struct {
	rec      Recorder
	stt      transcriber.Transcriber
	engine   dialogue.Engine
	speech   Speaker
	turns    *conversation.Log
	inFlight atomic.Bool
}

func New(rec Recorder, stt transcriber.Transcriber, engine dialogue.Engine, speech Speaker, turns *conversation.Log) *Orchestrator {
	if turns == nil {
		turns = conversation.NewLog()
	}
	return &Orchestrator{rec: rec, stt: stt, engine: engine, speech: speech, turns: turns}
}

func (o *Orchestrator) Log() *conversation.Log { return o.turns }

// Busy reports whether a turn is unresolved.
func (o *Orchestrator) Busy() bool { return o.inFlight.Load() }

func (o *Orchestrator) Recording() bool {
	return o.rec != nil && o.rec.State() == recorder.Recording
}

func (o *Orchestrator) SetMuted(muted bool) {
	if o.speech != nil {
		o.speech.SetMuted(muted)
	}
}

func (o *Orchestrator) Muted() bool {
	return o.speech == nil || o.speech.Muted()
}

// StartRecording opens the microphone for a voice turn. A device failure
// is resolved here as a fallback turn and also returned.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.reject(ctx, "voice")
		return ErrTurnInFlight
	}
	defer o.inFlight.Store(false)

	var err error
	if o.rec == nil {
		err = fmt.Errorf("no recorder: %w", apperr.ErrDeviceUnavailable)
	} else if err = o.rec.Start(); err == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "recording start")
	defer span.End()
	o.fail(ctx, span, "voice", err, time.Now(), 0)
	return err
}

// CancelRecording drops the active recording without producing a turn.
func (o *Orchestrator) CancelRecording() {
	if o.rec != nil {
		o.rec.Abort()
	}
}

// SubmitVoice finalizes the active recording and runs it as a turn.
func (o *Orchestrator) SubmitVoice(ctx context.Context) error {
	done, err := o.SubmitVoiceAsync(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// SubmitVoiceAsync claims the turn and stops the recorder before returning,
// then transcribes and converses in the background. The channel closes once
// the turn is resolved. A rejected submission discards the open recording.
func (o *Orchestrator) SubmitVoiceAsync(ctx context.Context) (<-chan struct{}, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		if o.Recording() {
			o.rec.Abort()
			log.Warn("voice submission rejected: recording discarded")
		}
		o.reject(ctx, "voice")
		return nil, ErrTurnInFlight
	}
	if o.rec == nil {
		o.inFlight.Store(false)
		return nil, ErrNotRecording
	}
	art, ok := o.rec.Stop()
	if !ok {
		o.inFlight.Store(false)
		return nil, ErrNotRecording
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer o.inFlight.Store(false)
		o.voiceTurn(ctx, art)
	}()
	return done, nil
}

func (o *Orchestrator) voiceTurn(ctx context.Context, art *recorder.Artifact) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "voice turn")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.bytes", art.Len()),
		attribute.Float64("audio.duration_s", art.AudioDuration().Seconds()),
	)

	// Network calls run to completion or timeout even if the caller gives up.
	netCtx := context.WithoutCancel(ctx)

	var res *transcriber.Result
	if !art.Empty() {
		var err error
		res, err = o.stt.Transcribe(netCtx, art)
		if err != nil {
			o.fail(ctx, span, "voice", err, start, 0)
			return
		}
	}
	if res == nil || strings.TrimSpace(res.Transcript) == "" {
		span.AddEvent("no speech")
		t := o.append(conversation.Turn{Speaker: conversation.Assistant, Text: NoSpeechMessage, Fallback: true})
		o.resolve(ctx, span, "voice", "no_speech", 0, t.Seq, start)
		return
	}

	span.SetAttributes(attribute.String("transcript.accent", string(res.Accent)))
	user := o.append(conversation.Turn{
		Speaker:    conversation.User,
		Text:       res.Transcript,
		Accent:     string(res.Accent),
		Confidence: res.Confidence,
	})
	o.converse(ctx, netCtx, span, "voice", user, start)
}

// SubmitText runs a typed utterance as a turn.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.reject(ctx, "text")
		return ErrTurnInFlight
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	ctx, span := tracer.Start(ctx, "text turn")
	defer span.End()

	user := o.append(conversation.Turn{Speaker: conversation.User, Text: text})
	o.converse(ctx, context.WithoutCancel(ctx), span, "text", user, start)
	return nil
}

func (o *Orchestrator) converse(ctx, netCtx context.Context, span trace.Span, mode string, user conversation.Turn, start time.Time) {
	reply, err := o.engine.Reply(netCtx, user.Text)
	if err != nil {
		o.fail(ctx, span, mode, err, start, user.Seq)
		return
	}
	if strings.TrimSpace(reply.Text) == "" {
		o.fail(ctx, span, mode, fmt.Errorf("empty reply: %w", apperr.ErrMalformedResponse), start, user.Seq)
		return
	}

	t := o.append(conversation.Turn{
		Speaker:         conversation.Assistant,
		Text:            reply.Text,
		Corrections:     reply.Corrections,
		CulturalContext: reply.CulturalContext,
	})
	if o.speech != nil && !o.speech.Muted() {
		o.speech.Speak(reply.Text)
	}
	o.resolve(ctx, span, mode, "ok", user.Seq, t.Seq, start)
}

func (o *Orchestrator) append(t conversation.Turn) conversation.Turn {
	t = o.turns.Append(t)
	log.Turn(t.Seq, string(t.Speaker), t.Text)
	return t
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, mode string, err error, start time.Time, userSeq int) {
	kind := apperr.Kind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	log.Errorf("%s turn failed (%s): %v", mode, kind, err)

	t := o.append(conversation.Turn{Speaker: conversation.Assistant, Text: FallbackMessage, Fallback: true})
	o.resolve(ctx, span, mode, kind, userSeq, t.Seq, start)
}

func (o *Orchestrator) resolve(ctx context.Context, span trace.Span, mode, kind string, userSeq, assistantSeq int, start time.Time) {
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.String("turn.result", kind),
		attribute.Int("turn.user_seq", userSeq),
		attribute.Int("turn.assistant_seq", assistantSeq),
	)
	attrs := metric.WithAttributes(attribute.String("mode", mode), attribute.String("result", kind))
	turnCounter.Add(ctx, 1, attrs)
	turnDuration.Record(ctx, elapsed.Seconds(), attrs)

	log.TurnResolved(mode, kind, userSeq, assistantSeq, elapsed)
	logger.InfoContext(ctx, "turn resolved", "mode", mode, "result", kind, "assistant_seq", assistantSeq)
}

func (o *Orchestrator) reject(ctx context.Context, mode string) {
	rejectCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	log.Warnf("%s submission rejected: turn in flight", mode)
}
