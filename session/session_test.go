package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"xinchao/apperr"
	"xinchao/audio"
	"xinchao/conversation"
	"xinchao/dialogue"
	"xinchao/recorder"
	"xinchao/speech"
	"xinchao/transcriber"
)

type fixture struct {
	orch   *Orchestrator
	dev    *audio.FakeCapture
	stt    *transcriber.Fake
	engine *dialogue.Fake
	synth  *speech.FakeSynth
	play   *speech.Playback
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := audio.CaptureConfig{SampleRate: 16000, Channels: 1}
	actx := audio.NewFakeContextPCM(nil, false)
	dev, err := actx.NewCapture(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	player, _ := actx.NewPlayer(cfg)
	f := &fixture{
		dev:    dev.(*audio.FakeCapture),
		stt:    transcriber.NewFake("xin chào", transcriber.North, nil),
		engine: dialogue.NewFake("Chào bạn!", nil),
		synth:  &speech.FakeSynth{},
	}
	f.play = speech.New(f.synth, player)
	f.orch = New(recorder.New(dev, cfg), f.stt, f.engine, f.play, conversation.NewLog())
	t.Cleanup(f.play.Wait)
	return f
}

func (f *fixture) record(t *testing.T, segments int) {
	t.Helper()
	if err := f.orch.StartRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range segments {
		f.dev.Emit(make([]byte, 3200))
	}
}

func texts(l *conversation.Log) []string {
	var out []string
	for _, t := range l.Turns() {
		out = append(out, fmt.Sprintf("%d:%s:%s", t.Seq, t.Speaker, t.Text))
	}
	return out
}

func TestVoiceTurn(t *testing.T) {
	f := newFixture(t)
	f.stt.Set("xin chào", transcriber.North, nil)
	f.record(t, 3)

	if err := f.orch.SubmitVoice(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.play.Wait()

	turns := f.orch.Log().Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %v", texts(f.orch.Log()))
	}
	user, reply := turns[0], turns[1]
	if user.Speaker != conversation.User || user.Text != "xin chào" || user.Accent != "north" {
		t.Errorf("user turn = %+v", user)
	}
	if reply.Speaker != conversation.Assistant || reply.Text != "Chào bạn!" || reply.Fallback {
		t.Errorf("assistant turn = %+v", reply)
	}
	if got := f.engine.Calls(); len(got) != 1 || got[0] != "xin chào" {
		t.Errorf("dialogue calls = %q", got)
	}
	if got := f.synth.Texts(); len(got) != 1 || got[0] != "Chào bạn!" {
		t.Errorf("spoken = %q", got)
	}
	if f.dev.Started() {
		t.Error("microphone still held after turn")
	}
	if f.orch.Busy() {
		t.Error("orchestrator still busy")
	}
}

func TestVoiceTurnCarriesConfidence(t *testing.T) {
	conf := 0.92
	stt := &confidenceStt{res: transcriber.Result{Transcript: "xin chào", Accent: transcriber.North, Confidence: &conf}}
	f := newFixture(t)
	f.orch.stt = stt
	f.record(t, 1)

	if err := f.orch.SubmitVoice(context.Background()); err != nil {
		t.Fatal(err)
	}
	user := f.orch.Log().Turns()[0]
	if user.Confidence == nil || *user.Confidence != 0.92 {
		t.Errorf("confidence = %v", user.Confidence)
	}
}

type confidenceStt struct{ res transcriber.Result }

func (c *confidenceStt) Transcribe(_ context.Context, art *recorder.Artifact) (*transcriber.Result, error) {
	if _, err := art.Consume(); err != nil {
		return nil, err
	}
	r := c.res
	return &r, nil
}

func TestTextTurn(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.SubmitText(context.Background(), "  cảm ơn  "); err != nil {
		t.Fatal(err)
	}
	want := []string{"1:user:cảm ơn", "2:assistant:Chào bạn!"}
	if got := texts(f.orch.Log()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("log = %q, want %q", got, want)
	}
	if f.stt.Calls() != 0 {
		t.Error("text turn should not transcribe")
	}
}

func TestEmptyTextRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.SubmitText(context.Background(), " \n"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v", err)
	}
	if f.orch.Log().Len() != 0 {
		t.Error("blank text appended a turn")
	}
}

func TestDialogueFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.engine.Set("", fmt.Errorf("dialogue: %w", apperr.ErrServiceUnavailable))

	if err := f.orch.SubmitText(context.Background(), "xin chào"); err != nil {
		t.Fatal(err)
	}
	turns := f.orch.Log().Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %v", texts(f.orch.Log()))
	}
	if !turns[1].Fallback || turns[1].Text != FallbackMessage || turns[1].Speaker != conversation.Assistant {
		t.Errorf("fallback turn = %+v", turns[1])
	}
	if f.orch.Busy() {
		t.Fatal("orchestrator should be ready after failure")
	}
	if len(f.synth.Texts()) != 0 {
		t.Error("fallback should not be spoken")
	}

	f.engine.Set("Chào bạn!", nil)
	if err := f.orch.SubmitText(context.Background(), "lần nữa"); err != nil {
		t.Fatalf("submission after failure rejected: %v", err)
	}
	if f.orch.Log().Len() != 4 {
		t.Errorf("log = %v", texts(f.orch.Log()))
	}
}

func TestTranscriptionFailureFallsBack(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
	}{
		{"timeout", apperr.ErrTimeout},
		{"unavailable", apperr.ErrServiceUnavailable},
		{"malformed", apperr.ErrMalformedResponse},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.stt.Set("", transcriber.Unknown, tt.err)
			f.record(t, 2)

			if err := f.orch.SubmitVoice(context.Background()); err != nil {
				t.Fatal(err)
			}
			turns := f.orch.Log().Turns()
			if len(turns) != 1 || !turns[0].Fallback || turns[0].Text != FallbackMessage {
				t.Errorf("log = %v", texts(f.orch.Log()))
			}
			if len(f.engine.Calls()) != 0 {
				t.Error("dialogue called after transcription failure")
			}
			if f.dev.Started() {
				t.Error("microphone held after failure")
			}
		})
	}
}

func TestDeviceUnavailableFallsBack(t *testing.T) {
	cfg := audio.CaptureConfig{SampleRate: 16000, Channels: 1}
	actx := audio.NewFakeContextPCM(nil, false)
	actx.FailStart(errors.New("permission denied"))
	dev, _ := actx.NewCapture(nil, cfg)
	o := New(recorder.New(dev, cfg), transcriber.NewFake("", transcriber.Unknown, nil), dialogue.NewFake("x", nil), nil, nil)

	err := o.StartRecording(context.Background())
	if !errors.Is(err, apperr.ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	turns := o.Log().Turns()
	if len(turns) != 1 || !turns[0].Fallback {
		t.Errorf("log = %v", texts(o.Log()))
	}
	if o.Busy() || o.Recording() {
		t.Error("orchestrator not ready after device failure")
	}
}

func TestNoSpeech(t *testing.T) {
	t.Run("empty recording", func(t *testing.T) {
		f := newFixture(t)
		f.record(t, 0)
		if err := f.orch.SubmitVoice(context.Background()); err != nil {
			t.Fatal(err)
		}
		if f.stt.Calls() != 0 {
			t.Error("empty artifact should not be uploaded")
		}
		assertNoSpeech(t, f)
	})
	t.Run("empty transcript", func(t *testing.T) {
		f := newFixture(t)
		f.stt.Set("  ", transcriber.Unknown, nil)
		f.record(t, 2)
		if err := f.orch.SubmitVoice(context.Background()); err != nil {
			t.Fatal(err)
		}
		assertNoSpeech(t, f)
	})
}

func assertNoSpeech(t *testing.T, f *fixture) {
	t.Helper()
	turns := f.orch.Log().Turns()
	if len(turns) != 1 || turns[0].Text != NoSpeechMessage || !turns[0].Fallback {
		t.Errorf("log = %v", texts(f.orch.Log()))
	}
	if len(f.engine.Calls()) != 0 {
		t.Error("dialogue called without speech")
	}
}

func TestSubmitVoiceWithoutRecording(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.SubmitVoice(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("err = %v", err)
	}
	if f.orch.Log().Len() != 0 || f.orch.Busy() {
		t.Error("state changed")
	}
}

func TestSecondSubmissionRejected(t *testing.T) {
	f := newFixture(t)
	hold := make(chan struct{})
	f.engine.Hold = hold

	done := make(chan error, 1)
	go func() { done <- f.orch.SubmitText(context.Background(), "một") }()
	waitFor(t, func() bool { return len(f.engine.Calls()) == 1 })

	before := f.orch.Log().Len()
	if err := f.orch.SubmitText(context.Background(), "hai"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("text err = %v", err)
	}
	if err := f.orch.SubmitVoice(context.Background()); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("voice err = %v", err)
	}
	if err := f.orch.StartRecording(context.Background()); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("record err = %v", err)
	}
	if f.orch.Log().Len() != before {
		t.Error("rejected submission changed the log")
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := f.orch.SubmitText(context.Background(), "hai"); err != nil {
		t.Fatalf("submission after resolution: %v", err)
	}
	want := []string{"1:user:một", "2:assistant:Chào bạn!", "3:user:hai", "4:assistant:Chào bạn!"}
	if got := texts(f.orch.Log()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("log = %q", got)
	}
}

// slowFirst answers its first call after the second would have, so a log
// ordered by completion would interleave.
type slowFirst struct {
	mu    sync.Mutex
	calls int
}

func (s *slowFirst) Reply(ctx context.Context, utterance string) (*dialogue.Reply, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n == 1 {
		time.Sleep(50 * time.Millisecond)
	}
	return &dialogue.Reply{Text: "re: " + utterance}, nil
}

func TestOrderFollowsInitiation(t *testing.T) {
	f := newFixture(t)
	f.orch.engine = &slowFirst{}

	var wg sync.WaitGroup
	first := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		close(first)
		f.orch.SubmitText(context.Background(), "A")
	}()
	go func() {
		defer wg.Done()
		<-first
		waitFor(t, f.orch.Busy)
		for {
			err := f.orch.SubmitText(context.Background(), "B")
			if !errors.Is(err, ErrTurnInFlight) {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()

	want := []string{"1:user:A", "2:assistant:re: A", "3:user:B", "4:assistant:re: B"}
	if got := texts(f.orch.Log()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestMutedAcrossTurns(t *testing.T) {
	f := newFixture(t)
	f.orch.SetMuted(true)
	if !f.orch.Muted() {
		t.Fatal("expected muted")
	}
	for i := range 5 {
		if err := f.orch.SubmitText(context.Background(), fmt.Sprintf("câu %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	f.play.Wait()
	if n := len(f.synth.Texts()); n != 0 {
		t.Errorf("synthesizer invoked %d times while muted", n)
	}
	if f.orch.Log().Len() != 10 {
		t.Errorf("log len = %d", f.orch.Log().Len())
	}
}

func TestCancelRecording(t *testing.T) {
	f := newFixture(t)
	f.record(t, 2)
	f.orch.CancelRecording()
	if f.orch.Recording() || f.dev.Started() {
		t.Error("recording not released")
	}
	if f.orch.Log().Len() != 0 {
		t.Error("cancel should not append")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Error("condition not met")
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitVoiceAsyncClaimsTurn(t *testing.T) {
	f := newFixture(t)
	hold := make(chan struct{})
	f.engine.Hold = hold
	f.record(t, 3)

	done, err := f.orch.SubmitVoiceAsync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !f.orch.Busy() {
		t.Error("turn should be claimed before SubmitVoiceAsync returns")
	}
	if f.orch.Recording() {
		t.Error("recorder should be stopped before SubmitVoiceAsync returns")
	}
	if err := f.orch.StartRecording(context.Background()); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("record err = %v", err)
	}

	close(hold)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not resolve")
	}
	if f.orch.Busy() {
		t.Error("turn still in flight after done")
	}
	if n := f.orch.Log().Len(); n != 2 {
		t.Errorf("log has %d turns, want 2", n)
	}
}

// sizeStt records the byte length of every artifact it receives.
type sizeStt struct {
	mu    sync.Mutex
	sizes []int
}

func (s *sizeStt) Transcribe(_ context.Context, art *recorder.Artifact) (*transcriber.Result, error) {
	pcm, err := art.Consume()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sizes = append(s.sizes, len(pcm))
	s.mu.Unlock()
	return &transcriber.Result{Transcript: "xin chào", Accent: transcriber.North}, nil
}

func TestRejectedVoiceReleasesMicrophone(t *testing.T) {
	f := newFixture(t)
	stt := &sizeStt{}
	f.orch.stt = stt
	hold := make(chan struct{})
	f.engine.Hold = hold
	f.record(t, 2)

	done := make(chan error, 1)
	go func() { done <- f.orch.SubmitText(context.Background(), "một") }()
	waitFor(t, func() bool { return len(f.engine.Calls()) == 1 })

	if err := f.orch.SubmitVoice(context.Background()); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("voice err = %v", err)
	}
	if f.orch.Recording() || f.dev.Started() {
		t.Error("rejected voice submission left the microphone held")
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	f.record(t, 1)
	if err := f.orch.SubmitVoice(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(stt.sizes) != 1 || stt.sizes[0] != 3200 {
		t.Errorf("uploaded sizes = %v, want [3200] (no audio from the discarded recording)", stt.sizes)
	}
}

// countingSpeaker stands in for playback and counts Speak calls.
type countingSpeaker struct {
	mu    sync.Mutex
	muted bool
	calls int
}

func (c *countingSpeaker) Speak(string) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingSpeaker) SetMuted(m bool) {
	c.mu.Lock()
	c.muted = m
	c.mu.Unlock()
}

func (c *countingSpeaker) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func TestMutedSpeakerNeverCalled(t *testing.T) {
	spk := &countingSpeaker{}
	o := New(nil, transcriber.NewFake("", transcriber.Unknown, nil), dialogue.NewFake("Chào bạn!", nil), spk, nil)
	o.SetMuted(true)
	for i := range 3 {
		if err := o.SubmitText(context.Background(), fmt.Sprintf("câu %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if spk.calls != 0 {
		t.Errorf("Speak called %d times while muted", spk.calls)
	}

	o.SetMuted(false)
	if err := o.SubmitText(context.Background(), "cuối"); err != nil {
		t.Fatal(err)
	}
	if spk.calls != 1 {
		t.Errorf("Speak called %d times after unmute, want 1", spk.calls)
	}
}

func TestStartWithoutRecorderFallsBack(t *testing.T) {
	o := New(nil, transcriber.NewFake("", transcriber.Unknown, nil), dialogue.NewFake("x", nil), nil, nil)
	err := o.StartRecording(context.Background())
	if !errors.Is(err, apperr.ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	turns := o.Log().Turns()
	if len(turns) != 1 || !turns[0].Fallback || turns[0].Text != FallbackMessage {
		t.Errorf("log = %v", texts(o.Log()))
	}
	if o.Busy() {
		t.Error("orchestrator still busy")
	}
}
