package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xinchao/apperr"
	"xinchao/audio"
	"xinchao/beep"
	"xinchao/conversation"
	"xinchao/dialogue"
	"xinchao/log"
	"xinchao/recorder"
	"xinchao/session"
	"xinchao/speech"
	"xinchao/transcriber"
)

const recordTail = 200 * time.Millisecond

// errNotStarted marks a press that never opened the microphone, so the
// caller still owns the matching release.
var errNotStarted = errors.New("recording not started")

// pipeline owns the live objects shared by the hotkey loop, the TUI and
// test mode.
type pipeline struct {
	actx       audio.Context
	captureCfg audio.CaptureConfig
	rec        *recorder.Controller
	orch       *session.Orchestrator
	cues       *beep.Cues
	speech     *speech.Playback
	vad        *vadProcessor
	stats      *turnStats

	silenceWarn  time.Duration
	silenceClose time.Duration
	tail         time.Duration

	devMu    sync.Mutex
	capture  audio.CaptureDevice
	selected *audio.DeviceInfo

	// turnDone is signaled after every resolved voice turn.
	turnDone chan struct{}
}

func newPipeline(actx audio.Context, capture audio.CaptureDevice, selected *audio.DeviceInfo, cfg audio.CaptureConfig, stt transcriber.Transcriber, engine dialogue.Engine, synth speech.Synthesizer, player audio.Player) (*pipeline, error) {
	vad, err := newVADProcessor()
	if err != nil {
		return nil, fmt.Errorf("vad init: %w", err)
	}
	p := &pipeline{
		actx:       actx,
		captureCfg: cfg,
		capture:    capture,
		selected:   selected,
		vad:        vad,
		stats:      &turnStats{},
		tail:       recordTail,
		turnDone:   make(chan struct{}, 1),
	}
	p.rec = recorder.New(capture, cfg)
	p.rec.SetObserver(func(chunk []byte) {
		p.vad.Process(chunk)
		tuiSend(AudioLevelMsg{Level: p.vad.Level()})
	})
	p.cues = beep.New(player, int(cfg.SampleRate))
	p.speech = speech.New(synth, player)

	turns := conversation.NewLog()
	turns.OnAppend(func(t conversation.Turn) { tuiSend(TurnMsg{Turn: t}) })
	p.orch = session.New(p.rec, stt, engine, p.speech, turns)
	return p, nil
}

// handleRecording runs one recording from start to stop. The returned
// channel closes when the resulting turn resolves; it is nil when no turn
// was submitted. onCancel runs when silence closes a toggle recording.
func (p *pipeline) handleRecording(stop <-chan struct{}, isToggleFn func() bool, onCancel func()) (<-chan struct{}, error) {
	p.vad.Reset()
	if err := p.orch.StartRecording(context.Background()); err != nil {
		if errors.Is(err, session.ErrTurnInFlight) {
			logToTUI("still answering, try again in a moment")
		} else {
			logToTUI("microphone unavailable: %v", err)
			p.cues.PlayError()
		}
		return nil, fmt.Errorf("%w: %w", errNotStarted, err)
	}
	log.Info("recording_device: " + p.rec.DeviceName())
	tuiSend(RecordingStartMsg{})
	p.cues.PlayStart()

	isToggle := func() bool {
		return isToggleFn != nil && isToggleFn()
	}
	if p.monitor(stop, isToggle) {
		p.orch.CancelRecording()
		if onCancel != nil {
			onCancel()
		}
		tuiSend(RecordingStopMsg{Cancelled: true})
		p.cues.PlayEnd()
		return nil, nil
	}

	log.Info("recording_stop")
	tuiSend(RecordingStopMsg{})
	p.cues.PlayEnd()
	time.Sleep(p.tail)

	total, speechFrames := p.vad.Stats()
	log.Infof("vad: voice=%t %d/%d frames with speech", p.vad.VoiceDetected(), speechFrames, total)

	start := time.Now()
	turnDone, err := p.orch.SubmitVoiceAsync(context.Background())
	if err != nil {
		if errors.Is(err, session.ErrTurnInFlight) {
			logToTUI("still answering, recording discarded")
			p.cues.PlayError()
		}
		return nil, err
	}
	tuiSend(BusyMsg{Busy: true})
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-turnDone
		p.finishTurn("voice", start)
		select {
		case p.turnDone <- struct{}{}:
		default:
		}
	}()
	return done, nil
}

// monitor blocks until stop fires or silence auto-closes a toggle
// recording, and reports whether it auto-closed.
func (p *pipeline) monitor(stop <-chan struct{}, isToggle func() bool) bool {
	mon := newSilenceMonitor(isToggle, p.silenceWarn, p.silenceClose)
	recordStart := time.Now()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return false
		case <-ticker.C:
			tuiSend(RecordingTickMsg{Duration: time.Since(recordStart).Seconds()})
			switch ev := mon.Tick(p.vad.HasSpeechTick()); ev {
			case SilenceWarn:
				log.Info("no_voice_warning")
				tuiSend(NoVoiceWarningMsg{})
				p.cues.PlayError()
			case SilenceWarnClear:
				tuiSend(VoiceClearedMsg{})
			case SilenceRepeat:
				log.Info("silence_during_warning")
				tuiSend(NoVoiceWarningMsg{})
				p.cues.PlayError()
			case SilenceAutoClose:
				log.Info("silence_auto_close")
				tuiSend(SilenceAutoCloseMsg{})
				return true
			}
		}
	}
}

// submitText runs a typed message as a turn and blocks until it resolves.
func (p *pipeline) submitText(text string) error {
	start := time.Now()
	tuiSend(BusyMsg{Busy: true})
	err := p.orch.SubmitText(context.Background(), text)
	if err != nil {
		tuiSend(BusyMsg{Busy: p.orch.Busy()})
		if errors.Is(err, session.ErrTurnInFlight) {
			logToTUI("still answering, try again in a moment")
		}
		return err
	}
	p.finishTurn("text", start)
	return nil
}

func (p *pipeline) finishTurn(mode string, start time.Time) {
	last, ok := p.orch.Log().Last()
	p.stats.Add(turnRecord{
		Mode:     mode,
		Fallback: ok && last.Fallback,
		TotalMs:  float64(time.Since(start).Milliseconds()),
	})
	tuiSend(BusyMsg{Busy: false})
	tuiSend(StatsMsg{Table: p.stats.Table()})
	if ok && last.Fallback {
		p.cues.PlayError()
	}
}

func (p *pipeline) setMuted(muted bool) {
	p.orch.SetMuted(muted)
	log.Infof("speech muted=%t", muted)
	tuiSend(MuteMsg{Muted: muted, Enabled: p.speech.Enabled()})
}

func (p *pipeline) selectedDevice() *audio.DeviceInfo {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	return p.selected
}

// switchDevice reopens capture on dev (nil = system default). The old
// device is kept when the recorder is busy or the new one fails to open.
func (p *pipeline) switchDevice(dev *audio.DeviceInfo) error {
	name := "system default"
	if dev != nil {
		name = dev.Name
	}
	log.Info("device_switch: " + name)

	next, err := p.actx.NewCapture(dev, p.captureCfg)
	if err != nil {
		log.Errorf("capture device reinit error: %v", err)
		return errors.Join(apperr.ErrDeviceUnavailable, err)
	}
	if err := p.rec.SetCapture(next); err != nil {
		next.Close()
		return err
	}

	p.devMu.Lock()
	prev := p.capture
	p.capture, p.selected = next, dev
	p.devMu.Unlock()
	prev.Close()

	tuiSend(DeviceLineMsg{Text: deviceLineText(dev)})
	tuiSend(BluetoothWarningMsg{IsBT: dev != nil && audio.IsBluetooth(dev.Name)})
	return nil
}

func (p *pipeline) switchDeviceByName(name string) {
	dev, err := audio.FindDevice(p.actx, name)
	if err != nil {
		log.Warnf("device lookup: %v", err)
		return
	}
	if err := p.switchDevice(dev); err != nil {
		log.Warnf("device switch: %v", err)
	}
}

func (p *pipeline) close() {
	p.rec.Abort()
	p.speech.Stop()
	p.speech.Wait()
	p.cues.Wait()
	p.devMu.Lock()
	p.capture.Close()
	p.devMu.Unlock()
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix + " (ctrl+g)"
}
