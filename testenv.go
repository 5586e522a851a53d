package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"xinchao/audio"
	"xinchao/conversation"
	"xinchao/dialogue"
	"xinchao/hotkey"
	"xinchao/log"
	"xinchao/speech"
	"xinchao/transcriber"
)

// runTestMode drives the pipeline from stdin with a WAV file standing in
// for the microphone. Every appended turn is echoed to stdout as
// "TURN <seq> <speaker> <fallback> <text>".
func runTestMode(wavPath string, cfg audio.CaptureConfig, stt transcriber.Transcriber, engine dialogue.Engine, muted bool) {
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}
	capture, err := fakeCtx.NewCapture(nil, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating capture: %v\n", err)
		os.Exit(1)
	}
	player, _ := fakeCtx.NewPlayer(cfg)
	fakeCapture := capture.(*audio.FakeCapture)

	p, err := newPipeline(fakeCtx, capture, nil, cfg, stt, engine, &speech.FakeSynth{}, player)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	p.cues.Disable()
	p.orch.SetMuted(muted)
	p.orch.Log().OnAppend(func(t conversation.Turn) {
		fmt.Printf("TURN %d %s %t %s\n", t.Seq, t.Speaker, t.Fallback, t.Text)
	})
	active = p

	hk := hotkey.NewFake()

	// Stdin driver in background -- sends hotkey events, handles WAIT/SLEEP/QUIT
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cmd := strings.TrimSpace(scanner.Text())
			switch cmd {
			case "KEYDOWN":
				hk.SimKeydown()
			case "KEYUP":
				hk.SimKeyup()
			case "WAIT":
				<-p.turnDone
			case "WAIT_AUDIO_DONE":
				<-fakeCapture.AudioDone()
			case "MUTE":
				p.setMuted(true)
			case "UNMUTE":
				p.setMuted(false)
			case "QUIT":
				log.SessionEnd(p.orch.Log().Len())
				p.close()
				os.Exit(0)
			default:
				switch {
				case strings.HasPrefix(cmd, "SAY "):
					if err := p.submitText(cmd[4:]); err != nil {
						fmt.Printf("REJECTED %v\n", err)
					}
				case strings.HasPrefix(cmd, "SLEEP "):
					if ms, err := strconv.Atoi(cmd[6:]); err == nil {
						time.Sleep(time.Duration(ms) * time.Millisecond)
					}
				}
			}
		}
		os.Exit(0)
	}()

	// Event loop -- same pattern as run()
	for {
		<-hk.Keydown()
		_, err := p.handleRecording(hk.Keyup(), nil, nil)
		if err != nil {
			log.Errorf("recording error: %v", err)
			fmt.Printf("REJECTED %v\n", err)
			if errors.Is(err, errNotStarted) {
				<-hk.Keyup()
			}
		}
	}
}
