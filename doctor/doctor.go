// Package doctor runs interactive checks of the devices and services a
// conversation needs.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"xinchao/audio"
	"xinchao/config"
	"xinchao/dialogue"
	"xinchao/encoder"
	"xinchao/hotkey"
	"xinchao/log"
	"xinchao/recorder"
	"xinchao/shutdown"
	"xinchao/speech"
	"xinchao/transcriber"
)

const (
	checkCount   = 6
	recordFor    = 3 * time.Second
	samplePhrase = "xin chào"
	speakWindow  = 10 * time.Second
)

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config, binding hotkey.Binding) int {
	resetTerminal()
	stop := shutdown.OnSignal(func(os.Signal) {
		resetTerminal()
		fmt.Println("\nInterrupted")
		os.Exit(1)
	})
	defer stop()

	fmt.Println("xinchao doctor - interactive system diagnostics")
	fmt.Println("===============================================")

	allPass := checkConfig(os.Stdout, cfg)
	if allPass && !checkHotkey(binding) {
		allPass = false
	}

	var art *recorder.Artifact
	if allPass {
		art = checkMicrophone()
		allPass = art != nil
	}

	var reply string
	if allPass {
		// The same take is both transcribed and scored.
		pcm, _ := art.Consume()
		art = recorder.NewArtifact(pcm, art.SampleRate)
		take := recorder.NewArtifact(pcm, art.SampleRate)

		stt, err := transcriber.New(transcriber.Config{
			URL:      cfg.TranscribeURL,
			ScoreURL: cfg.ScoreURL,
			Format:   cfg.AudioFormat,
			Lang:     cfg.Language,
			Timeout:  cfg.RequestTimeout,
		})
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			return 1
		}
		engine, err := dialogue.New(dialogue.Config{URL: cfg.DialogueURL, Sender: cfg.Sender, Timeout: cfg.RequestTimeout})
		if err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			return 1
		}
		var ok bool
		reply, ok = checkServices(os.Stdout, stt, engine, art)
		if ok {
			ok = confirm("Does the transcript match what you said? [y/n]: ")
		}
		if ok {
			if stt.CanScore() {
				ok = checkPronunciation(os.Stdout, stt, take)
			} else {
				step(os.Stdout, 5, "Pronunciation scoring")
				fmt.Println("  SKIP: PRONUNCIATION_URL is off")
			}
		}
		allPass = ok
	}

	if allPass && !checkSpeech(cfg, reply) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func step(w io.Writer, n int, title string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "[%d/%d] %s\n", n, checkCount, title)
}

func checkConfig(w io.Writer, cfg config.Config) bool {
	step(w, 1, "Configuration")
	fmt.Fprintf(w, "  transcription: %s (%s, lang %s)\n", cfg.TranscribeURL, cfg.AudioFormat, cfg.Language)
	fmt.Fprintf(w, "  dialogue:      %s\n", cfg.DialogueURL)
	score := cfg.ScoreURL
	if score == "" {
		score = "(off)"
	}
	fmt.Fprintf(w, "  pronunciation: %s\n", score)
	fmt.Fprintf(w, "  timeout:       %s\n", cfg.RequestTimeout)
	logs := log.Dir()
	if logs == "" {
		logs = "(not initialized)"
	}
	fmt.Fprintf(w, "  logs:          %s\n", logs)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintln(w, "  PASS: configuration valid")
	return true
}

func checkHotkey(binding hotkey.Binding) bool {
	step(os.Stdout, 2, "Hotkey detection")
	info, err := hotkey.Diagnose()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  %s\n", info)
	fmt.Printf("Press %s...\n", binding)

	hk := hotkey.New(binding)
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		// Wait for keyup to avoid triggering next step
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// Reset terminal after hotkey - it may leave terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

// checkMicrophone records a short sample through the same recorder the app
// uses. It returns nil on failure.
func checkMicrophone() *recorder.Artifact {
	step(os.Stdout, 3, "Microphone")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return nil
	}
	defer ctx.Close()

	device, err := audio.SelectDevice(ctx, "")
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return nil
	}
	name := "system default"
	if device != nil {
		name = device.Name
	}
	fmt.Printf("Using device: %s\n", name)
	resetTerminal()

	cfg := audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels}
	capture, err := ctx.NewCapture(device, cfg)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return nil
	}
	defer capture.Close()

	fmt.Print("Press Enter and say \"xin chào\"...")
	bufio.NewReader(os.Stdin).ReadString('\n')

	rec := recorder.New(capture, cfg)
	if err := rec.Start(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return nil
	}
	fmt.Print("  Recording")
	for range int(recordFor / (500 * time.Millisecond)) {
		time.Sleep(500 * time.Millisecond)
		fmt.Print(".")
	}
	art, _ := rec.Stop()
	fmt.Println(" done")

	if art.Empty() {
		fmt.Println("  FAIL: no audio captured")
		return nil
	}
	fmt.Printf("  PASS: recorded %.1f KB in %d chunks\n", float64(art.Len())/1024, art.Chunks)
	return art
}

// checkServices sends art to the transcription service and the transcript
// to the dialogue service. A silent recording falls back to a fixed phrase so
// the dialogue check still runs.
func checkServices(w io.Writer, stt transcriber.Transcriber, engine dialogue.Engine, art *recorder.Artifact) (string, bool) {
	step(w, 4, "Transcription and dialogue services")

	ctx := context.Background()
	res, err := stt.Transcribe(ctx, art)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: transcription: %v\n", err)
		return "", false
	}
	text := strings.TrimSpace(res.Transcript)
	if text == "" {
		fmt.Fprintln(w, "  transcript: (no speech detected)")
		text = samplePhrase
	} else {
		line := fmt.Sprintf("  transcript: %s [accent %s", text, res.Accent)
		if res.Confidence != nil {
			line += fmt.Sprintf(", confidence %.2f", *res.Confidence)
		}
		fmt.Fprintln(w, line+"]")
	}

	reply, err := engine.Reply(ctx, text)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: dialogue: %v\n", err)
		return "", false
	}
	if strings.TrimSpace(reply.Text) == "" {
		fmt.Fprintln(w, "  FAIL: dialogue returned an empty reply")
		return "", false
	}
	fmt.Fprintf(w, "  reply: %s\n", reply.Text)
	fmt.Fprintln(w, "  PASS: both services answered")
	return reply.Text, true
}

// checkPronunciation scores the microphone take against the phrase the
// learner was asked to say.
func checkPronunciation(w io.Writer, scorer transcriber.Scorer, art *recorder.Artifact) bool {
	step(w, 5, "Pronunciation scoring")
	a, err := scorer.Score(context.Background(), art, samplePhrase)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: pronunciation: %v\n", err)
		return false
	}
	fmt.Fprintf(w, "  target: %s, heard: %s\n", a.Target, a.Heard)
	fmt.Fprintf(w, "  score: %.1f/100 (words %.0f%%, sounds %.0f%%)\n", a.Score, a.WordAccuracy, a.PhoneticAccuracy)
	if a.Feedback != "" {
		fmt.Fprintf(w, "  feedback: %s\n", a.Feedback)
	}
	for _, s := range a.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
	fmt.Fprintln(w, "  PASS: pronunciation service answered")
	return true
}

func checkSpeech(cfg config.Config, reply string) bool {
	step(os.Stdout, 6, "Spoken replies")
	if !cfg.SpeechEnabled() {
		fmt.Println("  SKIP: DEEPGRAM_API_KEY not set, replies will be text only")
		return true
	}

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()
	player, err := ctx.NewPlayer(audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels})
	if err != nil {
		fmt.Printf("  FAIL: no playback device: %v\n", err)
		return false
	}

	pb := speech.New(speech.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramVoice, encoder.SampleRate), player)
	pb.Speak(reply)
	done := make(chan struct{})
	go func() {
		pb.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(speakWindow):
		pb.Stop()
	}
	return confirm("Did you hear the reply? [y/n]: ")
}

func confirm(prompt string) bool {
	// Fresh reader to clear any buffered input
	r := bufio.NewReader(os.Stdin)
	fmt.Print(prompt)
	answer, _ := r.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	if answer == "y" || answer == "yes" {
		fmt.Println("  PASS: verified by user")
		return true
	}
	fmt.Println("  FAIL: not confirmed")
	return false
}
