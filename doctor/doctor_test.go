package doctor

import (
	"bytes"
	"strings"
	"testing"

	"xinchao/apperr"
	"xinchao/config"
	"xinchao/dialogue"
	"xinchao/log"
	"xinchao/recorder"
	"xinchao/transcriber"
)

func artifact() *recorder.Artifact {
	return recorder.NewArtifact(make([]byte, 3200), 16000)
}

func TestCheckServices(t *testing.T) {
	var out bytes.Buffer
	stt := transcriber.NewFake("xin chào", transcriber.South, nil)
	engine := dialogue.NewFake("Chào bạn!", nil)

	reply, ok := checkServices(&out, stt, engine, artifact())
	if !ok || reply != "Chào bạn!" {
		t.Fatalf("reply=%q ok=%v\n%s", reply, ok, out.String())
	}
	if got := engine.Calls(); len(got) != 1 || got[0] != "xin chào" {
		t.Errorf("dialogue calls = %q", got)
	}
	if !strings.Contains(out.String(), "accent south") {
		t.Errorf("missing accent in output:\n%s", out.String())
	}
}

func TestCheckServicesSilentRecording(t *testing.T) {
	var out bytes.Buffer
	stt := transcriber.NewFake("", transcriber.Unknown, nil)
	engine := dialogue.NewFake("Chào bạn!", nil)

	if _, ok := checkServices(&out, stt, engine, artifact()); !ok {
		t.Fatalf("silent recording should still reach dialogue:\n%s", out.String())
	}
	if got := engine.Calls(); len(got) != 1 || got[0] != samplePhrase {
		t.Errorf("dialogue calls = %q, want the sample phrase", got)
	}
}

func TestCheckServicesFailures(t *testing.T) {
	for _, tt := range []struct {
		name     string
		sttErr   error
		reply    string
		replyErr error
		want     string
	}{
		{"transcription down", apperr.ErrServiceUnavailable, "ok", nil, "FAIL: transcription"},
		{"dialogue timeout", nil, "ok", apperr.ErrTimeout, "FAIL: dialogue"},
		{"empty reply", nil, "  ", nil, "empty reply"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			stt := transcriber.NewFake("xin chào", transcriber.North, tt.sttErr)
			engine := dialogue.NewFake(tt.reply, tt.replyErr)
			if _, ok := checkServices(&out, stt, engine, artifact()); ok {
				t.Fatal("expected failure")
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out.String())
			}
		})
	}
}

func TestCheckConfig(t *testing.T) {
	good := config.Config{
		TranscribeURL:  config.DefaultTranscribeURL,
		DialogueURL:    config.DefaultDialogueURL,
		RequestTimeout: config.DefaultTimeout,
		Language:       config.DefaultLanguage,
		AudioFormat:    config.DefaultFormat,
	}
	var out bytes.Buffer
	if !checkConfig(&out, good) {
		t.Errorf("valid config failed:\n%s", out.String())
	}

	bad := good
	bad.DialogueURL = "ftp://nowhere"
	out.Reset()
	if checkConfig(&out, bad) {
		t.Error("invalid config passed")
	}
	if !strings.Contains(out.String(), "DIALOGUE_URL") {
		t.Errorf("missing field name:\n%s", out.String())
	}
}

func TestCheckConfigShowsLogDir(t *testing.T) {
	prev := log.Dir()
	t.Cleanup(func() { log.SetDir(prev) })
	cfg := config.Config{
		TranscribeURL:  config.DefaultTranscribeURL,
		DialogueURL:    config.DefaultDialogueURL,
		RequestTimeout: config.DefaultTimeout,
		AudioFormat:    config.DefaultFormat,
	}

	log.SetDir("")
	var out bytes.Buffer
	checkConfig(&out, cfg)
	if !strings.Contains(out.String(), "logs:          (not initialized)") {
		t.Errorf("missing uninitialized log line:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "pronunciation: (off)") {
		t.Errorf("scoring should show as off:\n%s", out.String())
	}

	dir := t.TempDir()
	log.SetDir(dir)
	cfg.ScoreURL = config.DefaultScoreURL
	out.Reset()
	checkConfig(&out, cfg)
	if !strings.Contains(out.String(), "logs:          "+dir) {
		t.Errorf("log dir not shown:\n%s", out.String())
	}
	if !strings.Contains(out.String(), config.DefaultScoreURL) {
		t.Errorf("pronunciation url not shown:\n%s", out.String())
	}
}

func TestCheckPronunciation(t *testing.T) {
	var out bytes.Buffer
	scorer := transcriber.NewFakeScorer(87.5, nil)
	if !checkPronunciation(&out, scorer, artifact()) {
		t.Fatalf("expected pass:\n%s", out.String())
	}
	if got := scorer.Targets(); len(got) != 1 || got[0] != samplePhrase {
		t.Errorf("targets = %q", got)
	}
	if !strings.Contains(out.String(), "score: 87.5/100") {
		t.Errorf("missing score:\n%s", out.String())
	}

	out.Reset()
	if checkPronunciation(&out, transcriber.NewFakeScorer(0, apperr.ErrTimeout), artifact()) {
		t.Error("failing scorer passed")
	}
	if !strings.Contains(out.String(), "FAIL: pronunciation") {
		t.Errorf("missing failure line:\n%s", out.String())
	}
}
