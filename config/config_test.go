package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var keys = []string{
	"TRANSCRIBE_URL", "DIALOGUE_URL", "PRONUNCIATION_URL", "REQUEST_TIMEOUT", "LANGUAGE", "AUDIO_FORMAT",
	"DEEPGRAM_API_KEY", "DEEPGRAM_VOICE", "XINCHAO_MUTE", "XINCHAO_SENDER",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TranscribeURL != DefaultTranscribeURL || cfg.DialogueURL != DefaultDialogueURL {
		t.Errorf("urls = %q %q", cfg.TranscribeURL, cfg.DialogueURL)
	}
	if cfg.ScoreURL != DefaultScoreURL {
		t.Errorf("pronunciation url = %q", cfg.ScoreURL)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("timeout = %s", cfg.RequestTimeout)
	}
	if cfg.Language != "vi" || cfg.AudioFormat != "wav" || cfg.DeepgramVoice != DefaultVoice {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Muted || cfg.SpeechEnabled() {
		t.Error("expected unmuted with speech disabled")
	}
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DIALOGUE_URL", "https://tutor.example.com/api/chat")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("AUDIO_FORMAT", "FLAC")
	t.Setenv("XINCHAO_MUTE", "true")
	t.Setenv("DEEPGRAM_API_KEY", "k")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DialogueURL != "https://tutor.example.com/api/chat" || cfg.RequestTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AudioFormat != "flac" || !cfg.Muted || !cfg.SpeechEnabled() {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("LANGUAGE=en\nXINCHAO_SENDER=learner-7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LANGUAGE", "")
	os.Unsetenv("LANGUAGE")
	t.Setenv("XINCHAO_SENDER", "from-env")

	cfg, err := LoadFiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Language != "en" {
		t.Errorf("language = %q, want en from file", cfg.Language)
	}
	if cfg.Sender != "from-env" {
		t.Errorf("sender = %q, environment should win", cfg.Sender)
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, tt := range []struct {
		key, value, want string
	}{
		{"REQUEST_TIMEOUT", "soon", "REQUEST_TIMEOUT"},
		{"REQUEST_TIMEOUT", "-1s", "REQUEST_TIMEOUT"},
		{"XINCHAO_MUTE", "maybe", "XINCHAO_MUTE"},
		{"AUDIO_FORMAT", "mp3", "AUDIO_FORMAT"},
		{"TRANSCRIBE_URL", "localhost:5001", "TRANSCRIBE_URL"},
		{"DIALOGUE_URL", "ftp://x/y", "DIALOGUE_URL"},
		{"PRONUNCIATION_URL", "/pronunciation", "PRONUNCIATION_URL"},
	} {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestScoringCanBeTurnedOff(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRONUNCIATION_URL", "off")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ScoreURL != "" {
		t.Errorf("pronunciation url = %q, want empty", cfg.ScoreURL)
	}
}
