// Package config reads service endpoints and playback settings from the
// environment, with a .env file in the working directory taken as defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"xinchao/encoder"
)

const (
	DefaultTranscribeURL = "http://localhost:5001/transcribe"
	DefaultDialogueURL   = "http://localhost:8000/api/chat"
	DefaultScoreURL      = "http://localhost:5001/pronunciation"
	DefaultTimeout       = 15 * time.Second
	DefaultLanguage      = "vi"
	DefaultFormat        = "wav"
	DefaultVoice         = "aura-2-thalia-en"
)

type Config struct {
	TranscribeURL  string
	DialogueURL    string
	ScoreURL       string
	RequestTimeout time.Duration
	Language       string
	AudioFormat    string
	DeepgramKey    string
	DeepgramVoice  string
	Muted          bool
	Sender         string
}

// Load reads .env (if present) then the environment. Variables already set
// in the environment win over .env.
func Load() (Config, error) {
	return LoadFiles()
}

// LoadFiles is Load with explicit .env paths. With no paths it reads ".env".
func LoadFiles(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		TranscribeURL: getEnv("TRANSCRIBE_URL", DefaultTranscribeURL),
		DialogueURL:   getEnv("DIALOGUE_URL", DefaultDialogueURL),
		ScoreURL:      getEnv("PRONUNCIATION_URL", DefaultScoreURL),
		Language:      getEnv("LANGUAGE", DefaultLanguage),
		AudioFormat:   strings.ToLower(getEnv("AUDIO_FORMAT", DefaultFormat)),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramVoice: getEnv("DEEPGRAM_VOICE", DefaultVoice),
		Sender:        os.Getenv("XINCHAO_SENDER"),
	}

	if strings.EqualFold(cfg.ScoreURL, "off") {
		cfg.ScoreURL = ""
	}

	cfg.RequestTimeout = DefaultTimeout
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if v := os.Getenv("XINCHAO_MUTE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("XINCHAO_MUTE: %w", err)
		}
		cfg.Muted = b
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	for name, raw := range map[string]string{"TRANSCRIBE_URL": c.TranscribeURL, "DIALOGUE_URL": c.DialogueURL, "PRONUNCIATION_URL": c.ScoreURL} {
		if name == "PRONUNCIATION_URL" && raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s: invalid URL %q", name, raw)
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if !slices.Contains(encoder.Formats, c.AudioFormat) {
		return fmt.Errorf("AUDIO_FORMAT %q: want one of %s", c.AudioFormat, strings.Join(encoder.Formats, ", "))
	}
	return nil
}

// SpeechEnabled reports whether a TTS key is configured.
func (c Config) SpeechEnabled() bool { return c.DeepgramKey != "" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
