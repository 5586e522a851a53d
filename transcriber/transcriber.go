// Package transcriber uploads a finished recording to the speech service and
// returns the transcript with its regional accent classification.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"runtime"
	"strings"
	"time"

	"xinchao/apperr"
	"xinchao/encoder"
	"xinchao/log"
	"xinchao/recorder"
	"xinchao/traced"
)

type Accent string

const (
	North   Accent = "north"
	Central Accent = "central"
	South   Accent = "south"
	Unknown Accent = "unknown"
)

// ParseAccent maps a service label onto Accent. Anything unrecognized,
// including the service's "standard", is Unknown.
func ParseAccent(s string) Accent {
	switch a := Accent(strings.ToLower(strings.TrimSpace(s))); a {
	case North, Central, South:
		return a
	}
	return Unknown
}

type Result struct {
	Transcript string
	Accent     Accent
	// Confidence is nil when the service did not report one.
	Confidence *float64
	Metrics    *traced.NetworkMetrics
	Stats      Stats
}

type Stats struct {
	AudioLengthS  float64
	RawSizeKB     float64
	UploadSizeKB  float64
	EncodeTimeMs  float64
	MemoryAllocMB float64
	MemoryPeakMB  float64
}

func (s *Stats) captureMemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.MemoryAllocMB = float64(m.Alloc) / 1024 / 1024
	s.MemoryPeakMB = float64(m.TotalAlloc) / 1024 / 1024
}

type Transcriber interface {
	Transcribe(ctx context.Context, art *recorder.Artifact) (*Result, error)
}

type Config struct {
	URL      string
	ScoreURL string // pronunciation endpoint; scoring is disabled when empty
	Format   string // "wav"|"flac"
	Lang     string
	Timeout  time.Duration
}

type Client struct {
	client  *traced.Client
	scorer  *traced.Client
	format  string
	lang    string
	timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("transcription URL is empty")
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	if _, err := encoder.New(cfg.Format); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		client:  traced.NewClient(cfg.URL, cfg.Timeout),
		format:  cfg.Format,
		lang:    cfg.Lang,
		timeout: cfg.Timeout,
	}
	if cfg.ScoreURL != "" {
		c.scorer = traced.NewClient(cfg.ScoreURL, cfg.Timeout)
	}
	return c, nil
}

func (c *Client) Format() string { return c.format }

// Warm opens a connection so the first turn skips the handshake.
func (c *Client) Warm() { go c.client.Warm() }

// Transcribe makes exactly one request for art. The artifact is consumed.
func (c *Client) Transcribe(ctx context.Context, art *recorder.Artifact) (*Result, error) {
	pcm, err := art.Consume()
	if err != nil {
		return nil, err
	}

	var stats Stats
	stats.AudioLengthS = art.AudioDuration().Seconds()
	stats.RawSizeKB = float64(len(pcm)) / 1024

	payload, enc, err := encoder.Encode(c.format, pcm)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.format, err)
	}
	stats.UploadSizeKB = float64(len(payload)) / 1024
	stats.EncodeTimeMs = float64(enc.EncodeTime().Microseconds()) / 1000

	fields := []field{{"detect_accent", "true"}}
	if c.lang != "" {
		fields = append([]field{{"language", c.lang}}, fields...)
	}
	resp, err := c.upload(ctx, c.client, payload, fields)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	res, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}
	res.Metrics = resp.Metrics
	stats.captureMemStats()
	res.Stats = stats

	conf := 0.0
	if res.Confidence != nil {
		conf = *res.Confidence
	}
	log.TranscriptionMetrics(log.Metrics{
		AudioLengthS:  stats.AudioLengthS,
		RawSizeKB:     stats.RawSizeKB,
		UploadSizeKB:  stats.UploadSizeKB,
		EncodeTimeMs:  stats.EncodeTimeMs,
		MemoryAllocMB: stats.MemoryAllocMB,
		MemoryPeakMB:  stats.MemoryPeakMB,
		Network:       resp.Network(),
	}, c.format, string(res.Accent), conf)

	return res, nil
}

type field struct{ name, value string }

// upload posts payload as the "audio" part followed by fields.
func (c *Client) upload(ctx context.Context, to *traced.Client, payload []byte, fields []field) (*traced.Response, error) {
	body, contentType, err := c.form(payload, fields)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, to.URL(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return to.Do(req)
}

func (c *Client) form(payload []byte, fields []field) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	contentType, err := c.writeForm(&body, payload, fields)
	if err != nil {
		return nil, "", err
	}
	return &body, contentType, nil
}

func (c *Client) writeForm(w io.Writer, payload []byte, fields []field) (string, error) {
	writer := multipart.NewWriter(w)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="recording.%s"`, c.format))
	h.Set("Content-Type", encoder.ContentType(c.format))
	part, err := writer.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(payload); err != nil {
		return "", err
	}

	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return "", fmt.Errorf("form field %s: %w", f.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.FormDataContentType(), nil
}

// wireResponse covers both service shapes:
//
//	{"success":true,"transcription":"...","accent_region":"north","confidence":0.92}
//	{"text":"...","confidence":0.9,"accent":{"region":"south","confidence":0.7}}
type wireResponse struct {
	Success       *bool    `json:"success"`
	Transcription *string  `json:"transcription"`
	AccentRegion  string   `json:"accent_region"`
	Confidence    *float64 `json:"confidence"`
	Error         string   `json:"error"`

	Text   *string `json:"text"`
	Accent *struct {
		Region     string   `json:"region"`
		Confidence *float64 `json:"confidence"`
	} `json:"accent"`
}

func parseResponse(resp *traced.Response) (*Result, error) {
	var w wireResponse
	jsonErr := json.Unmarshal(resp.Body, &w)

	if !resp.OK() {
		msg := strings.TrimSpace(string(resp.Body))
		if jsonErr == nil && w.Error != "" {
			msg = w.Error
		}
		return nil, fmt.Errorf("transcription service %d: %s: %w", resp.StatusCode, msg, apperr.ErrServiceUnavailable)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decode transcription: %v: %w", jsonErr, apperr.ErrMalformedResponse)
	}

	res := &Result{Accent: Unknown}
	switch {
	case w.Success != nil:
		if !*w.Success {
			msg := w.Error
			if msg == "" {
				msg = "unspecified error"
			}
			return nil, fmt.Errorf("transcription failed: %s: %w", msg, apperr.ErrServiceUnavailable)
		}
		if w.Transcription == nil {
			return nil, fmt.Errorf("transcription missing: %w", apperr.ErrMalformedResponse)
		}
		res.Transcript = *w.Transcription
		res.Accent = ParseAccent(w.AccentRegion)
	case w.Text != nil:
		res.Transcript = *w.Text
		if w.Accent != nil {
			res.Accent = ParseAccent(w.Accent.Region)
		}
	default:
		return nil, fmt.Errorf("neither success nor text in response: %w", apperr.ErrMalformedResponse)
	}

	if w.Confidence != nil {
		if *w.Confidence < 0 || *w.Confidence > 1 {
			return nil, fmt.Errorf("confidence %v out of range: %w", *w.Confidence, apperr.ErrMalformedResponse)
		}
		res.Confidence = w.Confidence
	}
	res.Transcript = strings.TrimSpace(res.Transcript)
	return res, nil
}
