package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"xinchao/apperr"
	"xinchao/encoder"
	"xinchao/log"
	"xinchao/recorder"
	"xinchao/traced"
)

// ErrScoringDisabled is returned by Score when no pronunciation URL is set.
var ErrScoringDisabled = errors.New("pronunciation scoring not configured")

// Assessment is the service's judgement of one attempt at a target phrase.
// Scores are percentages.
type Assessment struct {
	Target           string
	Heard            string
	Score            float64
	WordAccuracy     float64
	PhoneticAccuracy float64
	Feedback         string
	Suggestions      []string
	Metrics          *traced.NetworkMetrics
}

type Scorer interface {
	Score(ctx context.Context, art *recorder.Artifact, target string) (*Assessment, error)
}

// CanScore reports whether a pronunciation endpoint is configured.
func (c *Client) CanScore() bool { return c.scorer != nil }

// Score uploads art with the phrase the learner meant to say. Like
// Transcribe it consumes the artifact and makes exactly one request.
func (c *Client) Score(ctx context.Context, art *recorder.Artifact, target string) (*Assessment, error) {
	if c.scorer == nil {
		return nil, ErrScoringDisabled
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("empty target phrase")
	}
	pcm, err := art.Consume()
	if err != nil {
		return nil, err
	}

	payload, _, err := encoder.Encode(c.format, pcm)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.format, err)
	}
	fields := []field{{"target_text", target}}
	if c.lang != "" {
		fields = append(fields, field{"language", c.lang})
	}
	resp, err := c.upload(ctx, c.scorer, payload, fields)
	if err != nil {
		return nil, fmt.Errorf("pronunciation request: %w", err)
	}

	a, err := parseAssessment(resp)
	if err != nil {
		return nil, err
	}
	if a.Target == "" {
		a.Target = target
	}
	a.Metrics = resp.Metrics

	log.PronunciationMetrics(log.Metrics{
		AudioLengthS: art.AudioDuration().Seconds(),
		UploadSizeKB: float64(len(payload)) / 1024,
		Network:      resp.Network(),
	}, a.Score)
	return a, nil
}

//	{"target_text":"xin chào","transcription":{"text":"xin chao"},
//	 "pronunciation_assessment":{"overall_score":82.5,"word_accuracy":100,
//	  "phonetic_accuracy":65,"feedback":"...","suggestions":["..."]}}
type wireAssessment struct {
	Target        string `json:"target_text"`
	Transcription *struct {
		Text string `json:"text"`
	} `json:"transcription"`
	Assessment *struct {
		OverallScore     *float64 `json:"overall_score"`
		Score            *float64 `json:"score"`
		WordAccuracy     float64  `json:"word_accuracy"`
		PhoneticAccuracy float64  `json:"phonetic_accuracy"`
		Feedback         string   `json:"feedback"`
		Heard            string   `json:"transcribed_text"`
		Suggestions      []string `json:"suggestions"`
	} `json:"pronunciation_assessment"`
	Error string `json:"error"`
}

func parseAssessment(resp *traced.Response) (*Assessment, error) {
	var w wireAssessment
	jsonErr := json.Unmarshal(resp.Body, &w)

	if !resp.OK() {
		msg := strings.TrimSpace(string(resp.Body))
		if jsonErr == nil && w.Error != "" {
			msg = w.Error
		}
		return nil, fmt.Errorf("pronunciation service %d: %s: %w", resp.StatusCode, msg, apperr.ErrServiceUnavailable)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decode assessment: %v: %w", jsonErr, apperr.ErrMalformedResponse)
	}
	if w.Assessment == nil {
		return nil, fmt.Errorf("pronunciation_assessment missing: %w", apperr.ErrMalformedResponse)
	}

	score := w.Assessment.OverallScore
	if score == nil {
		score = w.Assessment.Score
	}
	if score == nil {
		return nil, fmt.Errorf("assessment has no score: %w", apperr.ErrMalformedResponse)
	}
	if *score < 0 || *score > 100 {
		return nil, fmt.Errorf("score %v out of range: %w", *score, apperr.ErrMalformedResponse)
	}

	a := &Assessment{
		Target:           strings.TrimSpace(w.Target),
		Heard:            strings.TrimSpace(w.Assessment.Heard),
		Score:            *score,
		WordAccuracy:     w.Assessment.WordAccuracy,
		PhoneticAccuracy: w.Assessment.PhoneticAccuracy,
		Feedback:         strings.TrimSpace(w.Assessment.Feedback),
		Suggestions:      w.Assessment.Suggestions,
	}
	if a.Heard == "" && w.Transcription != nil {
		a.Heard = strings.TrimSpace(w.Transcription.Text)
	}
	return a, nil
}
