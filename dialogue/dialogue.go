// Package dialogue talks to the chat backend: one utterance in, one reply out.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"xinchao/apperr"
	"xinchao/log"
	"xinchao/traced"
)

// Reply is the normalized answer. Corrections and CulturalContext are only
// set by tutoring backends.
type Reply struct {
	Text            string
	Corrections     []string
	CulturalContext string
	Metrics         *traced.NetworkMetrics
}

type Engine interface {
	Reply(ctx context.Context, utterance string) (*Reply, error)
}

type Config struct {
	URL     string
	Sender  string
	Timeout time.Duration
}

type Client struct {
	client  *traced.Client
	sender  string
	timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("dialogue URL is empty")
	}
	if cfg.Sender == "" {
		cfg.Sender = "xinchao"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		client:  traced.NewClient(cfg.URL, cfg.Timeout),
		sender:  cfg.Sender,
		timeout: cfg.Timeout,
	}, nil
}

func (c *Client) Warm() { go c.client.Warm() }

type request struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func (c *Client) Reply(ctx context.Context, utterance string) (*Reply, error) {
	payload, err := json.Marshal(request{Sender: c.sender, Message: utterance})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.client.URL(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dialogue request: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("dialogue service %d: %s: %w", resp.StatusCode,
			strings.TrimSpace(string(resp.Body)), apperr.ErrServiceUnavailable)
	}

	reply, err := Normalize(resp.Body)
	if err != nil {
		return nil, err
	}
	reply.Metrics = resp.Metrics

	log.DialogueMetrics(log.Metrics{Network: resp.Network()}, len(reply.Text), len(reply.Corrections))
	return reply, nil
}

type objectReply struct {
	Response        *string  `json:"response"`
	Corrections     []string `json:"corrections"`
	CulturalContext string   `json:"cultural_context"`
}

type message struct {
	Text *string `json:"text"`
}

// Normalize accepts either a {"response": ...} object or an ordered array of
// {"text": ...} messages. Array entries without text are skipped and the rest
// are joined with newlines.
func Normalize(body []byte) (*Reply, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty dialogue body: %w", apperr.ErrMalformedResponse)
	}

	switch trimmed[0] {
	case '{':
		var obj objectReply
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode dialogue object: %v: %w", err, apperr.ErrMalformedResponse)
		}
		if obj.Response == nil {
			return nil, fmt.Errorf("dialogue object without response: %w", apperr.ErrMalformedResponse)
		}
		return &Reply{
			Text:            *obj.Response,
			Corrections:     obj.Corrections,
			CulturalContext: obj.CulturalContext,
		}, nil

	case '[':
		var msgs []message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("decode dialogue messages: %v: %w", err, apperr.ErrMalformedResponse)
		}
		var parts []string
		for _, m := range msgs {
			if m.Text != nil && *m.Text != "" {
				parts = append(parts, *m.Text)
			}
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("no text in %d dialogue messages: %w", len(msgs), apperr.ErrMalformedResponse)
		}
		return &Reply{Text: strings.Join(parts, "\n")}, nil
	}
	return nil, fmt.Errorf("unexpected dialogue body: %w", apperr.ErrMalformedResponse)
}
