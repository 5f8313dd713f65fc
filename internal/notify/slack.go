// Package notify delivers messages to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Button is an actions block element linking to a URL.
type Button struct {
	Type string `json:"type"`
	Text *Text  `json:"text"`
	URL  string `json:"url"`
}

// Block is a Block Kit layout block. Elements holds Buttons in actions
// blocks and Texts in context blocks.
type Block struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Fields   []Text `json:"fields,omitempty"`
	Elements []any  `json:"elements,omitempty"`
}

// Message is a webhook payload. Text doubles as the fallback when Slack
// rejects the blocks.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks,omitempty"`
}

func mrkdwn(s string) *Text    { return &Text{Type: "mrkdwn", Text: s} }
func plainText(s string) *Text { return &Text{Type: "plain_text", Text: s} }

func section(s string) Block { return Block{Type: "section", Text: mrkdwn(s)} }

// Notifier sends messages somewhere.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a Slack notifier for webhookURL, or a LogNotifier when the URL
// is empty. perSecond paces consecutive posts.
func New(webhookURL string, perSecond float64) Notifier {
	if webhookURL == "" {
		return LogNotifier{}
	}
	return NewSlack(webhookURL, perSecond)
}

// Slack posts to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewSlack creates a webhook client allowing perSecond posts per second.
func NewSlack(webhookURL string, perSecond float64) *Slack {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Send posts msg. When Slack rejects a block payload with a 4xx/5xx status the
// text alone is posted instead.
func (s *Slack) Send(ctx context.Context, msg Message) error {
	status, err := s.post(ctx, msg)
	if err == nil && status < 400 {
		return nil
	}
	if len(msg.Blocks) == 0 {
		if err != nil {
			return err
		}
		return fmt.Errorf("slack responded with status %d", status)
	}

	log.WithFields(log.Fields{"status": status, "error": err}).
		Error("slack rejected block payload, falling back to text")
	status, err = s.post(ctx, Message{Text: msg.Text})
	if err != nil {
		return fmt.Errorf("slack text fallback: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("slack text fallback responded with status %d", status)
	}
	return nil
}

func (s *Slack) post(ctx context.Context, msg Message) (int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encoding slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// LogNotifier writes messages to the log instead of Slack.
type LogNotifier struct{}

// Send logs the fallback text.
func (LogNotifier) Send(_ context.Context, msg Message) error {
	log.Warnf("slack webhook not configured, message:\n%s", msg.Text)
	return nil
}
