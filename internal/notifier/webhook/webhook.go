// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/krakenbot/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url    string
	client *resty.Client
	now    func() time.Time
}

// New creates a new Webhook notifier. Headers are sent with every request.
func New(url string, headers map[string]string) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("webhook: url is required")
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeaders(headers)

	return &Webhook{
		url:    url,
		client: client,
		now:    time.Now,
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Payload is the JSON body posted for each message
type Payload struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	SentAt string `json:"sent_at"`
}

func (w *Webhook) Notify(ctx context.Context, text string) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(Payload{
			Type:   "message",
			Text:   text,
			SentAt: w.now().UTC().Format(time.RFC3339),
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode())
	}
	return nil
}

var _ notifier.Notifier = (*Webhook)(nil)
