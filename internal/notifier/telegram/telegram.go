// Package telegram delivers messages through the Telegram Bot API
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/krakenbot/internal/notifier"
)

const apiURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	client   *resty.Client
}

// Option configures a Telegram notifier
type Option func(*Telegram)

// WithBaseURL points the client at another API host (for testing)
func WithBaseURL(url string) Option {
	return func(t *Telegram) {
		t.client.SetBaseURL(url)
	}
}

// New creates a new Telegram notifier
func New(botToken, chatID string, opts ...Option) (*Telegram, error) {
	if botToken == "" {
		return nil, errors.New("telegram: bot_token is required")
	}
	if chatID == "" {
		return nil, errors.New("telegram: chat_id is required")
	}

	client := resty.New()
	client.SetBaseURL(apiURL)
	client.SetTimeout(30 * time.Second)

	t := &Telegram{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends text as a plain message
func (t *Telegram) Notify(ctx context.Context, text string) error {
	var result apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id": t.chatID,
			"text":    text,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.botToken))
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}

	if resp.StatusCode() != http.StatusOK || !result.OK {
		return fmt.Errorf("telegram: API error (status %d): %s", resp.StatusCode(), result.Description)
	}
	return nil
}

var _ notifier.Notifier = (*Telegram)(nil)
