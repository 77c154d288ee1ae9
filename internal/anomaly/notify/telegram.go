package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Channel delivers notification text. Implementations must be safe to call
// repeatedly with the same content; the ledger owns deduplication.
type Channel interface {
	Send(ctx context.Context, content string) error
}

type telegramPayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// TelegramChannel sends messages through the Telegram bot API.
type TelegramChannel struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// TelegramOption configures the channel.
type TelegramOption func(*TelegramChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) TelegramOption {
	return func(ch *TelegramChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) TelegramOption {
	return func(ch *TelegramChannel) {
		if baseURL != "" {
			ch.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewTelegramChannel constructs a Telegram channel.
func NewTelegramChannel(token, chatID string, opts ...TelegramOption) (*TelegramChannel, error) {
	if token == "" {
		return nil, errors.New("telegram channel: empty bot token")
	}
	if chatID == "" {
		return nil, errors.New("telegram channel: empty chat id")
	}
	channel := &TelegramChannel{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts the content as an HTML-mode bot message.
func (c *TelegramChannel) Send(ctx context.Context, content string) error {
	if c == nil || c.token == "" {
		return errors.New("telegram channel: not configured")
	}
	payload := telegramPayload{
		ChatID:    c.chatID,
		Text:      content,
		ParseMode: "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.baseURL + "/bot" + c.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
